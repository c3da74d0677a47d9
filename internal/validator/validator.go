package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/signer"
)

// Request is the input the gateway hands the validator for every
// intercepted agent call (§4.2 contract + §6 header set).
type Request struct {
	PrincipalClaim string // the claimed caller identity, from the outer transport token
	MandateToken   *mandate.Mandate
	Action         string
	Resource       string
	Nonce          string
	Timestamp      int64 // seconds since epoch, from X-Caracal-Timestamp
}

// Result is the outcome handed back to the gateway and folded into an
// authority event.
type Result struct {
	Decision        Decision
	Reason          DenialReason
	DelegationChain []string // ordered ancestor mandate ids, root first
}

// ReplayCache is the (nonce, timestamp) dedup surface of §4.2 step 3.
type ReplayCache interface {
	// CheckAndRemember returns true if (nonce, timestamp) was already
	// seen within the replay window, atomically remembering it if not.
	CheckAndRemember(ctx context.Context, nonce string, timestamp int64) (seen bool, err error)
}

// RevocationChecker is §4.1's "revoked in chain" lookup.
type RevocationChecker interface {
	RevokedInChain(mandateID string) (revoked bool, revokedAncestor string)
}

// MandateResolver resolves a parent mandate id to its full record, needed
// for the chain-walk step (§4.2 step 6).
type MandateResolver interface {
	Get(mandateID string) (*mandate.Mandate, error)
}

// Config holds the validator's tunable bounds (§4.2, §9: "expose as
// configurable, do not bake in a value").
type Config struct {
	ClockSkew    time.Duration // default ±30s
	ReplayWindow time.Duration // default 5m
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{ClockSkew: 30 * time.Second, ReplayWindow: 5 * time.Minute}
}

// Validator runs the strict six-step sequence of §4.2. It holds no
// per-request mutable state — safe to call concurrently, bounded only by
// the caller's own worker pool (§4.2 performance/concurrency notes).
type Validator struct {
	Signer     signer.Signer
	Policies   policy.Store
	Replay     ReplayCache
	Revocation RevocationChecker
	Mandates   MandateResolver
	Config     Config
	Now        func() time.Time
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Validate runs the state machine of §4.2. Any unexpected internal error
// is converted to deny(internal_error) — the fail-closed default (§7).
// Validate never panics: callers may call it directly in a request
// goroutine without an additional recover wrapper, but one is included
// here anyway as the last line of defense fail-closed requires.
func (v *Validator) Validate(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Decision: DecisionDeny, Reason: ReasonInternalError}
			err = fmt.Errorf("validator: panic recovered: %v", r)
		}
	}()

	if req.MandateToken == nil {
		return Result{Decision: DecisionDeny, Reason: ReasonUnknownMandate}, nil
	}
	m := req.MandateToken

	// Step 1: signature.
	if verr := mandate.Verify(ctx, m, v.Signer); verr != nil {
		return Result{Decision: DecisionDeny, Reason: ReasonSignatureInvalid}, nil
	}

	// Step 2: temporal, with configurable clock-skew allowance.
	now := v.now().Unix()
	skew := int64(v.Config.ClockSkew / time.Second)
	if now < m.ValidFrom-skew {
		return Result{Decision: DecisionDeny, Reason: ReasonTemporalNotYetValid}, nil
	}
	if now > m.ValidUntil+skew {
		return Result{Decision: DecisionDeny, Reason: ReasonTemporalExpired}, nil
	}
	if req.Timestamp != 0 {
		delta := req.Timestamp - now
		if delta > skew || delta < -skew {
			return Result{Decision: DecisionDeny, Reason: ReasonClockSkew}, nil
		}
	}

	// Step 3: replay.
	if v.Replay != nil {
		seen, rerr := v.Replay.CheckAndRemember(ctx, req.Nonce, req.Timestamp)
		if rerr != nil {
			return Result{Decision: DecisionDeny, Reason: ReasonInternalError}, fmt.Errorf("validator: replay check: %w", rerr)
		}
		if seen {
			return Result{Decision: DecisionDeny, Reason: ReasonReplayDetected}, nil
		}
	}

	// Step 4: revocation.
	if v.Revocation != nil {
		if revoked, _ := v.Revocation.RevokedInChain(m.ID); revoked {
			return Result{Decision: DecisionDeny, Reason: ReasonRevoked}, nil
		}
	}

	// Step 5: scope.
	actionOK := false
	for _, a := range m.ActionScope {
		ok, merr := policy.MatchesResource(a, req.Action)
		if merr != nil {
			return Result{Decision: DecisionDeny, Reason: ReasonInternalError}, fmt.Errorf("validator: action match: %w", merr)
		}
		if ok {
			actionOK = true
			break
		}
	}
	if !actionOK {
		return Result{Decision: DecisionDeny, Reason: ReasonScopeAction}, nil
	}

	resourceOK := false
	for _, r := range m.ResourceScope {
		ok, merr := policy.MatchesResource(r, req.Resource)
		if merr != nil {
			return Result{Decision: DecisionDeny, Reason: ReasonInternalError}, fmt.Errorf("validator: resource match: %w", merr)
		}
		if ok {
			resourceOK = true
			break
		}
	}
	if !resourceOK {
		return Result{Decision: DecisionDeny, Reason: ReasonScopeResource}, nil
	}

	// Step 6: chain.
	chain, chainReason, chainErr := v.walkChain(ctx, m)
	if chainErr != nil {
		return Result{Decision: DecisionDeny, Reason: ReasonInternalError}, fmt.Errorf("validator: chain walk: %w", chainErr)
	}
	if chainReason != ReasonNone {
		return Result{Decision: DecisionDeny, Reason: chainReason, DelegationChain: chain}, nil
	}

	return Result{Decision: DecisionAllow, DelegationChain: chain}, nil
}

// walkChain verifies every ancestor link's own temporal+signature+
// revocation status (§4.2 step 6) and returns the ordered chain of
// ancestor ids (root first) for inclusion in the resulting authority
// event's delegation_chain field.
func (v *Validator) walkChain(ctx context.Context, m *mandate.Mandate) ([]string, DenialReason, error) {
	var chain []string
	cur := m
	seen := map[string]bool{cur.ID: true}

	for cur.ParentID != "" {
		if v.Mandates == nil {
			return nil, ReasonDelegationBroken, nil
		}
		parent, err := v.Mandates.Get(cur.ParentID)
		if err != nil {
			return nil, ReasonDelegationBroken, nil
		}
		if seen[parent.ID] {
			// Acyclicity is enforced at issuance (§9 "parent must be
			// older"); a cycle here indicates store corruption, not a
			// legitimate chain — fail closed rather than loop forever.
			return nil, ReasonDelegationBroken, nil
		}
		seen[parent.ID] = true

		if verr := mandate.Verify(ctx, parent, v.Signer); verr != nil {
			return nil, ReasonSignatureInvalid, nil
		}
		now := v.now().Unix()
		skew := int64(v.Config.ClockSkew / time.Second)
		if now > parent.ValidUntil+skew {
			return nil, ReasonTemporalExpired, nil
		}
		if v.Revocation != nil {
			if revoked, _ := v.Revocation.RevokedInChain(parent.ID); revoked {
				return nil, ReasonRevoked, nil
			}
		}

		chain = append([]string{parent.ID}, chain...)
		cur = parent
	}

	if v.Policies != nil {
		rootPolicy, err := v.Policies.CurrentVersion(cur.IssuerID)
		if err == nil && m.DelegationDepth > rootPolicy.MaxDelegationDepth {
			return chain, ReasonDelegationTooDeep, nil
		}
	}

	return chain, ReasonNone, nil
}

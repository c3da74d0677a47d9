// Package mandate implements §3's Mandate type: a scoped, time-bound
// permission, its canonical wire serialization (§6), issuance invariant
// checks (§3, §4.1), and signature verification (§4.2 step 1).
//
// Grounded on the teacher's other_examples capability Token (Mint/Verify/
// Revoke/HasScope shape) generalized from a SHA-256 content digest to a
// real asymmetric signature, and on pkg/pdp.ComputeDecisionHash's
// canonicalize-then-hash-excluding-self pattern.
package mandate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/canon"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/signer"
)

// Mandate is §3's Mandate record, already-issued and immutable.
type Mandate struct {
	ID              string           `json:"id"`
	Version         int              `json:"version"`
	IssuerID        string           `json:"issuer_id"`
	SubjectID       string           `json:"subject_id"`
	ResourceScope   []policy.Pattern `json:"resource_scope"`
	ActionScope     []policy.Pattern `json:"action_scope"`
	ValidFrom       int64            `json:"valid_from"`  // unix seconds UTC
	ValidUntil      int64            `json:"valid_until"` // unix seconds UTC
	ParentID        string           `json:"parent_id,omitempty"`
	DelegationDepth int              `json:"delegation_depth"`
	Intent          map[string]any   `json:"intent,omitempty"`
	PolicyVersion   int              `json:"policy_version"`
	Algorithm       signer.Algorithm `json:"algorithm"`
	SignerKeyID     signer.KeyID     `json:"signer_key_id"`
	Signature       []byte           `json:"signature"`
}

// Request carries the inputs to Issue (§4.1 "issue mandate").
type Request struct {
	IssuerID      string
	SubjectID     string
	ResourceScope []policy.Pattern
	ActionScope   []policy.Pattern
	ValidFrom     int64
	ValidUntil    int64
	Parent        *Mandate // nil for a root mandate
	Intent        map[string]any
}

// Denial reasons from §4.1/§7 surfaced by Issue.
var (
	ErrScopeExceeded       = errors.New("mandate: scope_exceeded")
	ErrValidityExceeded    = errors.New("mandate: validity_exceeded")
	ErrDelegationTooDeep   = errors.New("mandate: delegation_too_deep")
	ErrParentRevoked       = errors.New("mandate: parent_revoked")
	ErrParentExpired       = errors.New("mandate: parent_expired")
	ErrUnauthorizedIssuer  = errors.New("mandate: unauthorized_issuer")
	ErrUnknownMandate      = errors.New("mandate: unknown_mandate")
	ErrSignatureInvalid    = errors.New("mandate: signature_invalid")
	ErrIntentSchema        = errors.New("mandate: intent_schema_violation")
)

// RevocationChecker answers whether a mandate or any ancestor is
// tombstoned, used during issuance to enforce "parent_revoked".
type RevocationChecker interface {
	RevokedInChain(mandateID string) (revoked bool, revokedAncestor string)
}

// Issuer issues mandates against a policy store and signer, enforcing
// every invariant in §3 before producing a signed token.
type Issuer struct {
	Policies   policy.Store
	Signer     signer.Signer
	Revocation RevocationChecker
	Now        func() time.Time
}

func (iss *Issuer) now() time.Time {
	if iss.Now != nil {
		return iss.Now()
	}
	return time.Now()
}

// Issue performs the full invariant check of §3 and produces a signed
// mandate. The issuer's current policy governs root mandates; a
// delegation's scopes are checked against its parent (falling back to the
// issuer policy only when there is no parent, per §4.1's pattern-containment
// rule).
func (iss *Issuer) Issue(ctx context.Context, req Request) (*Mandate, error) {
	pol, err := iss.Policies.CurrentVersion(req.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorizedIssuer, err)
	}

	if req.ValidUntil-req.ValidFrom > pol.MaxValiditySeconds {
		return nil, ErrValidityExceeded
	}

	if err := policy.ValidateIntent(pol.IntentSchema, req.Intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntentSchema, err)
	}

	depth := 0
	if req.Parent != nil {
		if iss.Revocation != nil {
			if revoked, _ := iss.Revocation.RevokedInChain(req.Parent.ID); revoked {
				return nil, ErrParentRevoked
			}
		}
		if iss.now().Unix() > req.Parent.ValidUntil {
			return nil, ErrParentExpired
		}
		depth = req.Parent.DelegationDepth + 1
		if depth > pol.MaxDelegationDepth {
			return nil, ErrDelegationTooDeep
		}

		if err := subset(req.ResourceScope, req.Parent.ResourceScope); err != nil {
			return nil, fmt.Errorf("%w: resource: %v", ErrScopeExceeded, err)
		}
		if err := subset(req.ActionScope, req.Parent.ActionScope); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrScopeExceeded, err)
		}
	} else {
		if err := subset(req.ResourceScope, pol.Resources); err != nil {
			return nil, fmt.Errorf("%w: resource: %v", ErrScopeExceeded, err)
		}
		if err := subset(req.ActionScope, pol.Actions); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrScopeExceeded, err)
		}
	}

	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("mandate: generate id: %w", err)
	}

	m := &Mandate{
		ID:              id,
		Version:         1,
		IssuerID:        req.IssuerID,
		SubjectID:       req.SubjectID,
		ResourceScope:   req.ResourceScope,
		ActionScope:     req.ActionScope,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		DelegationDepth: depth,
		Intent:          req.Intent,
		PolicyVersion:   pol.Version,
	}
	if req.Parent != nil {
		m.ParentID = req.Parent.ID
	}

	if err := Sign(ctx, m, iss.Signer); err != nil {
		return nil, fmt.Errorf("mandate: sign: %w", err)
	}
	return m, nil
}

// subset reports whether every pattern in child is contained by at least
// one pattern in parent, per §4.1's pattern-containment order.
func subset(child, parent []policy.Pattern) error {
	for _, c := range child {
		ok, err := policy.ContainsAny(parent, c)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pattern %q not contained by parent scope", c.Raw)
		}
	}
	return nil
}

// Sign computes the canonical bytes excluding the Signature field and signs
// them, filling in Algorithm, SignerKeyID, and Signature on m. Per §6: "the
// signature covers every field except the signature itself".
func Sign(ctx context.Context, m *Mandate, s signer.Signer) error {
	toSign, err := canon.ExceptField(m, "signature")
	if err != nil {
		return err
	}
	sig, kid, alg, err := s.Sign(ctx, toSign)
	if err != nil {
		return err
	}
	m.Signature = sig
	m.SignerKeyID = kid
	m.Algorithm = alg
	return nil
}

// Verify recomputes the canonical bytes and checks m.Signature against the
// issuer's signer (§4.2 step 1). A valid signature binds every field;
// mutating any field after signing changes the canonical bytes and the
// check fails — satisfying §8 property 7.
func Verify(ctx context.Context, m *Mandate, s signer.Signer) error {
	toVerify, err := canon.ExceptField(m, "signature")
	if err != nil {
		return err
	}
	if err := s.Verify(ctx, toVerify, m.Signature, m.SignerKeyID); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

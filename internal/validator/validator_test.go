package validator

import (
	"context"
	"testing"
	"time"

	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/revocation"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/stretchr/testify/require"
)

type memMandates struct {
	byID map[string]*mandate.Mandate
}

func (m *memMandates) Get(id string) (*mandate.Mandate, error) {
	mm, ok := m.byID[id]
	if !ok {
		return nil, mandate.ErrUnknownMandate
	}
	return mm, nil
}

type fakeReplay struct {
	seen map[string]bool
}

func (f *fakeReplay) CheckAndRemember(ctx context.Context, nonce string, ts int64) (bool, error) {
	key := nonce
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func mustPattern(t *testing.T, raw string) policy.Pattern {
	t.Helper()
	p, err := policy.Compile(policy.PatternGlob, raw)
	require.NoError(t, err)
	return p
}

type harness struct {
	ks         signer.Signer
	policies   *policy.InMemoryStore
	revocation *revocation.Store
	mandates   *memMandates
	issuer     *mandate.Issuer
	clock      func() time.Time
}

func (h *harness) validator() *Validator {
	return &Validator{
		Signer:     h.ks,
		Policies:   h.policies,
		Revocation: h.revocation,
		Mandates:   h.mandates,
		Replay:     &fakeReplay{seen: map[string]bool{}},
		Config:     DefaultConfig(),
		Now:        h.clock,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ks, err := signer.NewInMemory(signer.AlgorithmEd25519)
	require.NoError(t, err)

	pols := policy.NewInMemoryStore()
	require.NoError(t, pols.CreateOrUpdate("P1", policy.Policy{
		ID: "pol1", PrincipalID: "P1", Version: 1,
		Resources:          []policy.Pattern{mustPattern(t, "api:x/*")},
		Actions:            []policy.Pattern{mustPattern(t, "read"), mustPattern(t, "write")},
		MaxValiditySeconds: 3600,
		MaxDelegationDepth: 2,
	}))

	mandates := &memMandates{byID: map[string]*mandate.Mandate{}}
	clock := func() time.Time { return time.Unix(1000, 0) }

	revStore := revocation.New(revParentResolver{mandates})

	return &harness{
		ks:         ks,
		policies:   pols,
		revocation: revStore,
		mandates:   mandates,
		clock:      clock,
		issuer: &mandate.Issuer{
			Policies:   pols,
			Signer:     ks,
			Revocation: revStore,
			Now:        clock,
		},
	}
}

type revParentResolver struct{ m *memMandates }

func (r revParentResolver) Parent(id string) (string, bool) {
	mm, ok := r.m.byID[id]
	if !ok {
		return "", false
	}
	return mm.ParentID, true
}

// S1 — happy path.
func TestS1HappyPath(t *testing.T) {
	h := newHarness(t)
	m, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[m.ID] = m

	v := h.validator()
	v.Now = func() time.Time { return time.Unix(1200, 0) }
	res, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "read", Resource: "api:x/y",
		Nonce: "n1", Timestamp: 1200,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, res.Decision)
}

// S2 — scope escape.
func TestS2ScopeEscape(t *testing.T) {
	h := newHarness(t)
	m, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[m.ID] = m

	v := h.validator()
	v.Now = func() time.Time { return time.Unix(1200, 0) }
	res, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "write", Resource: "api:x/y",
		Nonce: "n2", Timestamp: 1200,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, res.Decision)
	require.Equal(t, ReasonScopeAction, res.Reason)
}

// S3 — temporal.
func TestS3TemporalExpired(t *testing.T) {
	h := newHarness(t)
	m, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[m.ID] = m

	v := h.validator()
	v.Config.ClockSkew = 0
	v.Now = func() time.Time { return time.Unix(1601, 0) }
	res, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "read", Resource: "api:x/y",
		Nonce: "n3", Timestamp: 1601,
	})
	require.NoError(t, err)
	require.Equal(t, ReasonTemporalExpired, res.Reason)
}

func TestValidExactlyAtValidUntilAllows(t *testing.T) {
	h := newHarness(t)
	m, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[m.ID] = m

	v := h.validator()
	v.Config.ClockSkew = 0
	v.Now = func() time.Time { return time.Unix(1600, 0) }
	res, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "read", Resource: "api:x/y",
		Nonce: "n3b", Timestamp: 1600,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, res.Decision)
}

// S4 — replay.
func TestS4Replay(t *testing.T) {
	h := newHarness(t)
	m, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[m.ID] = m

	v := h.validator()

	v.Now = func() time.Time { return time.Unix(1200, 0) }
	res1, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "read", Resource: "api:x/y",
		Nonce: "N", Timestamp: 1200,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, res1.Decision)

	v.Now = func() time.Time { return time.Unix(1201, 0) }
	res2, err := v.Validate(context.Background(), Request{
		MandateToken: m, Action: "read", Resource: "api:x/y",
		Nonce: "N", Timestamp: 1200,
	})
	require.NoError(t, err)
	require.Equal(t, ReasonReplayDetected, res2.Reason)
}

// S5 — delegation and revocation cascade.
func TestS5DelegationAndRevocationCascade(t *testing.T) {
	h := newHarness(t)

	root, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)
	h.mandates.byID[root.ID] = root

	child, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P2",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1100, ValidUntil: 1500,
		Parent: root,
	})
	require.NoError(t, err)
	h.mandates.byID[child.ID] = child

	grandchild, err := h.issuer.Issue(context.Background(), mandate.Request{
		IssuerID: "P1", SubjectID: "P3",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1150, ValidUntil: 1400,
		Parent: child,
	})
	require.NoError(t, err)
	h.mandates.byID[grandchild.ID] = grandchild

	v := h.validator()
	v.Now = func() time.Time { return time.Unix(1200, 0) }
	res, err := v.Validate(context.Background(), Request{
		MandateToken: grandchild, Action: "read", Resource: "api:x/y",
		Nonce: "g1", Timestamp: 1200,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, res.Decision)
	require.Equal(t, []string{root.ID, child.ID}, res.DelegationChain)

	require.NoError(t, h.revocation.Revoke(root.ID, time.Unix(1205, 0), "compromised"))

	v.Now = func() time.Time { return time.Unix(1210, 0) }
	res, err = v.Validate(context.Background(), Request{
		MandateToken: grandchild, Action: "read", Resource: "api:x/y",
		Nonce: "g2", Timestamp: 1210,
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, res.Decision)
	require.Equal(t, ReasonRevoked, res.Reason)
}

func TestMissingMandateTokenDeniesUnknownMandate(t *testing.T) {
	h := newHarness(t)
	v := h.validator()
	res, err := v.Validate(context.Background(), Request{Action: "read", Resource: "api:x/y"})
	require.NoError(t, err)
	require.Equal(t, ReasonUnknownMandate, res.Reason)
}

package mandate

import (
	"context"
	"testing"
	"time"

	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Issuer, signer.Signer) {
	t.Helper()
	ks, err := signer.NewInMemory(signer.AlgorithmEd25519)
	require.NoError(t, err)

	stores := policy.NewInMemoryStore()
	resources := []policy.Pattern{mustPattern(t, "api:x/*")}
	actions := []policy.Pattern{mustPattern(t, "read"), mustPattern(t, "write")}
	require.NoError(t, stores.CreateOrUpdate("P1", policy.Policy{
		ID: "pol1", PrincipalID: "P1", Version: 1,
		Resources: resources, Actions: actions,
		MaxValiditySeconds: 3600, MaxDelegationDepth: 2,
	}))

	return &Issuer{
		Policies: stores,
		Signer:   ks,
		Now:      func() time.Time { return time.Unix(1000, 0) },
	}, ks
}

func mustPattern(t *testing.T, raw string) policy.Pattern {
	t.Helper()
	p, err := policy.Compile(policy.PatternGlob, raw)
	require.NoError(t, err)
	return p
}

func TestIssueHappyPath(t *testing.T) {
	iss, ks := setup(t)
	m, err := iss.Issue(context.Background(), Request{
		IssuerID:      "P1",
		SubjectID:     "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000,
		ValidUntil:    1600,
	})
	require.NoError(t, err)
	require.NoError(t, Verify(context.Background(), m, ks))
}

func TestIssueValidityExceeded(t *testing.T) {
	iss, _ := setup(t)
	_, err := iss.Issue(context.Background(), Request{
		IssuerID:      "P1",
		SubjectID:     "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000,
		ValidUntil:    1000 + 7200,
	})
	require.ErrorIs(t, err, ErrValidityExceeded)
}

func TestIssueRejectsIntentViolatingPolicySchema(t *testing.T) {
	iss, _ := setup(t)
	pol, err := iss.Policies.CurrentVersion("P1")
	require.NoError(t, err)
	pol.IntentSchema = `{"type":"object","required":["reason"]}`
	require.NoError(t, iss.Policies.CreateOrUpdate("P1", policy.Policy{
		ID: "pol1", PrincipalID: "P1", Version: pol.Version + 1,
		Resources: pol.Resources, Actions: pol.Actions,
		MaxValiditySeconds: pol.MaxValiditySeconds, MaxDelegationDepth: pol.MaxDelegationDepth,
		IntentSchema: pol.IntentSchema,
	}))

	_, err = iss.Issue(context.Background(), Request{
		IssuerID:      "P1",
		SubjectID:     "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000,
		ValidUntil:    1600,
		Intent:        map[string]any{"unrelated": "field"},
	})
	require.ErrorIs(t, err, ErrIntentSchema)
}

func TestIssueScopeExceeded(t *testing.T) {
	iss, _ := setup(t)
	_, err := iss.Issue(context.Background(), Request{
		IssuerID:      "P1",
		SubjectID:     "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:z/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000,
		ValidUntil:    1600,
	})
	require.ErrorIs(t, err, ErrScopeExceeded)
}

func TestDelegationDepthEnforced(t *testing.T) {
	iss, _ := setup(t)
	root, err := iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)

	child, err := iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P2",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1500,
		Parent: root,
	})
	require.NoError(t, err)
	require.Equal(t, 1, child.DelegationDepth)

	grandchild, err := iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P3",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1400,
		Parent: child,
	})
	require.NoError(t, err)
	require.Equal(t, 2, grandchild.DelegationDepth)

	_, err = iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P4",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1300,
		Parent: grandchild,
	})
	require.ErrorIs(t, err, ErrDelegationTooDeep)
}

func TestMutatedMandateFailsVerification(t *testing.T) {
	iss, ks := setup(t)
	m, err := iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)

	m.ValidUntil = 9999
	require.ErrorIs(t, Verify(context.Background(), m, ks), ErrSignatureInvalid)
}

func TestChildScopeMustBeSubsetOfParent(t *testing.T) {
	iss, _ := setup(t)
	root, err := iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P1",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/y")},
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1600,
	})
	require.NoError(t, err)

	_, err = iss.Issue(context.Background(), Request{
		IssuerID: "P1", SubjectID: "P2",
		ResourceScope: []policy.Pattern{mustPattern(t, "api:x/*")}, // broader than parent
		ActionScope:   []policy.Pattern{mustPattern(t, "read")},
		ValidFrom:     1000, ValidUntil: 1500,
		Parent: root,
	})
	require.ErrorIs(t, err, ErrScopeExceeded)
}

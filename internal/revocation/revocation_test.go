package revocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	parents map[string]string // child -> parent ("" = root)
}

func (f fakeResolver) Parent(mandateID string) (string, bool) {
	p, ok := f.parents[mandateID]
	return p, ok
}

func TestRevokeIsIdempotent(t *testing.T) {
	r := New(fakeResolver{parents: map[string]string{"m1": ""}})
	require.NoError(t, r.Revoke("m1", time.Unix(100, 0), "compromised"))
	require.NoError(t, r.Revoke("m1", time.Unix(200, 0), "compromised again"))
	require.True(t, r.IsTombstoned("m1"))
}

func TestRevokeUnknownMandate(t *testing.T) {
	r := New(fakeResolver{parents: map[string]string{}})
	err := r.Revoke("ghost", time.Now(), "x")
	require.ErrorIs(t, err, ErrUnknownMandate)
}

func TestRevocationCascadesToDescendants(t *testing.T) {
	// m1 (root) -> m2 -> m3
	r := New(fakeResolver{parents: map[string]string{
		"m1": "",
		"m2": "m1",
		"m3": "m2",
	}})

	revoked, _ := r.RevokedInChain("m3")
	require.False(t, revoked)

	require.NoError(t, r.Revoke("m1", time.Unix(1205, 0), "revoked"))

	revoked, ancestor := r.RevokedInChain("m3")
	require.True(t, revoked)
	require.Equal(t, "m1", ancestor)

	revoked, _ = r.RevokedInChain("m2")
	require.True(t, revoked)
}

func TestDirectRevocationNotTombstonedForSiblings(t *testing.T) {
	r := New(fakeResolver{parents: map[string]string{
		"m1": "",
		"m2": "m1",
		"m3": "m1",
	}})
	require.NoError(t, r.Revoke("m2", time.Now(), "x"))

	revoked, _ := r.RevokedInChain("m3")
	require.False(t, revoked, "sibling of revoked mandate should remain valid")
}

package mandate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStorePutThenGetRoundTrips(t *testing.T) {
	s := NewInMemoryStore()
	m := &Mandate{ID: "m1", IssuerID: "p1", SubjectID: "p2"}

	require.NoError(t, s.Put(context.Background(), m))

	got, err := s.Get("m1")
	require.NoError(t, err)
	require.Same(t, m, got)
}

func TestInMemoryStoreGetUnknownReturnsNotFound(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get("nope")
	require.ErrorIs(t, err, ErrMandateNotFound)
}

func TestInMemoryStoreParentResolvesChain(t *testing.T) {
	s := NewInMemoryStore()
	root := &Mandate{ID: "root"}
	child := &Mandate{ID: "child", ParentID: "root"}
	require.NoError(t, s.Put(context.Background(), root))
	require.NoError(t, s.Put(context.Background(), child))

	parent, ok := s.Parent("child")
	require.True(t, ok)
	require.Equal(t, "root", parent)

	parent, ok = s.Parent("root")
	require.True(t, ok)
	require.Empty(t, parent)

	_, ok = s.Parent("unknown")
	require.False(t, ok)
}

package principal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	s := NewInMemoryStore()
	p := Principal{ID: "p1", Workspace: "ws", Name: "alice", Kind: KindUser, CreatedAt: time.Now()}
	require.NoError(t, s.Register(p))

	got, err := s.Get("p1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Name)
}

func TestDuplicateNameRejected(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Register(Principal{ID: "p1", Workspace: "ws", Name: "alice"}))
	err := s.Register(Principal{ID: "p2", Workspace: "ws", Name: "alice"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestUnknownParentRejected(t *testing.T) {
	s := NewInMemoryStore()
	err := s.Register(Principal{ID: "p1", Workspace: "ws", Name: "child", ParentID: "missing"})
	require.ErrorIs(t, err, ErrUnknownParent)
}

func TestRetireTombstonesWithoutDelete(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Register(Principal{ID: "p1", Workspace: "ws", Name: "alice"}))
	require.NoError(t, s.Retire("p1", time.Now()))

	got, err := s.Get("p1")
	require.NoError(t, err)
	require.True(t, got.Retired())
}

func TestUnknownPrincipalLookup(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get("nope")
	require.ErrorIs(t, err, ErrUnknownPrincipal)
}

func TestDifferentWorkspacesAllowSameName(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Register(Principal{ID: "p1", Workspace: "ws1", Name: "alice"}))
	require.NoError(t, s.Register(Principal{ID: "p2", Workspace: "ws2", Name: "alice"}))
}

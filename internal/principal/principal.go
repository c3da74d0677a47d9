// Package principal implements C1's Principal lifecycle: registration,
// lookup, and soft-retirement (tombstoning) of agents, users, and
// services. Grounded on the teacher's pkg/identity/types.go Principal
// interface and PrincipalType enum, generalized from SSO-authenticated
// identity claims to the spec's persistent, store-owned principal record.
package principal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind is the principal's role in the system (§3).
type Kind string

const (
	KindAgent   Kind = "agent"
	KindUser    Kind = "user"
	KindService Kind = "service"
)

// Principal is the identity of an agent, human, or service (§3). Identity
// fields are immutable after creation; only Retired may change post-hoc.
type Principal struct {
	ID          string
	Workspace   string
	Name        string
	Owner       string
	ParentID    string // empty if no parent
	Kind        Kind
	Metadata    map[string]string
	PublicKey   []byte
	CreatedAt   time.Time
	RetiredAt   *time.Time
}

// Retired reports whether the principal has been tombstoned.
func (p Principal) Retired() bool {
	return p.RetiredAt != nil
}

var (
	// ErrDuplicateName is returned by Register when (workspace, name)
	// already exists (§4.1: "duplicate_name").
	ErrDuplicateName = errors.New("principal: duplicate_name")
	// ErrUnknownParent is returned when a parent reference does not
	// resolve (§4.1: "unknown_parent").
	ErrUnknownParent = errors.New("principal: unknown_parent")
	// ErrUnknownPrincipal is returned by lookups for an id not in the
	// store (§7: "unknown_principal").
	ErrUnknownPrincipal = errors.New("principal: unknown_principal")
)

// normalizeName applies NFC normalization so visually- or
// byte-distinct-but-equivalent Unicode names cannot collide around the
// (workspace, name) uniqueness constraint — one name, one canonical form.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// Store is C1's principal-registration surface (§4.1 "register principal").
// Production deployments back this with internal/store's sqlite/postgres
// tagged variants; InMemoryStore below is the reference implementation used
// by C2/C4 unit tests.
type Store interface {
	Register(p Principal) error
	Get(id string) (Principal, error)
	Retire(id string, at time.Time) error
}

// InMemoryStore is a mutex-guarded reference Store. Structurally grounded
// on the teacher's pkg/authz.Engine mutex-guarded in-memory index pattern.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]Principal
	byNameKey map[string]string // workspace/name -> id
}

// NewInMemoryStore constructs an empty principal store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[string]Principal),
		byNameKey: make(map[string]string),
	}
}

func nameKey(workspace, name string) string {
	return workspace + "\x00" + normalizeName(name)
}

func (s *InMemoryStore) Register(p Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ParentID != "" {
		if _, ok := s.byID[p.ParentID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, p.ParentID)
		}
	}

	nk := nameKey(p.Workspace, p.Name)
	if _, exists := s.byNameKey[nk]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateName, p.Workspace, p.Name)
	}

	p.Name = normalizeName(p.Name)
	s.byID[p.ID] = p
	s.byNameKey[nk] = p.ID
	return nil
}

func (s *InMemoryStore) Get(id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, fmt.Errorf("%w: %s", ErrUnknownPrincipal, id)
	}
	return p, nil
}

func (s *InMemoryStore) Retire(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrincipal, id)
	}
	t := at
	p.RetiredAt = &t
	s.byID[id] = p
	return nil
}

package policy

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound mirrors the teacher's pkg/store/ledger.ErrNotFound sentinel
// shape for "no such record" conditions callers branch on with errors.Is.
var ErrNotFound = errors.New("policy: not found")

// Policy is the Authority Policy of §3: the constitution bounding what
// mandates a principal may hold.
type Policy struct {
	ID                 string
	PrincipalID        string
	Version            int
	Resources          []Pattern
	Actions            []Pattern
	MaxValiditySeconds  int64
	MaxDelegationDepth int
	ChangeReason       string
	EffectiveFrom       time.Time

	// IntentSchema, if set, is a JSON Schema (draft 2020-12) that every
	// mandate issued under this policy must satisfy in its Intent map
	// (§4.1 issuance check, extended beyond the spec's bare scope/validity
	// checks). Empty means no intent shape is enforced.
	IntentSchema string

	// SemVer is an optional display/comparison version alongside the
	// authoritative integer Version, for deployments that want semantic
	// policy versions (e.g. "2.1.0"). It has no bearing on history
	// ordering, which remains the monotonic integer Version per §3.
	SemVer string
}

// History is the append-only version history for a single principal's
// policy. Editing produces a new Version; prior versions remain queryable
// (§3: "policy history is append-only").
type History struct {
	versions map[int]Policy
	current  int
}

func newHistory() *History {
	return &History{versions: make(map[int]Policy)}
}

// At returns the policy as of the given version, or ErrNotFound.
func (h *History) At(version int) (Policy, error) {
	p, ok := h.versions[version]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return p, nil
}

// Current returns the current (highest) version.
func (h *History) Current() (Policy, error) {
	if h.current == 0 {
		return Policy{}, ErrNotFound
	}
	return h.At(h.current)
}

// CurrentVersion reports the current version number, 0 if none exists.
func (h *History) CurrentVersion() int {
	return h.current
}

// Append writes a new version, flipping the current-version pointer
// atomically relative to the caller (the store wraps this in a
// transaction; History itself is not safe for concurrent use — callers
// serialize through the store's transactional layer per §4.1).
func (h *History) Append(p Policy) error {
	if p.Version <= h.current {
		return fmt.Errorf("policy: version %d must exceed current version %d", p.Version, h.current)
	}
	h.versions[p.Version] = p
	h.current = p.Version
	return nil
}

// ResourcesAt and ActionsAt answer the invariant-testing predicates of §8
// property 2: "resource_scope ⊆ issuer_policy.resources_at(issued_version)".
func (h *History) ResourcesAt(version int) ([]Pattern, error) {
	p, err := h.At(version)
	if err != nil {
		return nil, err
	}
	return p.Resources, nil
}

func (h *History) ActionsAt(version int) ([]Pattern, error) {
	p, err := h.At(version)
	if err != nil {
		return nil, err
	}
	return p.Actions, nil
}

// Store is C1's policy-versioning surface. A real implementation is
// transactional and persistent (internal/store); this interface is what
// C2/C4 depend on, keeping them decoupled from the storage tagged variant
// in play, following the teacher pkg/pdp.PolicyDecisionPoint interface
// style.
type Store interface {
	// CreateOrUpdate appends a new policy version for a principal,
	// atomically flipping the current-version pointer.
	CreateOrUpdate(principalID string, p Policy) error

	// CurrentVersion returns the principal's current policy.
	CurrentVersion(principalID string) (Policy, error)

	// VersionAt returns a specific historical version, for validating
	// already-issued mandates against the policy version in force at
	// issuance time.
	VersionAt(principalID string, version int) (Policy, error)
}

// InMemoryStore is a simple, mutex-free (single-goroutine use only in
// tests) reference Store implementation — production deployments use
// internal/store's sqlite/postgres-backed implementation of this same
// interface.
type InMemoryStore struct {
	byPrincipal map[string]*History
}

// NewInMemoryStore constructs an empty in-memory policy store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byPrincipal: make(map[string]*History)}
}

func (s *InMemoryStore) CreateOrUpdate(principalID string, p Policy) error {
	h, ok := s.byPrincipal[principalID]
	if !ok {
		h = newHistory()
		s.byPrincipal[principalID] = h
	}
	return h.Append(p)
}

func (s *InMemoryStore) CurrentVersion(principalID string) (Policy, error) {
	h, ok := s.byPrincipal[principalID]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return h.Current()
}

func (s *InMemoryStore) VersionAt(principalID string, version int) (Policy, error) {
	h, ok := s.byPrincipal[principalID]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return h.At(version)
}

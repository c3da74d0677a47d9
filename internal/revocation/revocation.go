// Package revocation implements C1's revocation side-table (§3: a
// tombstone keyed by mandate identifier) and the transitive-descendant
// cascade used by the validator's chain check (§4.2 step 4, §4.1 "cascades
// to descendants by writing tombstones for each (derivation is lazy — a
// mandate is considered revoked if any ancestor is tombstoned)").
//
// Grounded on the teacher's pkg/ledger.Ledger head/parent-pointer style of
// walking linked records, generalized from a single hash-chain to an
// ancestor tree walk.
package revocation

import (
	"fmt"
	"sync"
	"time"
)

// Tombstone records a single mandate's revocation.
type Tombstone struct {
	MandateID string
	RevokedAt time.Time
	Reason    string
}

// ErrUnknownMandate is returned by Revoke for a mandate id the caller has
// never registered a parent-link for (§4.1: "unknown_mandate").
var ErrUnknownMandate = fmt.Errorf("revocation: unknown_mandate")

// ParentResolver answers "what is this mandate's parent id, if any" so the
// cascade can walk descendants without owning the full mandate store
// itself. C1 wires this to the mandate store's parent-index.
type ParentResolver interface {
	// Parent returns the parent mandate id, or "" if the mandate is a
	// root mandate (delegation depth 0). ok is false if the mandate id
	// itself is unknown.
	Parent(mandateID string) (parentID string, ok bool)
}

// Store is C1's revocation surface: idempotent tombstone writes plus the
// "revoked in chain" query the validator's hot path depends on (§4.1
// "lookup mandate... returns... a boolean revoked in chain flag computed
// by walking parent pointers").
type Store struct {
	mu         sync.RWMutex
	tombstones map[string]Tombstone
	resolver   ParentResolver
}

// New constructs a revocation store backed by the given parent resolver.
func New(resolver ParentResolver) *Store {
	return &Store{
		tombstones: make(map[string]Tombstone),
		resolver:   resolver,
	}
}

// Revoke tombstones mandateID. Idempotent: revoking an already-revoked
// mandate succeeds silently, keeping the original RevokedAt. Fails only
// with ErrUnknownMandate if the resolver does not recognize the mandate.
func (s *Store) Revoke(mandateID string, at time.Time, reason string) error {
	if _, ok := s.resolver.Parent(mandateID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMandate, mandateID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.tombstones[mandateID]; already {
		return nil
	}
	s.tombstones[mandateID] = Tombstone{MandateID: mandateID, RevokedAt: at, Reason: reason}
	return nil
}

// IsTombstoned reports whether this exact mandate (not its ancestors) has
// been directly revoked.
func (s *Store) IsTombstoned(mandateID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[mandateID]
	return ok
}

// RevokedInChain walks mandateID's ancestor chain (including itself) and
// reports true if any link bears a tombstone — the lazy-derivation rule of
// §4.1. It also returns the id of the first tombstoned ancestor found
// (closest to mandateID), for attaching to deny(revoked) events.
func (s *Store) RevokedInChain(mandateID string) (revoked bool, revokedAncestor string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := mandateID
	for {
		if _, tombstoned := s.tombstones[cur]; tombstoned {
			return true, cur
		}
		parent, ok := s.resolver.Parent(cur)
		if !ok || parent == "" {
			return false, ""
		}
		cur = parent
	}
}

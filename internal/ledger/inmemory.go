package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/caracal-sh/caracal/internal/pipeline"
)

// InMemoryStore is the reference EventStore/BatchStore: a mutex-guarded
// counter plus maps, mirroring the in-memory stores already used for
// policy/principal/revocation. Production deployments use internal/store's
// sqlite/postgres-backed implementation of these same interfaces.
type InMemoryStore struct {
	mu        sync.Mutex
	seq       int64
	byIdemKey map[string]bool
	events    map[int64]*pipeline.Event // by sequence
	batches   map[string]Batch
}

// NewInMemoryStore constructs an empty in-memory ledger store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byIdemKey: make(map[string]bool),
		events:    make(map[int64]*pipeline.Event),
		batches:   make(map[string]Batch),
	}
}

func (s *InMemoryStore) NextSequence(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *InMemoryStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIdemKey[idempotencyKey], nil
}

func (s *InMemoryStore) Append(ctx context.Context, evt *pipeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := evt.IdempotencyKey()
	if s.byIdemKey[key] {
		return ErrDuplicateEvent
	}
	s.byIdemKey[key] = true
	s.events[evt.Sequence] = evt
	return nil
}

func (s *InMemoryStore) Unbatched(ctx context.Context, partition int) ([]*pipeline.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pipeline.Event
	for _, evt := range s.events {
		if evt.BatchID == "" {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *InMemoryStore) SetBatch(ctx context.Context, sequences []int64, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range sequences {
		if evt, ok := s.events[seq]; ok {
			evt.BatchID = batchID
		}
	}
	return nil
}

func (s *InMemoryStore) SealBatch(ctx context.Context, batch Batch, sequences []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	for _, seq := range sequences {
		if evt, ok := s.events[seq]; ok {
			evt.BatchID = batch.ID
		}
	}
	return nil
}

// Batch looks up a sealed batch by id, for tests and the verifier.
func (s *InMemoryStore) Batch(id string) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	return b, ok
}

// Event looks up a persisted event by sequence, for tests and the verifier.
func (s *InMemoryStore) Event(seq int64) (*pipeline.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[seq]
	return e, ok
}

// EventsInBatch returns every persisted event belonging to batchID, ordered
// by sequence — used by C5 to rebuild a batch's tree for proof/range
// verification.
func (s *InMemoryStore) EventsInBatch(batchID string) []*pipeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pipeline.Event
	for _, evt := range s.events {
		if evt.BatchID == batchID {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// EventsInRange returns every persisted event with sequence in [from, to],
// ordered by sequence.
func (s *InMemoryStore) EventsInRange(from, to int64) []*pipeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pipeline.Event
	for seq, evt := range s.events {
		if seq >= from && seq <= to {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

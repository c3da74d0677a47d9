package verifier

import (
	"context"

	"github.com/caracal-sh/caracal/internal/ledger"
	"github.com/caracal-sh/caracal/internal/pipeline"
)

// LedgerAdapter adapts internal/ledger.InMemoryStore (or any store exposing
// the same read methods) to the EventReader interface, keeping the
// read/write layering explicit: the verifier depends on a narrow read
// contract, not on the writer's full EventStore/BatchStore surface.
type LedgerAdapter struct {
	Store *ledger.InMemoryStore
}

func (a LedgerAdapter) EventBySequence(ctx context.Context, seq int64) (*pipeline.Event, bool, error) {
	evt, ok := a.Store.Event(seq)
	return evt, ok, nil
}

func (a LedgerAdapter) BatchByID(ctx context.Context, id string) (Batch, bool, error) {
	b, ok := a.Store.Batch(id)
	if !ok {
		return Batch{}, false, nil
	}
	return Batch{
		ID:           b.ID,
		SequenceFrom: b.SequenceFrom,
		SequenceTo:   b.SequenceTo,
		RootHash:     b.RootHash,
		SignerKeyID:  b.SignerKeyID,
		Algorithm:    b.Algorithm,
		Signature:    b.Signature,
	}, true, nil
}

func (a LedgerAdapter) EventsInBatch(ctx context.Context, batchID string) ([]*pipeline.Event, error) {
	return a.Store.EventsInBatch(batchID), nil
}

func (a LedgerAdapter) EventsInRange(ctx context.Context, from, to int64) ([]*pipeline.Event, error) {
	return a.Store.EventsInRange(from, to), nil
}

package ledger

import (
	"context"
	"fmt"

	"github.com/caracal-sh/caracal/internal/pipeline"
)

// Writer is C4's per-partition writer: it consumes raw events off one
// pipeline partition, assigns them a sequence number, content-addresses and
// persists them exactly once, and hands the persisted event to a Batcher
// (§4.4 steps 1-5).
type Writer struct {
	Store   EventStore
	Batcher *Batcher
}

// NewWriter constructs a Writer over the given EventStore and Batcher.
func NewWriter(store EventStore, batcher *Batcher) *Writer {
	return &Writer{Store: store, Batcher: batcher}
}

// Handle implements pipeline.Handler: run via pipeline.RunPartition so the
// per-partition single-threaded ordering guarantee carries through to
// sequence assignment.
func (w *Writer) Handle(ctx context.Context, evt *pipeline.Event) error {
	key := evt.IdempotencyKey()

	exists, err := w.Store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger: check idempotency key: %w", err)
	}
	if exists {
		// Already persisted by a prior delivery of this at-least-once
		// event; writer idempotency makes the effect exactly-once (§4.3).
		return nil
	}

	seq, err := w.Store.NextSequence(ctx)
	if err != nil {
		return fmt.Errorf("ledger: allocate sequence: %w", err)
	}
	evt.Sequence = seq

	hash, err := evt.Hash()
	if err != nil {
		return fmt.Errorf("ledger: hash event: %w", err)
	}
	evt.EventHash = hash

	if err := w.Store.Append(ctx, evt); err != nil {
		return fmt.Errorf("ledger: append event: %w", err)
	}

	if err := w.Batcher.Add(ctx, evt); err != nil {
		return fmt.Errorf("ledger: buffer event for batching: %w", err)
	}
	return nil
}

// Recover rescans events persisted with no batch back-pointer — left behind
// by a crash between Append and the batch seal that would have claimed them
// — and re-buffers them into the Batcher in sequence order (§4.4 "Failure
// and recovery"). Call once at startup, before RunPartition begins pulling
// new events.
func (w *Writer) Recover(ctx context.Context, partition int) error {
	pending, err := w.Store.Unbatched(ctx, partition)
	if err != nil {
		return fmt.Errorf("ledger: rescan unbatched events: %w", err)
	}
	for _, evt := range pending {
		if err := w.Batcher.Add(ctx, evt); err != nil {
			return fmt.Errorf("ledger: re-buffer recovered event %d: %w", evt.Sequence, err)
		}
	}
	return nil
}

// Run drives the writer loop for one partition: recovers any unbatched
// events left over from a crash, then consumes new events from q until ctx
// is done (§4.4 "one writer instance per partition").
func (w *Writer) Run(ctx context.Context, q pipeline.Queue, partition int) error {
	if err := w.Recover(ctx, partition); err != nil {
		return err
	}
	pipeline.RunPartition(ctx, q, partition, w.Handle)
	return nil
}

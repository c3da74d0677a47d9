package pipeline

import (
	"context"
	"fmt"
)

// Handler processes one event pulled from a partition. A non-nil error is
// treated as a permanent deserialization/processing failure and the event is
// quarantined (§4.3). RunPartition never retries a handler, so a handler
// that wants a transient failure retried must retry it itself before
// returning; the ledger writer's Handle does not retry, so a store error it
// returns also quarantines the event.
type Handler func(ctx context.Context, evt *Event) error

// RunPartition runs a single-threaded consume loop over one partition,
// preserving the partition's order (§4.3, §4.4 "Runs single-threaded per
// partition to preserve order"). On cancellation it stops pulling new
// events but never aborts a handler call already in flight — handle always
// runs against a cancellation-detached context so a shutdown signal can't
// tear down a handler mid-write.
func RunPartition(ctx context.Context, q Queue, partition int, handle Handler) {
	for {
		evt, ok := q.Consume(ctx, partition)
		if !ok {
			return
		}

		runCtx := context.WithoutCancel(ctx)
		if err := handle(runCtx, evt); err != nil {
			q.Quarantine(failureKind(err), evt, err)
		}
	}
}

func failureKind(err error) string {
	if err == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", err)
}

package archival

import (
	"context"

	"github.com/caracal-sh/caracal/internal/ledger"
)

// BatchArchiver adapts a Sink to satisfy ledger.BatchArchiver, letting the
// writer's Batcher hand off sealed batches without importing this package's
// GCS/S3 concrete types.
type BatchArchiver struct {
	Sink Sink
}

// ArchiveBatch implements ledger.BatchArchiver.
func (a BatchArchiver) ArchiveBatch(ctx context.Context, batch ledger.Batch, leafHashes []string) error {
	return a.Sink.PutBundle(ctx, Bundle{Batch: batch, LeafHashes: leafHashes})
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caracal-sh/caracal/internal/merkle"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/signer"
)

// Default seal thresholds, §4.4: "seals on whichever of these triggers
// first: 1000 events buffered, or 5 minutes elapsed since the buffer's
// first event".
const (
	DefaultSizeThreshold = 1000
	DefaultTimeThreshold = 5 * time.Minute
)

// BatchArchiver is the optional cold-storage hand-off (§11: "C4 writes a
// batch's proof bundle to object storage after sealing"). Declared here
// rather than importing internal/archival directly, since the archival
// package itself depends on ledger.Batch — archival.BatchArchiver adapts a
// Sink to satisfy this interface.
type BatchArchiver interface {
	ArchiveBatch(ctx context.Context, batch Batch, leafHashes []string) error
}

// Batcher accumulates persisted events for one partition and seals them
// into Merkle batches, signing the root and handing the sealed batch to a
// BatchStore. One Batcher instance serves one partition's writer loop.
//
// Grounded structurally on the teacher's pkg/ledger.Ledger's append-then-
// periodically-anchor shape, generalized from the teacher's single running
// hash chain to the spec's buffered-batch-of-events-then-seal-a-tree model.
type Batcher struct {
	store    BatchStore
	signer   signer.Signer
	Archiver BatchArchiver // optional; nil disables cold-storage archival

	sizeThreshold int
	timeThreshold time.Duration
	idFactory     func() string

	mu         sync.Mutex
	buf        []*pipeline.Event
	firstBufAt time.Time
}

// NewBatcher constructs a Batcher with the default thresholds. idFactory
// mints batch ids (production wires a ULID/UUID generator; tests can supply
// a deterministic counter).
func NewBatcher(store BatchStore, s signer.Signer, idFactory func() string) *Batcher {
	return &Batcher{
		store:         store,
		signer:        s,
		sizeThreshold: DefaultSizeThreshold,
		timeThreshold: DefaultTimeThreshold,
		idFactory:     idFactory,
	}
}

// WithThresholds overrides the default size/time seal triggers, for tests
// that need to exercise sealing without buffering 1000 events.
func (b *Batcher) WithThresholds(size int, wallClock time.Duration) *Batcher {
	b.sizeThreshold = size
	b.timeThreshold = wallClock
	return b
}

// Add buffers a freshly-persisted event and seals the batch if the size
// threshold is now reached (§4.4 step 5 and "seal triggers").
func (b *Batcher) Add(ctx context.Context, evt *pipeline.Event) error {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.firstBufAt = time.Now()
	}
	b.buf = append(b.buf, evt)
	seal := len(b.buf) >= b.sizeThreshold
	b.mu.Unlock()

	if seal {
		return b.Seal(ctx, CloseReasonSizeThreshold)
	}
	return nil
}

// TimedOut reports whether the buffer's oldest event has been waiting
// longer than the time threshold, for a caller-driven ticker to check
// (§4.4: "5 minutes elapsed since the buffer's first event").
func (b *Batcher) TimedOut() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return false
	}
	return time.Since(b.firstBufAt) >= b.timeThreshold
}

// Seal builds the Merkle tree over the currently buffered events, signs the
// root, persists the batch, and clears the buffer. The buffer is taken and
// cleared under the same mutex Add holds, so no event is lost or sealed
// twice; an Add that arrives while the taken events are being built, signed
// and persisted goes into the next batch. Seal is a no-op on an empty buffer
// (§4.4: "Empty batches are never sealed").
func (b *Batcher) Seal(ctx context.Context, reason CloseReason) error {
	b.mu.Lock()
	events := b.buf
	b.buf = nil
	b.mu.Unlock()

	return b.sealEvents(ctx, events, reason)
}

func (b *Batcher) sealEvents(ctx context.Context, events []*pipeline.Event, reason CloseReason) error {
	if len(events) == 0 {
		return nil
	}

	leaves := make([]string, len(events))
	sequences := make([]int64, len(events))
	for i, evt := range events {
		leaves[i] = evt.EventHash
		sequences[i] = evt.Sequence
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return fmt.Errorf("ledger: build merkle tree: %w", err)
	}

	rootBytes := []byte(tree.Root)
	sig, keyID, alg, err := b.signer.Sign(ctx, rootBytes)
	if err != nil {
		return fmt.Errorf("ledger: sign batch root: %w", err)
	}

	batch := Batch{
		ID:           b.idFactory(),
		SequenceFrom: sequences[0],
		SequenceTo:   sequences[len(sequences)-1],
		RootHash:     tree.Root,
		SignerKeyID:  string(keyID),
		Algorithm:    string(alg),
		Signature:    sig,
		CloseReason:  reason,
		ClosedAtUnix: time.Now().Unix(),
	}

	if err := b.store.SealBatch(ctx, batch, sequences); err != nil {
		return err
	}

	if b.Archiver != nil {
		// The batch is already durable in the live store at this point;
		// an archival failure is reported to the caller for logging/retry
		// but does not unseal or reopen the batch.
		if err := b.Archiver.ArchiveBatch(ctx, batch, leaves); err != nil {
			return fmt.Errorf("ledger: archive batch %s: %w", batch.ID, err)
		}
	}

	return nil
}

// Shutdown seals any remaining buffered events with CloseReasonShutdown,
// draining the in-flight batch gracefully (§4.4: "on graceful shutdown,
// seals whatever is buffered").
func (b *Batcher) Shutdown(ctx context.Context) error {
	return b.Seal(ctx, CloseReasonShutdown)
}

// RunTimeoutTicker polls TimedOut and seals on a time-threshold trigger
// until ctx is done, at which point it performs a final graceful-shutdown
// seal. Intended to run in its own goroutine alongside the writer loop.
func (b *Batcher) RunTimeoutTicker(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if b.TimedOut() {
				_ = b.Seal(ctx, CloseReasonTimeThreshold)
			}
		case <-ctx.Done():
			_ = b.Shutdown(context.WithoutCancel(ctx))
			return
		}
	}
}

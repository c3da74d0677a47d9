package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/caracal-sh/caracal/internal/validator"
)

func newTestBatcher(t *testing.T, store *InMemoryStore, size int, wallClock time.Duration) *Batcher {
	t.Helper()
	ks, err := signer.NewInMemory(signer.AlgorithmEd25519)
	require.NoError(t, err)

	n := 0
	idFactory := func() string {
		n++
		return fmt.Sprintf("batch-%d", n)
	}
	return NewBatcher(store, ks, idFactory).WithThresholds(size, wallClock)
}

func sampleEvent(principal string) *pipeline.Event {
	return &pipeline.Event{
		Timestamp:         time.Now(),
		Kind:              pipeline.KindValidated,
		PrincipalID:       principal,
		Action:            "read",
		Resource:          "api:x/1",
		Decision:          validator.DecisionAllow,
		OriginValidatorID: "validator-1",
		Nonce:             fmt.Sprintf("%s-%d", principal, time.Now().UnixNano()),
	}
}

func TestWriterAssignsSequenceAndAppends(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, time.Hour)
	w := NewWriter(store, batcher)

	evt := sampleEvent("alice")
	require.NoError(t, w.Handle(context.Background(), evt))

	require.Equal(t, int64(1), evt.Sequence)
	require.NotEmpty(t, evt.EventHash)

	got, ok := store.Event(1)
	require.True(t, ok)
	require.Same(t, evt, got)
}

func TestWriterRejectsDuplicateDeliveryIdempotently(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, time.Hour)
	w := NewWriter(store, batcher)

	evt := sampleEvent("alice")
	require.NoError(t, w.Handle(context.Background(), evt))
	firstSeq := evt.Sequence

	// Simulate at-least-once redelivery of the identical event: a fresh
	// *Event value with the same idempotency key (origin, timestamp, nonce).
	redelivered := *evt
	redelivered.Sequence = 0
	redelivered.EventHash = ""
	require.NoError(t, w.Handle(context.Background(), &redelivered))

	require.Equal(t, int64(0), redelivered.Sequence, "redelivery must not allocate a new sequence")
	_, ok := store.Event(2)
	require.False(t, ok, "redelivery must not append a second row")
	require.Equal(t, firstSeq, evt.Sequence)
}

func TestBatcherSealsOnSizeThreshold(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 3, time.Hour)
	w := NewWriter(store, batcher)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Handle(context.Background(), sampleEvent("alice")))
	}

	for seq := int64(1); seq <= 3; seq++ {
		evt, ok := store.Event(seq)
		require.True(t, ok)
		require.NotEmpty(t, evt.BatchID)

		batch, ok := store.Batch(evt.BatchID)
		require.True(t, ok)
		require.Equal(t, CloseReasonSizeThreshold, batch.CloseReason)
		require.Equal(t, int64(1), batch.SequenceFrom)
		require.Equal(t, int64(3), batch.SequenceTo)
		require.NotEmpty(t, batch.RootHash)
		require.NotEmpty(t, batch.Signature)
	}
}

func TestBatcherTimedOutTracksOldestBufferedEvent(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, 10*time.Millisecond)
	w := NewWriter(store, batcher)

	require.False(t, batcher.TimedOut())
	require.NoError(t, w.Handle(context.Background(), sampleEvent("alice")))
	require.False(t, batcher.TimedOut())

	time.Sleep(20 * time.Millisecond)
	require.True(t, batcher.TimedOut())

	require.NoError(t, batcher.Seal(context.Background(), CloseReasonTimeThreshold))
	require.False(t, batcher.TimedOut())

	evt, ok := store.Event(1)
	require.True(t, ok)
	batch, ok := store.Batch(evt.BatchID)
	require.True(t, ok)
	require.Equal(t, CloseReasonTimeThreshold, batch.CloseReason)
}

func TestBatcherShutdownSealsRemainder(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, time.Hour)
	w := NewWriter(store, batcher)

	require.NoError(t, w.Handle(context.Background(), sampleEvent("alice")))
	require.NoError(t, batcher.Shutdown(context.Background()))

	evt, ok := store.Event(1)
	require.True(t, ok)
	batch, ok := store.Batch(evt.BatchID)
	require.True(t, ok)
	require.Equal(t, CloseReasonShutdown, batch.CloseReason)
}

func TestSealOnEmptyBufferIsNoOp(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, time.Hour)
	require.NoError(t, batcher.Seal(context.Background(), CloseReasonShutdown))
	require.Empty(t, store.batches)
}

func TestWriterRecoverReBuffersUnbatchedEventsOnRestart(t *testing.T) {
	store := NewInMemoryStore()

	// Simulate a prior process crashing after Append but before the batch
	// seal claimed the event (BatchID left empty).
	evt := sampleEvent("alice")
	evt.Sequence = 1
	hash, err := evt.Hash()
	require.NoError(t, err)
	evt.EventHash = hash
	require.NoError(t, store.Append(context.Background(), evt))

	batcher := newTestBatcher(t, store, 1000, time.Hour)
	w := NewWriter(store, batcher)

	require.NoError(t, w.Recover(context.Background(), 0))
	require.NoError(t, batcher.Seal(context.Background(), CloseReasonShutdown))

	recovered, ok := store.Event(1)
	require.True(t, ok)
	require.NotEmpty(t, recovered.BatchID)
}

// fakeArchiver records every sealed batch handed to it, standing in for
// internal/archival.BatchArchiver without a live GCS/S3 dependency.
type fakeArchiver struct {
	mu      sync.Mutex
	batches []Batch
}

func (a *fakeArchiver) ArchiveBatch(_ context.Context, batch Batch, _ []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, batch)
	return nil
}

func TestBatcherArchivesSealedBatchWhenArchiverConfigured(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1, time.Hour)
	archiver := &fakeArchiver{}
	batcher.Archiver = archiver
	w := NewWriter(store, batcher)

	require.NoError(t, w.Handle(context.Background(), sampleEvent("alice")))

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.batches, 1)
	require.NotEmpty(t, archiver.batches[0].RootHash)
}

func TestBatcherSealPropagatesArchiverError(t *testing.T) {
	store := NewInMemoryStore()
	batcher := newTestBatcher(t, store, 1000, time.Hour)
	batcher.Archiver = failingArchiver{}
	w := NewWriter(store, batcher)

	require.NoError(t, w.Handle(context.Background(), sampleEvent("alice")))
	err := batcher.Seal(context.Background(), CloseReasonShutdown)
	require.Error(t, err)
}

type failingArchiver struct{}

func (failingArchiver) ArchiveBatch(context.Context, Batch, []string) error {
	return errors.New("archival: sink unavailable")
}

func TestNextSequenceIsGapFreeAndMonotonic(t *testing.T) {
	store := NewInMemoryStore()
	var prev int64
	for i := 0; i < 5; i++ {
		seq, err := store.NextSequence(context.Background())
		require.NoError(t, err)
		require.Equal(t, prev+1, seq)
		prev = seq
	}
}

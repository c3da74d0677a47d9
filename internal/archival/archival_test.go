package archival

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caracal-sh/caracal/internal/ledger"
)

// memSink is a fake Sink for exercising bundle marshal/unmarshal round-trips
// and the factory's backend selection without live S3/GCS credentials.
type memSink struct {
	mu      sync.Mutex
	bundles map[string][]byte
}

func newMemSink() *memSink { return &memSink{bundles: make(map[string][]byte)} }

func (m *memSink) PutBundle(_ context.Context, bundle Bundle) error {
	data, err := marshalBundle(bundle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bundle.Batch.ID] = data
	return nil
}

func (m *memSink) GetBundle(_ context.Context, batchID string) (Bundle, error) {
	m.mu.Lock()
	data, ok := m.bundles[batchID]
	m.mu.Unlock()
	if !ok {
		return Bundle{}, fmt.Errorf("archival: no bundle for batch %s", batchID)
	}
	return unmarshalBundle(data)
}

func (m *memSink) Exists(_ context.Context, batchID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bundles[batchID]
	return ok, nil
}

func sampleBundle() Bundle {
	return Bundle{
		Batch: ledger.Batch{
			ID: "batch-1", SequenceFrom: 1, SequenceTo: 3, RootHash: "deadbeef",
			SignerKeyID: "k1", Algorithm: "ed25519", Signature: []byte{0x01, 0x02},
			CloseReason: ledger.CloseReasonSizeThreshold, ClosedAtUnix: 1700000000,
		},
		LeafHashes: []string{"h1", "h2", "h3"},
	}
}

func TestBundleRoundTripsThroughMarshalUnmarshal(t *testing.T) {
	b := sampleBundle()
	data, err := marshalBundle(b)
	require.NoError(t, err)

	got, err := unmarshalBundle(data)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestMemSinkPutThenGetRoundTrips(t *testing.T) {
	sink := newMemSink()
	ctx := context.Background()
	b := sampleBundle()

	require.NoError(t, sink.PutBundle(ctx, b))

	exists, err := sink.Exists(ctx, b.Batch.ID)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := sink.GetBundle(ctx, b.Batch.ID)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestMemSinkExistsFalseForUnknownBatch(t *testing.T) {
	sink := newMemSink()
	exists, err := sink.Exists(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestNewSinkRejectsUnknownBackend(t *testing.T) {
	_, err := NewSink(context.Background(), Config{Backend: "azure", Bucket: "b"})
	require.Error(t, err)
}

func TestNewSinkRequiresBucketForS3(t *testing.T) {
	_, err := NewSink(context.Background(), Config{Backend: "s3"})
	require.Error(t, err)
}

func TestNewSinkRequiresBucketForGCS(t *testing.T) {
	_, err := NewSink(context.Background(), Config{Backend: "gcs"})
	require.Error(t, err)
}

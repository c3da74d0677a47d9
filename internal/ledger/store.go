// Package ledger implements C4: the per-partition writer loop that assigns
// monotonic sequence numbers to pipeline events, persists them exactly
// once, and hands sealed ranges to the Merkle batcher (§4.4).
//
// Grounded on the teacher's pkg/ledger.Ledger (injectable clock,
// content-hash-then-append shape) and pkg/store/ledger's SQLLedger/
// PostgresLedger raw-SQL, unique-constraint-as-idempotency-guard pattern —
// generalized from hash-chained entries to the spec's sequence-number +
// Merkle-batch model, which the teacher ledger does not have.
package ledger

import (
	"context"
	"errors"

	"github.com/caracal-sh/caracal/internal/pipeline"
)

// ErrDuplicateEvent is returned by Append (or detected ahead of it via
// EventStore.Exists) for an idempotency key already present in the ledger
// (§4.4 step 2).
var ErrDuplicateEvent = errors.New("ledger: duplicate_event")

// EventStore is the persistence surface the writer loop depends on. A real
// deployment backs this with internal/store's sqlite/postgres tagged
// variant; InMemoryStore below is the reference implementation used by
// tests and single-node/dev deployments.
type EventStore interface {
	// NextSequence atomically allocates the next monotonic, gap-free
	// sequence number from the shared counter (§4.4 step 3: "a single
	// shared transactional allocator serializes sequence assignment").
	NextSequence(ctx context.Context) (int64, error)

	// Exists reports whether an event with this idempotency key has
	// already been persisted, in O(1) (§4.4 step 2).
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Append persists evt (already sequenced and hashed) within the same
	// transaction that advances the pipeline offset (§4.4 step 4: "This
	// yields exactly-once persistence").
	Append(ctx context.Context, evt *pipeline.Event) error

	// Unbatched returns persisted events with no batch back-pointer yet,
	// ordered by sequence — used for the in-memory buffer's crash-recovery
	// rescan (§4.4 "Failure and recovery"). Both implementations in this
	// module ignore partition and return unbatched events of every
	// partition.
	Unbatched(ctx context.Context, partition int) ([]*pipeline.Event, error)

	// SetBatch stamps eventIDs (by sequence) with batchID on its own, outside
	// any transaction; the single transaction that inserts the batch row and
	// stamps its events is BatchStore.SealBatch (§4.4 "Persistence of
	// batches").
	SetBatch(ctx context.Context, sequences []int64, batchID string) error
}

// Batch is §3's Merkle Batch record.
type Batch struct {
	ID           string
	SequenceFrom int64
	SequenceTo   int64
	RootHash     string
	SignerKeyID  string
	Algorithm    string
	Signature    []byte
	CloseReason  CloseReason
	ClosedAtUnix int64
}

// CloseReason is §3's close-reason enum for a sealed Merkle batch.
type CloseReason string

const (
	CloseReasonSizeThreshold CloseReason = "size_threshold"
	CloseReasonTimeThreshold CloseReason = "time_threshold"
	CloseReasonShutdown      CloseReason = "shutdown"
)

// BatchStore persists a sealed batch row and its constituent events'
// back-pointers as a single transaction (§4.4 "no partial batch rows are
// ever visible").
type BatchStore interface {
	SealBatch(ctx context.Context, batch Batch, sequences []int64) error
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrBackpressureTimeout is returned by Publish when a partition's buffer
// stays full past the bounded-blocking timeout (§4.3 "producers experience
// bounded blocking with timeout; on timeout, the gateway denies the
// request"). Callers in C2 must treat this as a fail-closed deny, not a
// retryable condition of their own.
var ErrBackpressureTimeout = errors.New("pipeline: backpressure timeout")

// Queue is C3's contract: a partitioned, ordered, durable queue. InProcess
// below is the single-node reference implementation; a durable variant would
// satisfy the same interface backed by a real log (e.g. the grpc transport
// in internal/pipeline/transport fronting a remote broker).
type Queue interface {
	// Publish hash-partitions evt on PrincipalID and enqueues it, blocking
	// until buffer space frees or ctx is done.
	Publish(ctx context.Context, evt *Event) error

	// Consume pulls the next event from the given partition, blocking until
	// one is available or ctx is done.
	Consume(ctx context.Context, partition int) (*Event, bool)

	// Quarantine routes an event that failed permanent deserialization (or
	// downstream processing) to the dead-letter partition, keyed by kind.
	Quarantine(kind string, raw *Event, cause error)

	// DeadLetter returns the channel of quarantined events.
	DeadLetter() <-chan DeadLetterEvent

	NumPartitions() int
}

// InProcess is the single-node reference Queue: one bounded, ordered
// channel per partition plus a dead-letter channel. Grounded on the
// webhook_queue.go ring-buffer-plus-otel-counter shape in the example pack,
// generalized from one queue to N partitions; channels already give FIFO
// ordering per-partition for free, so no ring buffer bookkeeping is needed
// here the way the teacher sibling needed it for TTL eviction.
type InProcess struct {
	partitions []chan *Event
	deadLetter chan DeadLetterEvent
	metrics    *queueMetrics
}

// NewInProcess constructs a queue with the given partition count and
// per-partition buffer capacity.
func NewInProcess(numPartitions, partitionCapacity int) *InProcess {
	if numPartitions < 1 {
		numPartitions = 1
	}
	if partitionCapacity < 1 {
		partitionCapacity = 1
	}
	q := &InProcess{
		partitions: make([]chan *Event, numPartitions),
		deadLetter: make(chan DeadLetterEvent, 256),
		metrics:    newQueueMetrics(),
	}
	for i := range q.partitions {
		q.partitions[i] = make(chan *Event, partitionCapacity)
	}
	return q
}

func (q *InProcess) NumPartitions() int { return len(q.partitions) }

func (q *InProcess) Publish(ctx context.Context, evt *Event) error {
	key := PartitionKey(len(q.partitions), evt.PrincipalID)
	select {
	case q.partitions[key] <- evt:
		q.metrics.recordPublished(ctx, key)
		return nil
	case <-ctx.Done():
		q.metrics.recordTimeout(ctx, key)
		return ErrBackpressureTimeout
	}
}

func (q *InProcess) Consume(ctx context.Context, partition int) (*Event, bool) {
	if partition < 0 || partition >= len(q.partitions) {
		return nil, false
	}
	select {
	case evt, ok := <-q.partitions[partition]:
		return evt, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (q *InProcess) Quarantine(kind string, raw *Event, cause error) {
	entry := DeadLetterEvent{FailureKind: kind, QueuedAt: time.Now()}
	if cause != nil {
		entry.Err = cause.Error()
	}
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			entry.Raw = b
		}
	}
	select {
	case q.deadLetter <- entry:
	default:
		// Dead-letter channel itself is full; the failure is still counted
		// by the dead-letter metric below, so drop rather than block the
		// main flow (§4.3: "the main flow continues").
	}
	q.metrics.recordDeadLetter(context.Background(), kind)
}

func (q *InProcess) DeadLetter() <-chan DeadLetterEvent { return q.deadLetter }

type queueMetrics struct {
	published  metric.Int64Counter
	timeouts   metric.Int64Counter
	deadLetter metric.Int64Counter
}

func newQueueMetrics() *queueMetrics {
	meter := otel.GetMeterProvider().Meter("caracal/pipeline")
	published, err := meter.Int64Counter("caracal.pipeline.events_published")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("caracal/pipeline")
		published, _ = fallback.Int64Counter("caracal.pipeline.events_published")
	}
	timeouts, _ := meter.Int64Counter("caracal.pipeline.backpressure_timeouts")
	deadLetter, _ := meter.Int64Counter("caracal.pipeline.dead_letter_events")
	return &queueMetrics{published: published, timeouts: timeouts, deadLetter: deadLetter}
}

func (m *queueMetrics) recordPublished(ctx context.Context, partition int) {
	if m == nil || m.published == nil {
		return
	}
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *queueMetrics) recordTimeout(ctx context.Context, partition int) {
	if m == nil || m.timeouts == nil {
		return
	}
	m.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *queueMetrics) recordDeadLetter(ctx context.Context, kind string) {
	if m == nil || m.deadLetter == nil {
		return
	}
	m.deadLetter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

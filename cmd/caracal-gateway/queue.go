package main

import (
	"context"
	"fmt"

	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/pipeline/transport"
)

// remoteQueue adapts a *transport.Client (which only ever sends) to satisfy
// pipeline.Queue, the interface pipeline.Producer expects. The gateway
// process never consumes its own events back off the wire — that's C4's
// job in a separate process — so Consume/Quarantine/DeadLetter are never
// called on this adapter; they exist only to satisfy the interface.
type remoteQueue struct {
	client *transport.Client
}

func (q *remoteQueue) Publish(ctx context.Context, evt *pipeline.Event) error {
	return q.client.Publish(ctx, evt)
}

func (q *remoteQueue) Consume(ctx context.Context, partition int) (*pipeline.Event, bool) {
	panic(fmt.Sprintf("caracal-gateway: remoteQueue.Consume is not supported (partition %d)", partition))
}

func (q *remoteQueue) Quarantine(kind string, raw *pipeline.Event, cause error) {
	panic(fmt.Sprintf("caracal-gateway: remoteQueue.Quarantine is not supported (kind %s)", kind))
}

func (q *remoteQueue) DeadLetter() <-chan pipeline.DeadLetterEvent {
	panic("caracal-gateway: remoteQueue.DeadLetter is not supported")
}

func (q *remoteQueue) NumPartitions() int {
	panic("caracal-gateway: remoteQueue.NumPartitions is not supported")
}

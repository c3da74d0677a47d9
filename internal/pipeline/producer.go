package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Producer is the C2-side emission path: once the validator reaches a
// decision the event must be recorded (§4.3 "Producer-side cancellation...
// is ignored — once a decision is reached, the event must be recorded").
// Emit therefore detaches from the caller's cancellation and bounds itself
// only by its own Timeout, so a client disconnect after the decision never
// silently drops the event.
type Producer struct {
	Queue Queue

	// Timeout bounds how long Emit blocks on a full partition before giving
	// up and returning ErrBackpressureTimeout, which the gateway must treat
	// as fail-closed deny (§4.3).
	Timeout time.Duration

	// Retries bounds the number of publish attempts against transient
	// partition contention before Timeout is reached.
	Retries uint
}

// DefaultProducer returns a Producer with the spec's stated defaults.
func DefaultProducer(q Queue) *Producer {
	return &Producer{Queue: q, Timeout: 2 * time.Second, Retries: 3}
}

// Emit publishes evt, detached from ctx's cancellation (see type doc) but
// still bounded by Timeout.
func (p *Producer) Emit(ctx context.Context, evt *Event) error {
	detached := context.WithoutCancel(ctx)
	bounded, cancel := context.WithTimeout(detached, p.Timeout)
	defer cancel()

	retries := p.Retries
	if retries == 0 {
		retries = 1
	}

	_, err := backoff.Retry(bounded, func() (struct{}, error) {
		if pubErr := p.Queue.Publish(bounded, evt); pubErr != nil {
			return struct{}{}, pubErr
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(retries))
	if err != nil {
		return fmt.Errorf("pipeline: emit: %w", err)
	}
	return nil
}

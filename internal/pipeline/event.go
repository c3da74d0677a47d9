// Package pipeline implements C3's partitioned, ordered, at-least-once
// event queue (§4.3): the durable hop that carries every authority decision
// from the validator to the ledger writer.
//
// No teacher package implements a partitioned queue directly; the shape is
// grounded on the teacher's webhook_queue.go sibling in the example pack
// (nhbchain escrow-gateway) — bounded ring buffer, TTL eviction, otel
// dropped-event counters — generalized from one FIFO queue to N
// principal-hash-partitioned ones plus a dead-letter partition.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/canon"
	"github.com/caracal-sh/caracal/internal/validator"
)

// Kind is an authority event's category (§3 "Authority Event").
type Kind string

const (
	KindIssued    Kind = "issued"
	KindValidated Kind = "validated"
	KindDenied    Kind = "denied"
	KindRevoked   Kind = "revoked"
)

// Event is §3's immutable Authority Event. Sequence and BatchID are unset
// (zero value) until the writer (C4) assigns them; everything else is fixed
// at production time in the gateway (C2).
type Event struct {
	Sequence        int64                 `json:"sequence,omitempty"`
	Timestamp       time.Time             `json:"timestamp"`
	Kind            Kind                  `json:"kind"`
	PrincipalID     string                `json:"principal_id"`
	MandateID       string                `json:"mandate_id,omitempty"`
	Action          string                `json:"action"`
	Resource        string                `json:"resource"`
	Decision        validator.Decision    `json:"decision"`
	DenialReason    validator.DenialReason `json:"denial_reason,omitempty"`
	DelegationChain []string              `json:"delegation_chain,omitempty"`
	BatchID         string                `json:"batch_id,omitempty"`
	EventHash       string                `json:"event_hash,omitempty"` // hex SHA-256, set by the writer once Sequence is assigned

	// OriginValidatorID and Nonce, together with Timestamp, form the
	// idempotency key the writer dedups on (§4.4 step 2).
	OriginValidatorID string `json:"origin_validator_id"`
	Nonce             string `json:"nonce"`
}

// IdempotencyKey is the writer's dedup key (§4.4 step 2): (origin validator
// id, event creation timestamp, nonce from the originating request).
func (e *Event) IdempotencyKey() string {
	return fmt.Sprintf("%s|%d|%s", e.OriginValidatorID, e.Timestamp.UnixNano(), e.Nonce)
}

// Hash computes the event's content-addressed SHA-256 hex digest, excluding
// the hash field itself, once a sequence number has been assigned (§4.4 step
// 4). The hash is also the tree leaf used by the Merkle batcher (§4.4 tree
// construction).
func (e *Event) Hash() (string, error) {
	b, err := canon.ExceptField(e, "event_hash")
	if err != nil {
		return "", fmt.Errorf("pipeline: canonicalize event: %w", err)
	}
	return canon.HashBytes(b), nil
}

// DeadLetterEvent wraps an event (or raw undeserializable bytes) that could
// not be processed, keyed by failure kind (§4.3 "quarantined to a dead-letter
// partition keyed by the failure kind").
type DeadLetterEvent struct {
	FailureKind string
	Raw         json.RawMessage
	Err         string
	QueuedAt    time.Time
}

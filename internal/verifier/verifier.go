// Package verifier implements C5: the read-only query and proof service.
// It answers three questions over the sealed ledger — inclusion proof for
// one event, range verification across many, and mandate ancestry chain
// trace (§4.5) — and is otherwise dependency-free of the write path: the
// verifier never mutates EventStore/BatchStore, only reads.
//
// Grounded on the teacher's pkg/verifier's "trust only the crypto
// primitives, zero server/network dependency" design note — the same
// separation applies here: EventReader below never talks to C1-C4's
// signer, queue, or policy packages directly, it only reads already-sealed
// ledger state.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/merkle"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/signer"
)

// EventReader is the read surface the verifier depends on. Neither
// internal/ledger.InMemoryStore nor internal/store's sqlite/postgres Store
// implements it directly: LedgerAdapter adapts the former for tests/dev,
// and cmd/caracal-verifier adapts the latter in production.
type EventReader interface {
	// EventBySequence returns the persisted event at seq, or ok=false if
	// none exists.
	EventBySequence(ctx context.Context, seq int64) (*pipeline.Event, bool, error)

	// BatchByID returns a sealed batch's metadata.
	BatchByID(ctx context.Context, id string) (Batch, bool, error)

	// EventsInBatch returns every event belonging to batchID, ordered by
	// sequence — the leaves needed to reconstruct the batch's tree.
	EventsInBatch(ctx context.Context, batchID string) ([]*pipeline.Event, error)

	// EventsInRange returns every persisted event with seq in
	// [from, to], ordered by sequence.
	EventsInRange(ctx context.Context, from, to int64) ([]*pipeline.Event, error)
}

// Batch is the subset of §3's Merkle Batch the verifier needs to reason
// about — shaped identically to internal/ledger.Batch but declared
// independently so this package never imports internal/ledger (keeping the
// read-only/write-path separation explicit at the type level).
type Batch struct {
	ID           string
	SequenceFrom int64
	SequenceTo   int64
	RootHash     string
	SignerKeyID  string
	Algorithm    string
	Signature    []byte
}

// MandateResolver resolves a mandate id to its record, for chain trace.
type MandateResolver interface {
	Get(mandateID string) (*mandate.Mandate, error)
}

// Service implements the three §4.5 read operations.
type Service struct {
	Events   EventReader
	Mandates MandateResolver
	Signer   signer.Signer
}

// NewService constructs a verifier Service.
func NewService(events EventReader, mandates MandateResolver, s signer.Signer) *Service {
	return &Service{Events: events, Mandates: mandates, Signer: s}
}

// InclusionProofResult is the self-contained response to an inclusion-proof
// query: a client holding the signer's public key can verify it without
// contacting the service again (§4.5).
type InclusionProofResult struct {
	LeafHash      string
	SiblingHashes []string
	// SiblingDirections[i] == true means the sibling at that step sits to
	// the LEFT of the running hash (§4.5 "direction = left").
	SiblingDirections []bool
	ExpectedRoot      string
	BatchID           string
	SignerKeyID       string
	RootSignature     []byte
}

// ErrEventNotFound is returned when the requested sequence has no
// persisted event.
var ErrEventNotFound = fmt.Errorf("verifier: event not found")

// ErrEventUnbatched is returned when the requested event exists but has not
// yet been sealed into a batch — no proof can be produced until it is.
var ErrEventUnbatched = fmt.Errorf("verifier: event not yet batched")

// InclusionProof answers §4.5's first read operation: given an event
// sequence number, return a self-contained inclusion proof. The proof has
// O(log n) steps in the batch size; producing it rebuilds only the batch's
// own tree (O(n) in the batch size), never the whole ledger.
func (s *Service) InclusionProof(ctx context.Context, seq int64) (*InclusionProofResult, error) {
	evt, ok, err := s.Events.EventBySequence(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("verifier: load event: %w", err)
	}
	if !ok {
		return nil, ErrEventNotFound
	}
	if evt.BatchID == "" {
		return nil, ErrEventUnbatched
	}

	batch, ok, err := s.Events.BatchByID(ctx, evt.BatchID)
	if err != nil {
		return nil, fmt.Errorf("verifier: load batch: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("verifier: batch %s referenced by event %d not found", evt.BatchID, seq)
	}

	members, err := s.Events.EventsInBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("verifier: load batch members: %w", err)
	}

	leaves := make([]string, len(members))
	leafIndex := -1
	for i, m := range members {
		leaves[i] = m.EventHash
		if m.Sequence == seq {
			leafIndex = i
		}
	}
	if leafIndex < 0 {
		return nil, fmt.Errorf("verifier: event %d not present among its own batch's members", seq)
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("verifier: rebuild batch tree: %w", err)
	}
	proof, err := tree.Prove(leafIndex)
	if err != nil {
		return nil, fmt.Errorf("verifier: build inclusion proof: %w", err)
	}

	result := &InclusionProofResult{
		LeafHash:      proof.LeafHash,
		ExpectedRoot:  proof.Root,
		BatchID:       batch.ID,
		SignerKeyID:   batch.SignerKeyID,
		RootSignature: batch.Signature,
	}
	for _, step := range proof.Path {
		result.SiblingHashes = append(result.SiblingHashes, step.SiblingHash)
		result.SiblingDirections = append(result.SiblingDirections, step.Side == merkle.SideLeft)
	}
	return result, nil
}

// VerifyInclusionProof is §4.5's "canonical receiver's code": it recomputes
// the root from the proof's sibling path and checks the root signature,
// entirely independent of the Service (a client only needs the signer's
// public key and this function).
func VerifyInclusionProof(ctx context.Context, proof *InclusionProofResult, s signer.Signer) (bool, error) {
	h := proof.LeafHash
	for i, sibling := range proof.SiblingHashes {
		if proof.SiblingDirections[i] {
			h = nodeHashHex(sibling, h)
		} else {
			h = nodeHashHex(h, sibling)
		}
	}
	if h != proof.ExpectedRoot {
		return false, nil
	}
	if err := s.Verify(ctx, []byte(proof.ExpectedRoot), proof.RootSignature, signer.KeyID(proof.SignerKeyID)); err != nil {
		return false, nil
	}
	return true, nil
}

func nodeHashHex(left, right string) string {
	l, _ := hexDecode(left)
	r, _ := hexDecode(right)
	sum := sha256.Sum256(append(append([]byte(nil), l...), r...))
	return hex.EncodeToString(sum[:])
}

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// RangeVerification is §4.5's second read operation: reconstruct every
// batch touching [from, to] from stored leaves and compare to the
// persisted root. Batches are checked in sequence order and checking stops
// at the first batch whose rebuilt root differs; FirstDivergentSeq is the
// lowest sequence number in that batch. Which event inside the batch
// diverged is not identified.
type RangeVerification struct {
	TamperDetected    bool
	FirstDivergentSeq int64
	BatchesChecked    int
}

// VerifyRange implements the range-verification read operation.
func (s *Service) VerifyRange(ctx context.Context, from, to int64) (*RangeVerification, error) {
	events, err := s.Events.EventsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("verifier: load range: %w", err)
	}

	byBatch := make(map[string][]*pipeline.Event)
	var batchOrder []string
	for _, evt := range events {
		if evt.BatchID == "" {
			continue // not yet sealed; nothing to verify yet
		}
		if _, seen := byBatch[evt.BatchID]; !seen {
			batchOrder = append(batchOrder, evt.BatchID)
		}
		byBatch[evt.BatchID] = append(byBatch[evt.BatchID], evt)
	}

	result := &RangeVerification{}
	for _, batchID := range batchOrder {
		batch, ok, err := s.Events.BatchByID(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("verifier: load batch %s: %w", batchID, err)
		}
		if !ok {
			continue
		}

		members, err := s.Events.EventsInBatch(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("verifier: load members of batch %s: %w", batchID, err)
		}

		leaves := make([]string, len(members))
		for i, m := range members {
			leaves[i] = m.EventHash
		}
		tree, err := merkle.Build(leaves)
		if err != nil {
			return nil, fmt.Errorf("verifier: rebuild tree for batch %s: %w", batchID, err)
		}

		result.BatchesChecked++
		if tree.Root != batch.RootHash {
			result.TamperDetected = true
			result.FirstDivergentSeq = firstSequenceIn(members)
			return result, nil
		}
	}
	return result, nil
}

func firstSequenceIn(events []*pipeline.Event) int64 {
	if len(events) == 0 {
		return 0
	}
	min := events[0].Sequence
	for _, e := range events[1:] {
		if e.Sequence < min {
			min = e.Sequence
		}
	}
	return min
}

// ChainStep is one hop in a mandate's ancestry. It carries the mandate
// record only; the event that recorded the mandate's issuance is not looked
// up.
type ChainStep struct {
	Mandate *mandate.Mandate
}

// ChainTrace implements §4.5's third read operation: given a mandate id,
// return its ancestors followed by the mandate itself (root first), for
// audit.
func (s *Service) ChainTrace(ctx context.Context, mandateID string) ([]ChainStep, error) {
	var reversed []ChainStep

	id := mandateID
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("verifier: cycle detected in mandate chain at %s", id)
		}
		seen[id] = true

		m, err := s.Mandates.Get(id)
		if err != nil {
			return nil, fmt.Errorf("verifier: resolve mandate %s: %w", id, err)
		}
		reversed = append(reversed, ChainStep{Mandate: m})
		id = m.ParentID
	}

	chain := make([]ChainStep, len(reversed))
	for i, step := range reversed {
		chain[len(reversed)-1-i] = step
	}
	return chain, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/ledger"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/validator"
)

// NextSequence atomically increments the shared counter row and returns its
// new value (§4.4 step 3: "a single shared transactional allocator"). This
// single row is, per §5, the intended cross-partition scaling bottleneck.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin sequence tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE ledger_sequence SET value = value + 1 WHERE id = 1 RETURNING value`
	var value int64
	if err := tx.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return 0, fmt.Errorf("store: increment sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit sequence tx: %w", err)
	}
	return value, nil
}

// Exists reports whether an event with this idempotency key has already
// been persisted (§4.4 step 2), in O(1) via the unique index on
// idempotency_key.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM authority_events WHERE idempotency_key = %s LIMIT 1`, s.ph(1))
	var one int
	err := s.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Append persists evt, already sequenced and hashed, within a single
// statement — the unique constraint on idempotency_key is defense in depth
// behind the writer's own Exists check (§4.4 step 4).
func (s *Store) Append(ctx context.Context, evt *pipeline.Event) error {
	delegationChain, err := json.Marshal(evt.DelegationChain)
	if err != nil {
		return fmt.Errorf("store: marshal delegation chain: %w", err)
	}

	var mandateID, batchID sql.NullString
	if evt.MandateID != "" {
		mandateID = sql.NullString{String: evt.MandateID, Valid: true}
	}
	if evt.BatchID != "" {
		batchID = sql.NullString{String: evt.BatchID, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO authority_events (sequence, idempotency_key, ts, kind, principal_id, mandate_id, action, resource, decision, denial_reason, delegation_chain, event_hash, batch_id)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13))

	_, err = s.db.ExecContext(ctx, query,
		evt.Sequence, evt.IdempotencyKey(), evt.Timestamp.Unix(), string(evt.Kind), evt.PrincipalID,
		mandateID, evt.Action, evt.Resource, string(evt.Decision), string(evt.DenialReason),
		string(delegationChain), evt.EventHash, batchID,
	)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateEvent
	}
	return err
}

// Unbatched returns persisted events with no batch back-pointer, ordered by
// sequence, for the writer's crash-recovery rescan (§4.4 "Failure and
// recovery"). Like InMemoryStore, it does not filter by partition: a
// single shared sequence space spans all partitions, so any writer
// restarting recovers every orphaned event, not just its own partition's.
func (s *Store) Unbatched(ctx context.Context, partition int) ([]*pipeline.Event, error) {
	query := `
		SELECT sequence, idempotency_key, ts, kind, principal_id, mandate_id, action, resource, decision, denial_reason, delegation_chain, event_hash, batch_id
		FROM authority_events WHERE batch_id IS NULL ORDER BY sequence
	`
	return s.queryEvents(ctx, query)
}

// EventsInBatch returns every event belonging to batchID, ordered by
// sequence — C5's tree-rebuild input.
func (s *Store) EventsInBatch(ctx context.Context, batchID string) ([]*pipeline.Event, error) {
	query := fmt.Sprintf(`
		SELECT sequence, idempotency_key, ts, kind, principal_id, mandate_id, action, resource, decision, denial_reason, delegation_chain, event_hash, batch_id
		FROM authority_events WHERE batch_id = %s ORDER BY sequence
	`, s.ph(1))
	return s.queryEvents(ctx, query, batchID)
}

// EventsInRange returns every persisted event with sequence in [from, to].
func (s *Store) EventsInRange(ctx context.Context, from, to int64) ([]*pipeline.Event, error) {
	query := fmt.Sprintf(`
		SELECT sequence, idempotency_key, ts, kind, principal_id, mandate_id, action, resource, decision, denial_reason, delegation_chain, event_hash, batch_id
		FROM authority_events WHERE sequence BETWEEN %s AND %s ORDER BY sequence
	`, s.ph(1), s.ph(2))
	return s.queryEvents(ctx, query, from, to)
}

// EventBySequence returns the persisted event at seq, for C5's inclusion
// proof lookup.
func (s *Store) EventBySequence(ctx context.Context, seq int64) (*pipeline.Event, bool, error) {
	events, err := s.EventsInRange(ctx, seq, seq)
	if err != nil {
		return nil, false, err
	}
	if len(events) == 0 {
		return nil, false, nil
	}
	return events[0], true, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*pipeline.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*pipeline.Event
	for rows.Next() {
		var (
			evt             pipeline.Event
			idemKey         string
			tsUnix          int64
			kind, decision  string
			denialReason    sql.NullString
			mandateID       sql.NullString
			batchID         sql.NullString
			delegationChain string
		)
		if err := rows.Scan(&evt.Sequence, &idemKey, &tsUnix, &kind, &evt.PrincipalID, &mandateID,
			&evt.Action, &evt.Resource, &decision, &denialReason, &delegationChain, &evt.EventHash, &batchID); err != nil {
			return nil, err
		}

		// idemKey is not re-derived onto evt: it is recomputed from
		// OriginValidatorID/Timestamp/Nonce on demand via
		// Event.IdempotencyKey(), and those three fields are not part of
		// authority_events' persisted shape (§6) — only the derived key
		// needed the unique index, not its inputs.
		evt.Kind = pipeline.Kind(kind)
		evt.Decision = validator.Decision(decision)
		evt.DenialReason = validator.DenialReason(denialReason.String)
		evt.MandateID = mandateID.String
		evt.BatchID = batchID.String
		evt.Timestamp = time.Unix(tsUnix, 0).UTC()
		if delegationChain != "" {
			if err := json.Unmarshal([]byte(delegationChain), &evt.DelegationChain); err != nil {
				return nil, fmt.Errorf("store: unmarshal delegation chain: %w", err)
			}
		}

		out = append(out, &evt)
	}
	return out, rows.Err()
}

// SetBatch stamps batchID onto every event in sequences, one statement per
// event and outside any transaction; SealBatch does the same stamping
// inside its own transaction together with the batch row insert.
func (s *Store) SetBatch(ctx context.Context, sequences []int64, batchID string) error {
	return s.setBatchTx(ctx, s.db, sequences, batchID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) setBatchTx(ctx context.Context, exec execer, sequences []int64, batchID string) error {
	for _, seq := range sequences {
		query := fmt.Sprintf(`UPDATE authority_events SET batch_id = %s WHERE sequence = %s`, s.ph(1), s.ph(2))
		if _, err := exec.ExecContext(ctx, query, batchID, seq); err != nil {
			return fmt.Errorf("store: stamp batch id on sequence %d: %w", seq, err)
		}
	}
	return nil
}

// SealBatch persists a batch row and stamps every constituent event's
// back-pointer as a single transaction (§4.4 "Persistence of batches": "no
// partial batch rows are ever visible").
func (s *Store) SealBatch(ctx context.Context, batch ledger.Batch, sequences []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin seal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO merkle_batches (id, seq_lo, seq_hi, root_hash, signer_key_id, algorithm, signature, close_reason, closed_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))

	if _, err := tx.ExecContext(ctx, query,
		batch.ID, batch.SequenceFrom, batch.SequenceTo, batch.RootHash, batch.SignerKeyID,
		batch.Algorithm, hex.EncodeToString(batch.Signature), string(batch.CloseReason), batch.ClosedAtUnix,
	); err != nil {
		return fmt.Errorf("store: insert batch row: %w", err)
	}

	if err := s.setBatchTx(ctx, tx, sequences, batch.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit seal tx: %w", err)
	}
	return nil
}

// BatchByID loads a sealed batch's metadata, for C5.
func (s *Store) BatchByID(ctx context.Context, id string) (ledger.Batch, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, seq_lo, seq_hi, root_hash, signer_key_id, algorithm, signature, close_reason, closed_at
		FROM merkle_batches WHERE id = %s
	`, s.ph(1))

	var (
		b            ledger.Batch
		closeReason  string
		signatureHex string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.SequenceFrom, &b.SequenceTo, &b.RootHash, &b.SignerKeyID, &b.Algorithm, &signatureHex, &closeReason, &b.ClosedAtUnix,
	)
	if err == sql.ErrNoRows {
		return ledger.Batch{}, false, nil
	}
	if err != nil {
		return ledger.Batch{}, false, err
	}
	b.CloseReason = ledger.CloseReason(closeReason)
	b.Signature, err = hex.DecodeString(signatureHex)
	if err != nil {
		return ledger.Batch{}, false, fmt.Errorf("store: decode batch signature: %w", err)
	}
	return b, true, nil
}

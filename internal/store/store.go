// Package store implements the two persistence tagged variants named in §9:
// embedded SQLite (via modernc.org/sqlite, pure Go, no cgo) for single-node
// and dev deployments, and Postgres (via lib/pq) for production multi-writer
// deployments. Both variants implement the same principal.Store,
// policy.Store, ledger.EventStore, and ledger.BatchStore interfaces — a
// deployment selects one at startup via a config tag, never reflection.
//
// Grounded on the teacher's pkg/store/ledger.SQLLedger/PostgresLedger
// raw-SQL shape (plain database/sql, no ORM, unique-constraint-as-guard),
// generalized from one Obligation table to the spec's full logical schema
// (§6).
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// dialect distinguishes the two tagged variants only by placeholder syntax
// and driver name — the schema and query shapes are otherwise identical,
// since SQLite's type affinity happily accepts the same DDL Postgres uses.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the shared SQL-backed implementation of C1's principal/policy
// stores and C4's ledger EventStore/BatchStore. Construct with NewSQLite or
// NewPostgres depending on the deployment's tagged-variant selection.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLite wraps a *sql.DB opened with the modernc.org/sqlite driver.
func NewSQLite(db *sql.DB) *Store {
	return &Store{db: db, dialect: dialectSQLite}
}

// NewPostgres wraps a *sql.DB opened with the lib/pq driver.
func NewPostgres(db *sql.DB) *Store {
	return &Store{db: db, dialect: dialectPostgres}
}

// ph renders the n-th bind parameter in this store's dialect.
func (s *Store) ph(n int) string {
	if s.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Init creates every table in §6's logical schema if it does not already
// exist, plus the sequence counter row C4's writer allocates against.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}

	seed := "INSERT INTO ledger_sequence (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING"
	if s.dialect == dialectSQLite {
		seed = "INSERT OR IGNORE INTO ledger_sequence (id, value) VALUES (1, 0)"
	}
	if _, err := s.db.ExecContext(ctx, seed); err != nil {
		return fmt.Errorf("store: seed sequence counter: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	workspace TEXT NOT NULL,
	name TEXT NOT NULL,
	owner TEXT NOT NULL,
	kind TEXT NOT NULL,
	parent_id TEXT,
	public_key TEXT,
	metadata TEXT,
	created_at BIGINT NOT NULL,
	retired_at BIGINT,
	UNIQUE (workspace, name)
);

CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	resource_patterns TEXT NOT NULL,
	action_patterns TEXT NOT NULL,
	max_validity_seconds BIGINT NOT NULL,
	max_delegation_depth INTEGER NOT NULL,
	effective_from BIGINT NOT NULL,
	change_reason TEXT,
	intent_schema TEXT,
	semver TEXT,
	UNIQUE (principal_id, version)
);

CREATE TABLE IF NOT EXISTS mandates (
	id TEXT PRIMARY KEY,
	token_version INTEGER NOT NULL,
	issuer_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	parent_id TEXT,
	resource_scope TEXT NOT NULL,
	action_scope TEXT NOT NULL,
	valid_from BIGINT NOT NULL,
	valid_until BIGINT NOT NULL,
	delegation_depth INTEGER NOT NULL,
	intent TEXT,
	policy_version INTEGER NOT NULL,
	algorithm TEXT NOT NULL,
	signer_key_id TEXT NOT NULL,
	signature TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS revocations (
	mandate_id TEXT PRIMARY KEY,
	revoked_at BIGINT NOT NULL,
	reason TEXT
);

CREATE TABLE IF NOT EXISTS authority_events (
	sequence BIGINT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	ts BIGINT NOT NULL,
	kind TEXT NOT NULL,
	principal_id TEXT NOT NULL,
	mandate_id TEXT,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	decision TEXT NOT NULL,
	denial_reason TEXT,
	delegation_chain TEXT,
	event_hash TEXT NOT NULL,
	batch_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_authority_events_principal_ts ON authority_events (principal_id, ts);
CREATE INDEX IF NOT EXISTS idx_authority_events_ts ON authority_events (ts);
CREATE INDEX IF NOT EXISTS idx_authority_events_batch ON authority_events (batch_id);

CREATE TABLE IF NOT EXISTS merkle_batches (
	id TEXT PRIMARY KEY,
	seq_lo BIGINT NOT NULL,
	seq_hi BIGINT NOT NULL,
	root_hash TEXT NOT NULL,
	signer_key_id TEXT NOT NULL,
	algorithm TEXT NOT NULL,
	signature TEXT NOT NULL,
	close_reason TEXT NOT NULL,
	closed_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS signing_keys (
	id TEXT PRIMARY KEY,
	algorithm TEXT NOT NULL,
	public_key TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	retired_at BIGINT
);

CREATE TABLE IF NOT EXISTS ledger_sequence (
	id INTEGER PRIMARY KEY,
	value BIGINT NOT NULL
);
`

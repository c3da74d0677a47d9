package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/caracal-sh/caracal/internal/principal"
)

// Register persists a new principal, translating the unique-constraint
// violation on (workspace, name) into principal.ErrDuplicateName the same
// way InMemoryStore's map-key check does (§4.1 "duplicate_name").
func (s *Store) Register(p principal.Principal) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	var parentID sql.NullString
	if p.ParentID != "" {
		parentID = sql.NullString{String: p.ParentID, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO principals (id, workspace, name, owner, kind, parent_id, public_key, metadata, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))

	_, err = s.db.ExecContext(context.Background(), query,
		p.ID, p.Workspace, p.Name, p.Owner, string(p.Kind), parentID, p.PublicKey, string(metadata), p.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return principal.ErrDuplicateName
	}
	return err
}

// Get loads a principal by id, returning principal.ErrUnknownPrincipal when
// absent (§7).
func (s *Store) Get(id string) (principal.Principal, error) {
	query := fmt.Sprintf(`
		SELECT id, workspace, name, owner, kind, parent_id, public_key, metadata, created_at, retired_at
		FROM principals WHERE id = %s
	`, s.ph(1))

	row := s.db.QueryRowContext(context.Background(), query, id)

	var (
		p             principal.Principal
		kind          string
		parentID      sql.NullString
		metadata      sql.NullString
		createdAtUnix int64
		retiredAtUnix sql.NullInt64
		publicKey     []byte
	)
	err := row.Scan(&p.ID, &p.Workspace, &p.Name, &p.Owner, &kind, &parentID, &publicKey, &metadata, &createdAtUnix, &retiredAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return principal.Principal{}, principal.ErrUnknownPrincipal
		}
		return principal.Principal{}, err
	}

	p.Kind = principal.Kind(kind)
	p.ParentID = parentID.String
	p.PublicKey = publicKey
	p.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return principal.Principal{}, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	if retiredAtUnix.Valid {
		t := time.Unix(retiredAtUnix.Int64, 0).UTC()
		p.RetiredAt = &t
	}
	return p, nil
}

// Retire stamps retired_at, tombstoning the principal (§4.1 "retire
// principal").
func (s *Store) Retire(id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE principals SET retired_at = %s WHERE id = %s`, s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(context.Background(), query, at.Unix(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return principal.ErrUnknownPrincipal
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation
// under either driver this store supports.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	// modernc.org/sqlite wraps SQLITE_CONSTRAINT_UNIQUE in its own error
	// type; matching on its string form avoids an import-only-for-errors.As
	// dependency on the driver's internal error type.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

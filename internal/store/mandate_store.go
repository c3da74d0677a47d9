package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/signer"
)

// MandateIndex is C1's persistent backing for the §6 `mandates` table,
// satisfying internal/mandate.Store and, via Get, the validator's
// MandateResolver, and, via Parent, the revocation cascade's ParentResolver, the same
// way principal_store.go/policy_store.go back their in-memory contracts.
// It embeds *Store to share the connection and dialect placeholder helper,
// and defines its own Get to avoid colliding with *Store's existing
// principal-lookup Get method of the same name.
type MandateIndex struct {
	*Store
}

// NewMandateIndex wraps s for mandate persistence.
func NewMandateIndex(s *Store) MandateIndex {
	return MandateIndex{Store: s}
}

// Put persists a freshly issued, immutable mandate record.
func (m MandateIndex) Put(ctx context.Context, mm *mandate.Mandate) error {
	resources, err := json.Marshal(toPolicyRows(mm.ResourceScope))
	if err != nil {
		return fmt.Errorf("store: marshal mandate resource scope: %w", err)
	}
	actions, err := json.Marshal(toPolicyRows(mm.ActionScope))
	if err != nil {
		return fmt.Errorf("store: marshal mandate action scope: %w", err)
	}
	var intent string
	if len(mm.Intent) > 0 {
		b, err := json.Marshal(mm.Intent)
		if err != nil {
			return fmt.Errorf("store: marshal mandate intent: %w", err)
		}
		intent = string(b)
	}

	query := fmt.Sprintf(`
		INSERT INTO mandates (id, token_version, issuer_id, subject_id, parent_id, resource_scope, action_scope, valid_from, valid_until, delegation_depth, intent, policy_version, algorithm, signer_key_id, signature, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, m.ph(1), m.ph(2), m.ph(3), m.ph(4), m.ph(5), m.ph(6), m.ph(7), m.ph(8), m.ph(9), m.ph(10), m.ph(11), m.ph(12), m.ph(13), m.ph(14), m.ph(15), m.ph(16))

	_, err = m.db.ExecContext(ctx, query,
		mm.ID, mm.Version, mm.IssuerID, mm.SubjectID, nullableString(mm.ParentID),
		string(resources), string(actions), mm.ValidFrom, mm.ValidUntil, mm.DelegationDepth,
		nullableString(intent), mm.PolicyVersion, string(mm.Algorithm), string(mm.SignerKeyID),
		string(mm.Signature), time.Now().Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("store: mandate %s already persisted", mm.ID)
	}
	return err
}

// Get returns the persisted mandate record for id, implementing both
// internal/mandate.Store and validator.MandateResolver.
func (m MandateIndex) Get(id string) (*mandate.Mandate, error) {
	query := fmt.Sprintf(`
		SELECT id, token_version, issuer_id, subject_id, parent_id, resource_scope, action_scope, valid_from, valid_until, delegation_depth, intent, policy_version, algorithm, signer_key_id, signature
		FROM mandates WHERE id = %s
	`, m.ph(1))
	row := m.db.QueryRowContext(context.Background(), query, id)

	var (
		mm                 mandate.Mandate
		parentID, intent   sql.NullString
		resources, actions string
		alg, keyID, sig    string
	)
	err := row.Scan(&mm.ID, &mm.Version, &mm.IssuerID, &mm.SubjectID, &parentID,
		&resources, &actions, &mm.ValidFrom, &mm.ValidUntil, &mm.DelegationDepth,
		&intent, &mm.PolicyVersion, &alg, &keyID, &sig)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mandate.ErrMandateNotFound
		}
		return nil, err
	}

	mm.ParentID = parentID.String
	mm.Algorithm = signer.Algorithm(alg)
	mm.SignerKeyID = signer.KeyID(keyID)
	mm.Signature = []byte(sig)

	var resourceRows, actionRows []policyRow
	if err := json.Unmarshal([]byte(resources), &resourceRows); err != nil {
		return nil, fmt.Errorf("store: unmarshal mandate resource scope: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &actionRows); err != nil {
		return nil, fmt.Errorf("store: unmarshal mandate action scope: %w", err)
	}
	if mm.ResourceScope, err = fromPolicyRows(resourceRows); err != nil {
		return nil, err
	}
	if mm.ActionScope, err = fromPolicyRows(actionRows); err != nil {
		return nil, err
	}
	if intent.Valid && intent.String != "" {
		if err := json.Unmarshal([]byte(intent.String), &mm.Intent); err != nil {
			return nil, fmt.Errorf("store: unmarshal mandate intent: %w", err)
		}
	}
	return &mm, nil
}

// Parent implements revocation.ParentResolver over the same table.
func (m MandateIndex) Parent(id string) (string, bool) {
	mm, err := m.Get(id)
	if err != nil {
		return "", false
	}
	return mm.ParentID, true
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

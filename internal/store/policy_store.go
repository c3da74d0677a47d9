package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caracal-sh/caracal/internal/policy"
)

// policyRow is the JSON wire shape persisted for a Policy's pattern lists:
// only each pattern's raw string and kind are stored, and scanPolicy
// recompiles the anchored form on load.
type policyRow struct {
	Raw  string             `json:"raw"`
	Kind policy.PatternKind `json:"kind"`
}

func toPolicyRows(patterns []policy.Pattern) []policyRow {
	rows := make([]policyRow, len(patterns))
	for i, p := range patterns {
		rows[i] = policyRow{Raw: p.Raw, Kind: p.Kind}
	}
	return rows
}

func fromPolicyRows(rows []policyRow) ([]policy.Pattern, error) {
	patterns := make([]policy.Pattern, len(rows))
	for i, r := range rows {
		p, err := policy.Compile(r.Kind, r.Raw)
		if err != nil {
			return nil, fmt.Errorf("store: recompile pattern %q: %w", r.Raw, err)
		}
		patterns[i] = p
	}
	return patterns, nil
}

// CreateOrUpdate appends a new policy version for principalID, per §4.1
// "policy history is append-only". The (principal_id, version) unique
// constraint is the same "duplicate version" guard InMemoryStore's History
// enforces in code.
func (s *Store) CreateOrUpdate(principalID string, p policy.Policy) error {
	resources, err := json.Marshal(toPolicyRows(p.Resources))
	if err != nil {
		return fmt.Errorf("store: marshal resource patterns: %w", err)
	}
	actions, err := json.Marshal(toPolicyRows(p.Actions))
	if err != nil {
		return fmt.Errorf("store: marshal action patterns: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO policies (id, principal_id, version, resource_patterns, action_patterns, max_validity_seconds, max_delegation_depth, effective_from, change_reason, intent_schema, semver)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11))

	_, err = s.db.ExecContext(context.Background(), query,
		p.ID, principalID, p.Version, string(resources), string(actions),
		p.MaxValiditySeconds, p.MaxDelegationDepth, p.EffectiveFrom.Unix(), p.ChangeReason,
		p.IntentSchema, p.SemVer,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("store: version %d already exists for principal %s", p.Version, principalID)
	}
	return err
}

// CurrentVersion returns the highest version on file for principalID.
func (s *Store) CurrentVersion(principalID string) (policy.Policy, error) {
	query := fmt.Sprintf(`
		SELECT id, principal_id, version, resource_patterns, action_patterns, max_validity_seconds, max_delegation_depth, effective_from, change_reason, intent_schema, semver
		FROM policies WHERE principal_id = %s ORDER BY version DESC LIMIT 1
	`, s.ph(1))
	return s.scanPolicy(s.db.QueryRowContext(context.Background(), query, principalID))
}

// VersionAt returns a specific historical version for principalID.
func (s *Store) VersionAt(principalID string, version int) (policy.Policy, error) {
	query := fmt.Sprintf(`
		SELECT id, principal_id, version, resource_patterns, action_patterns, max_validity_seconds, max_delegation_depth, effective_from, change_reason, intent_schema, semver
		FROM policies WHERE principal_id = %s AND version = %s
	`, s.ph(1), s.ph(2))
	return s.scanPolicy(s.db.QueryRowContext(context.Background(), query, principalID, version))
}

func (s *Store) scanPolicy(row *sql.Row) (policy.Policy, error) {
	var (
		p                    policy.Policy
		resources, actions   string
		effectiveFromUnix    int64
		changeReason         sql.NullString
		intentSchema, semVer sql.NullString
	)
	err := row.Scan(&p.ID, &p.PrincipalID, &p.Version, &resources, &actions, &p.MaxValiditySeconds, &p.MaxDelegationDepth, &effectiveFromUnix, &changeReason, &intentSchema, &semVer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.Policy{}, policy.ErrNotFound
		}
		return policy.Policy{}, err
	}

	var resourceRows, actionRows []policyRow
	if err := json.Unmarshal([]byte(resources), &resourceRows); err != nil {
		return policy.Policy{}, fmt.Errorf("store: unmarshal resource patterns: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &actionRows); err != nil {
		return policy.Policy{}, fmt.Errorf("store: unmarshal action patterns: %w", err)
	}

	p.Resources, err = fromPolicyRows(resourceRows)
	if err != nil {
		return policy.Policy{}, err
	}
	p.Actions, err = fromPolicyRows(actionRows)
	if err != nil {
		return policy.Policy{}, err
	}
	p.EffectiveFrom = time.Unix(effectiveFromUnix, 0).UTC()
	p.ChangeReason = changeReason.String
	p.IntentSchema = intentSchema.String
	p.SemVer = semVer.String
	return p, nil
}

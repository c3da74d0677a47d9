package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/signer"
)

func TestMandateIndexPutMarshalsScopesAndSignature(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	idx := NewMandateIndex(s)

	glob, err := policy.Compile(policy.PatternGlob, "api:x/*")
	require.NoError(t, err)

	m := &mandate.Mandate{
		ID: "m1", Version: 1, IssuerID: "p1", SubjectID: "p2",
		ResourceScope: []policy.Pattern{glob}, ActionScope: []policy.Pattern{glob},
		ValidFrom: 1000, ValidUntil: 2000, DelegationDepth: 0,
		PolicyVersion: 1, Algorithm: signer.AlgorithmEd25519, SignerKeyID: "k1",
		Signature: []byte{0x01, 0x02},
	}

	mock.ExpectExec("INSERT INTO mandates").
		WithArgs(m.ID, m.Version, m.IssuerID, m.SubjectID, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), m.ValidFrom, m.ValidUntil, m.DelegationDepth,
			nil, m.PolicyVersion, string(m.Algorithm), string(m.SignerKeyID), string(m.Signature), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, idx.Put(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMandateIndexGetTranslatesNoRowsToNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	idx := NewMandateIndex(s)

	mock.ExpectQuery("SELECT (.+) FROM mandates").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := idx.Get("missing")
	require.ErrorIs(t, err, mandate.ErrMandateNotFound)
}

func TestMandateIndexParentFalseForUnknownMandate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	idx := NewMandateIndex(s)

	mock.ExpectQuery("SELECT (.+) FROM mandates").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok := idx.Parent("missing")
	require.False(t, ok)
}

package main

import (
	"context"
	"testing"

	"github.com/caracal-sh/caracal/internal/ledger"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/caracal-sh/caracal/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestStoreEventReader_BatchByID_ConvertsType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reader := storeEventReader{Store: s}

	sgn, err := signer.NewInMemory(signer.AlgorithmEd25519)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	sig, keyID, alg, err := sgn.Sign(ctx, []byte("root"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	batch := ledger.Batch{
		ID:           "batch-1",
		SequenceFrom: 1,
		SequenceTo:   1,
		RootHash:     "root",
		SignerKeyID:  string(keyID),
		Algorithm:    string(alg),
		Signature:    sig,
		CloseReason:  ledger.CloseReasonSizeThreshold,
	}
	if err := s.SealBatch(ctx, batch, nil); err != nil {
		t.Fatalf("SealBatch: %v", err)
	}

	got, ok, err := reader.BatchByID(ctx, "batch-1")
	if err != nil {
		t.Fatalf("BatchByID: %v", err)
	}
	if !ok {
		t.Fatal("expected batch to be found")
	}
	if got.ID != batch.ID || got.RootHash != batch.RootHash || got.SignerKeyID != batch.SignerKeyID {
		t.Errorf("converted batch mismatch: got %+v, want fields from %+v", got, batch)
	}
}

func TestStoreEventReader_BatchByID_NotFound(t *testing.T) {
	s := newTestStore(t)
	reader := storeEventReader{Store: s}

	_, ok, err := reader.BatchByID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("BatchByID: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown batch id")
	}
}

package main

import (
	"testing"

	"github.com/caracal-sh/caracal/internal/config"
	"github.com/caracal-sh/caracal/internal/signer"
)

func TestOpenStore_DefaultsToSQLite(t *testing.T) {
	s, err := openStore(config.StoreConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if s == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestOpenLedgerSigner_NoKeyFileUsesInMemoryEd25519(t *testing.T) {
	s, err := openLedgerSigner(config.LedgerConfig{})
	if err != nil {
		t.Fatalf("openLedgerSigner: %v", err)
	}
	keys := s.PublicKeys()
	if len(keys) == 0 || keys[0].Algorithm != signer.AlgorithmEd25519 {
		t.Errorf("expected ed25519, got %+v", keys)
	}
}

package main

import (
	"context"
	"testing"

	"github.com/caracal-sh/caracal/internal/config"
	"github.com/caracal-sh/caracal/internal/observability"
)

func TestBuildServer_WiresAgainstInMemoryDefaults(t *testing.T) {
	cfg := config.Config{}
	cfg.Verifier.Store.DSN = ":memory:"

	obs, err := observability.New(context.Background(), observability.Config{ServiceName: "caracal-verifier-test"})
	if err != nil {
		t.Fatalf("observability.New: %v", err)
	}

	srv, err := buildServer(context.Background(), cfg, obs)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	if srv.Verifier == nil {
		t.Error("expected a non-nil verifier.Service")
	}
}

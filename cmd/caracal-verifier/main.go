// Command caracal-verifier runs C5: the read-only inclusion-proof,
// range-verification, and mandate-chain-trace query service (§4.5). It
// never writes to the ledger store — only C4's writer does that.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caracal-sh/caracal/internal/config"
	"github.com/caracal-sh/caracal/internal/observability"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/caracal-sh/caracal/internal/store"
	"github.com/caracal-sh/caracal/internal/verifier"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("caracal-verifier", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("caracal-verifier: config: %v", err)
		return 1
	}

	ctx := context.Background()
	obs, err := observability.New(ctx, observability.Config{
		ServiceName:  "caracal-verifier",
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		Insecure:     true,
		Enabled:      cfg.Observability.Metrics || cfg.Observability.Tracing,
		LogLevel:     cfg.Observability.LogLevel,
	})
	if err != nil {
		log.Printf("caracal-verifier: observability init: %v", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	srv, err := buildServer(ctx, cfg, obs)
	if err != nil {
		obs.Logger.Error("verifier init failed", "error", err)
		return 1
	}

	httpServer := &http.Server{
		Addr:    cfg.Verifier.ListenAddress,
		Handler: srv,
	}

	go func() {
		obs.Logger.Info("verifier listening", "addr", cfg.Verifier.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("verifier server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	obs.Logger.Info("verifier shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obs.Logger.Error("verifier shutdown error", "error", err)
	}
	return 0
}

func buildServer(ctx context.Context, cfg config.Config, obs *observability.Provider) (*Server, error) {
	ledgerStore, err := openStore(cfg.Verifier.Store)
	if err != nil {
		return nil, err
	}
	if err := ledgerStore.Init(ctx); err != nil {
		return nil, err
	}

	var batchSigner signer.Signer
	if cfg.Verifier.SigningKeyFile != "" {
		batchSigner, err = signer.NewFileKeySet(cfg.Verifier.SigningKeyFile)
	} else {
		batchSigner, err = signer.NewInMemory(signer.AlgorithmEd25519)
	}
	if err != nil {
		return nil, err
	}

	mandates := store.NewMandateIndex(ledgerStore)
	svc := verifier.NewService(storeEventReader{Store: ledgerStore}, mandates, batchSigner)

	return &Server{Verifier: svc, Obs: obs}, nil
}

func openStore(cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.DSN)
	default:
		return store.OpenSQLite(cfg.DSN)
	}
}

// Command caracal-gateway runs C2: the inline HTTP reverse proxy that
// intercepts every agent tool call, runs it through the six-step mandate
// validator (§4.2), and either proxies it upstream or denies it
// fail-closed (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/caracal-sh/caracal/internal/config"
	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/observability"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/pipeline/transport"
	"github.com/caracal-sh/caracal/internal/replay"
	"github.com/caracal-sh/caracal/internal/revocation"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/caracal-sh/caracal/internal/store"
	"github.com/caracal-sh/caracal/internal/validator"

	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("caracal-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("caracal-gateway: config: %v", err)
		return 1
	}

	ctx := context.Background()
	obs, err := observability.New(ctx, observability.Config{
		ServiceName:  "caracal-gateway",
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		Insecure:     true,
		Enabled:      cfg.Observability.Metrics || cfg.Observability.Tracing,
		LogLevel:     cfg.Observability.LogLevel,
	})
	if err != nil {
		log.Printf("caracal-gateway: observability init: %v", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	srv, cleanup, err := buildServer(ctx, cfg, obs)
	if err != nil {
		obs.Logger.Error("gateway init failed", "error", err)
		return 1
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:    cfg.Gateway.ListenAddress,
		Handler: srv,
	}

	go func() {
		obs.Logger.Info("gateway listening", "addr", cfg.Gateway.ListenAddress, "upstream", cfg.Gateway.UpstreamURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("gateway server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	obs.Logger.Info("gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obs.Logger.Error("gateway shutdown error", "error", err)
	}
	return 0
}

// buildServer wires C1's identity/policy store, C2's validator, and a
// producer onto C3's pipeline ingress, returning the HTTP handler and a
// cleanup func that closes the pipeline connection.
func buildServer(ctx context.Context, cfg config.Config, obs *observability.Provider) (*Server, func(), error) {
	var noop func() = func() {}

	var mandateSigner signer.Signer
	var err error
	if cfg.Identity.SigningKeyFile != "" {
		mandateSigner, err = signer.NewFileKeySet(cfg.Identity.SigningKeyFile)
	} else {
		mandateSigner, err = signer.NewInMemory(signer.AlgorithmEd25519)
	}
	if err != nil {
		return nil, noop, fmt.Errorf("init mandate signer: %w", err)
	}

	identityStore, err := openStore(cfg.Identity.Store)
	if err != nil {
		return nil, noop, fmt.Errorf("open identity store: %w", err)
	}
	if err := identityStore.Init(ctx); err != nil {
		return nil, noop, fmt.Errorf("init identity store: %w", err)
	}

	mandates := store.NewMandateIndex(identityStore)
	revocations := revocation.New(mandates)

	var replayCache validator.ReplayCache
	switch cfg.Gateway.ReplayBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Gateway.RedisAddr})
		replayCache = replay.NewRedisCache(rdb, cfg.Gateway.ReplayWindow)
	default:
		replayCache = replay.NewLRUCache(cfg.Gateway.ReplayWindow, 100_000)
	}

	v := &validator.Validator{
		Signer:     mandateSigner,
		Policies:   identityStore,
		Replay:     replayCache,
		Revocation: revocations,
		Mandates:   mandates,
		Config:     validator.Config{ClockSkew: cfg.Gateway.ClockSkew, ReplayWindow: cfg.Gateway.ReplayWindow},
	}

	issuer := &mandate.Issuer{
		Policies:   identityStore,
		Signer:     mandateSigner,
		Revocation: revocations,
	}

	client, err := transport.Dial(cfg.Gateway.PipelineAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, noop, fmt.Errorf("dial pipeline: %w", err)
	}
	producer := pipeline.DefaultProducer(&remoteQueue{client: client})

	upstream, err := newReverseProxy(cfg.Gateway.UpstreamURL)
	if err != nil {
		_ = client.Close()
		return nil, noop, fmt.Errorf("parse upstream url: %w", err)
	}

	srv := &Server{
		Validator:   v,
		Issuer:      issuer,
		Producer:    producer,
		Principals:  identityStore,
		Policies:    identityStore,
		Mandates:    mandates,
		Revocations: revocations,
		Upstream:    upstream,
		ValidatorID: validatorInstanceID(),
		Obs:         obs,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.Gateway.RateLimitRPS), cfg.Gateway.RateLimitBurst),
		Now:         time.Now,
	}

	cleanup := func() { _ = client.Close() }
	return srv, cleanup, nil
}

func openStore(cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.DSN)
	default:
		return store.OpenSQLite(cfg.DSN)
	}
}

// validatorInstanceID gives this gateway process a stable identity for the
// authority event's origin_validator_id field (§4.3's idempotency key
// input). A hostname-derived id keeps events from the same box stable
// across restarts without needing extra config.
func validatorInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "caracal-gateway"
	}
	return "caracal-gateway@" + host
}

// Command caracal-writer runs C4: one sequence-assigning, Merkle-batching
// writer loop per pipeline partition (§4.4), fronted by a gRPC ingress that
// C2 gateways publish events to over internal/pipeline/transport.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/caracal-sh/caracal/internal/archival"
	"github.com/caracal-sh/caracal/internal/config"
	"github.com/caracal-sh/caracal/internal/ledger"
	"github.com/caracal-sh/caracal/internal/observability"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/pipeline/transport"
	"github.com/caracal-sh/caracal/internal/signer"
	"github.com/caracal-sh/caracal/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("caracal-writer", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("caracal-writer: config: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:  "caracal-writer",
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		Insecure:     true,
		Enabled:      cfg.Observability.Metrics || cfg.Observability.Tracing,
		LogLevel:     cfg.Observability.LogLevel,
	})
	if err != nil {
		log.Printf("caracal-writer: observability init: %v", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	ledgerStore, err := openStore(cfg.Ledger.Store)
	if err != nil {
		obs.Logger.Error("open ledger store failed", "error", err)
		return 1
	}
	if err := ledgerStore.Init(ctx); err != nil {
		obs.Logger.Error("init ledger store failed", "error", err)
		return 1
	}

	ledgerSigner, err := openLedgerSigner(cfg.Ledger)
	if err != nil {
		obs.Logger.Error("init ledger signer failed", "error", err)
		return 1
	}

	var batchArchiver ledger.BatchArchiver
	if cfg.Ledger.Archival.Backend != "" {
		sink, err := archival.NewSink(ctx, archival.Config{
			Backend: cfg.Ledger.Archival.Backend,
			Bucket:  cfg.Ledger.Archival.Bucket,
			Prefix:  cfg.Ledger.Archival.Prefix,
			Region:  cfg.Ledger.Archival.Region,
		})
		if err != nil {
			obs.Logger.Error("init archival sink failed", "error", err)
			return 1
		}
		batchArchiver = archival.BatchArchiver{Sink: sink}
	}

	numPartitions := cfg.Pipeline.Partitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	queue := pipeline.NewInProcess(numPartitions, 1024)

	var wg sync.WaitGroup
	batchers := make([]*ledger.Batcher, numPartitions)
	for p := 0; p < numPartitions; p++ {
		batcher := ledger.NewBatcher(ledgerStore, ledgerSigner, uuid.NewString)
		if cfg.Ledger.SealSizeThreshold > 0 || cfg.Ledger.SealTimeThreshold > 0 {
			size := cfg.Ledger.SealSizeThreshold
			if size <= 0 {
				size = ledger.DefaultSizeThreshold
			}
			wallClock := cfg.Ledger.SealTimeThreshold
			if wallClock <= 0 {
				wallClock = ledger.DefaultTimeThreshold
			}
			batcher = batcher.WithThresholds(size, wallClock)
		}
		batcher.Archiver = batchArchiver
		batchers[p] = batcher

		writer := ledger.NewWriter(ledgerStore, batcher)

		partition := p
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := writer.Run(ctx, queue, partition); err != nil {
				obs.Logger.Error("writer loop exited", "partition", partition, "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			batcher.RunTimeoutTicker(ctx, time.Second)
		}()
	}

	grpcServer := transport.NewServer(queue)
	lis, err := net.Listen("tcp", cfg.Pipeline.Address)
	if err != nil {
		obs.Logger.Error("listen failed", "address", cfg.Pipeline.Address, "error", err)
		cancel()
		return 1
	}

	go func() {
		obs.Logger.Info("writer listening", "addr", cfg.Pipeline.Address, "partitions", numPartitions)
		if err := grpcServer.Serve(lis); err != nil {
			obs.Logger.Error("writer grpc server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	obs.Logger.Info("writer shutting down")

	grpcServer.GracefulStop()
	cancel()
	wg.Wait()
	return 0
}

func openStore(cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.DSN)
	default:
		return store.OpenSQLite(cfg.DSN)
	}
}

func openLedgerSigner(cfg config.LedgerConfig) (signer.Signer, error) {
	if cfg.SigningKeyFile != "" {
		return signer.NewFileKeySet(cfg.SigningKeyFile)
	}
	return signer.NewInMemory(signer.AlgorithmEd25519)
}

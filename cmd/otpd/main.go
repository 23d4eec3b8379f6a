// Otpd watches a message spool for SMS verification codes and forwards
// them to a configured HTTP endpoint.
//
// The daemon ingests messages three ways: a POST API, a filesystem watch
// on the spool directory, and on-demand rescans. Matched codes are stored
// one record per sender and dispatched through a durable JetStream work
// queue with bounded retries.
//
// Configuration is loaded from an optional YAML file plus environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	otpd
//
//	# Configure via file and environment
//	DELIVERY_API_URL=https://api.example.com/verify otpd -config /etc/otpd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/bus"
	"github.com/fyrsmithlabs/otpd/internal/config"
	"github.com/fyrsmithlabs/otpd/internal/delivery"
	"github.com/fyrsmithlabs/otpd/internal/httpapi"
	"github.com/fyrsmithlabs/otpd/internal/logging"
	"github.com/fyrsmithlabs/otpd/internal/pipeline"
	"github.com/fyrsmithlabs/otpd/internal/record"
	"github.com/fyrsmithlabs/otpd/internal/source"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  otpd           Start the otpd daemon\n")
			fmt.Fprintf(os.Stderr, "  otpd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handler
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("otpd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the otpd daemon and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger
//  3. Connects to infrastructure (NATS, optionally Postgres)
//  4. Wires the spool source, pipeline, queue, and dispatcher
//  5. Starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting otpd",
		zap.Int("port", cfg.Server.Port),
		zap.String("spool_dir", cfg.Spool.Dir),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("postgres_store", deps.pgPool != nil))

	dispatcher, err := delivery.NewDispatcher(cfg.Delivery, deps.store, deps.events, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	queue, err := delivery.NewQueue(deps.natsConn, dispatcher, cfg.Delivery.MaxAttempts, cfg.Delivery.RetryBackoff, logger)
	if err != nil {
		return fmt.Errorf("failed to create delivery queue: %w", err)
	}

	processor, err := pipeline.New(cfg.Delivery.Keyword, deps.store, queue, deps.events, logger)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	spool, err := source.NewSpool(cfg.Spool.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}

	watcher, err := source.NewWatcher(cfg.Spool.Dir, cfg.Spool.Debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to watch spool: %w", err)
	}
	defer watcher.Close()

	src, err := source.New(spool, watcher, processor.Handle, cfg.Spool.ScanLimit, logger)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	srv, err := httpapi.NewServer(deps.store, src, queue, deps.events, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Background workers
	go src.Run(ctx)
	go func() {
		if err := queue.Run(ctx); err != nil {
			logger.Error("delivery queue stopped", zap.Error(err))
		}
	}()

	// Catch up on anything spooled while the daemon was down.
	if n, err := src.Rescan(ctx); err != nil {
		logger.Warn("startup rescan failed", zap.Error(err))
	} else {
		logger.Info("startup rescan complete", zap.Int("processed", n))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn *nats.Conn
	pgPool   *pgxpool.Pool
	store    record.Store
	events   *bus.Bus
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.pgPool != nil {
		d.pgPool.Close()
	}
}

// initDependencies connects to NATS, selects the record store, and creates
// the event bus. With no database URL configured the daemon runs on the
// in-memory store and records do not survive restarts.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))

	events, err := bus.New(nc, logger)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	deps := &dependencies{natsConn: nc, events: events}

	if cfg.Database.URL == "" {
		logger.Warn("No database configured, using in-memory record store")
		deps.store = record.NewMemStore()
		return deps, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	store, err := record.NewPGStore(ctx, pool)
	if err != nil {
		pool.Close()
		nc.Close()
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}

	logger.Info("Connected to Postgres record store")
	deps.pgPool = pool
	deps.store = store
	return deps, nil
}

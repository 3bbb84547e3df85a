// Command otpwalletd serves OTP wallets over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"otpwallet/config"
	"otpwallet/core/state"
	"otpwallet/native/otp"
	"otpwallet/native/wallet"
	"otpwallet/observability/eventlog"
	"otpwallet/observability/logging"
	telemetry "otpwallet/observability/otel"
	"otpwallet/rpc"
	"otpwallet/state/bank"
	"otpwallet/storage"
)

const serviceName = "otpwalletd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("otpwalletd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var journal *eventlog.Journal
	if cfg.EventLog.DSN != "" {
		if journal, err = eventlog.Open(cfg.EventLog.DSN); err != nil {
			return err
		}
		defer journal.Close()
	}

	engine, err := newEngine(cfg, db, bank.NewLedger(), journal, logger)
	if err != nil {
		return err
	}

	srvCfg := rpc.Config{
		Engine:            engine,
		Logger:            logger,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
	}
	if journal != nil {
		srvCfg.Events = journal
	}
	server := &http.Server{
		Addr:              cfg.RPC.Address,
		Handler:           otelhttp.NewHandler(rpc.New(srvCfg).Handler(), serviceName),
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go pruneLoop(ctx, engine, time.Duration(cfg.Wallet.PruneIntervalSeconds)*time.Second, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPC.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newEngine wires the engine to persistent state and restores saved wallets.
func newEngine(cfg *config.Config, db storage.Database, ledger wallet.Ledger, journal *eventlog.Journal, logger *slog.Logger) (*wallet.Engine, error) {
	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	convention, err := cfg.Convention()
	if err != nil {
		return nil, err
	}
	engine := wallet.NewEngine(ledger, hasher, cfg.ToParams(), otp.WithConvention(convention))
	engine.SetLogger(logger)
	engine.SetStore(state.NewWalletStore(state.NewManager(db)))
	if journal != nil {
		engine.SetEmitter(journal)
	}
	restored, err := engine.Restore()
	if err != nil {
		return nil, fmt.Errorf("restore wallets: %w", err)
	}
	logger.Info("wallets restored", "count", restored, "hash", hasher.Name())
	return engine, nil
}

func pruneLoop(ctx context.Context, engine *wallet.Engine, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := engine.PruneCommits(ctx); n > 0 {
				logger.Debug("pruned commits", "count", n)
			}
		}
	}
}

// Command server runs the wheel tracker quote service: the HTTP API, the
// option quote cache and the periodic repricing of open trades.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/batch"
	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/config"
	"github.com/eddiefleurent/wheel_tracker/internal/dashboard"
	"github.com/eddiefleurent/wheel_tracker/internal/health"
	"github.com/eddiefleurent/wheel_tracker/internal/logging"
	"github.com/eddiefleurent/wheel_tracker/internal/mock"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
	}

	var (
		configPath string
		once       bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Reprice open trades once and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Environment.LogLevel, File: cfg.Environment.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, once); err != nil {
		logger.WithError(err).Fatal("Service stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger, once bool) error {
	logger.WithField("mode", cfg.Environment.Mode).Info("Starting wheel tracker quote service")

	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	hc := cfg.HealthConfig()
	var (
		marketData broker.QuoteSource
		account    broker.AccountSource
	)
	if cfg.UseMockData() {
		logger.Warn("Using simulated market data; prices are not real")
		provider := mock.NewDataProvider()
		marketData, account = provider, provider
	} else {
		marketData = broker.NewAlpacaAPI(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL).
			WithTimeout(cfg.QuoteTimeout()).
			WithLogger(logger)
		account = broker.NewAccountClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.TradingURL,
			cfg.IsPaperTrading(), hc.Timeout)
	}

	breakerSettings := broker.DefaultCircuitBreakerSettings
	breakerSettings.Logger = logger
	quoteSource := broker.NewCircuitBreakerSourceWithSettings(marketData, breakerSettings)
	quoteClient := quotes.NewClient(quoteSource, cfg.QuoteClientConfig(), logger)
	checker := health.NewChecker(account, hc, logger)

	orchestrator := batch.New(quoteClient, store, cfg.BatchConfig(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		summary, err := orchestrator.UpdateOpenTrades(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"updated":  summary.Updated,
			"failed":   summary.Failed,
			"duration": summary.Duration,
		}).Info("Price update complete")
		return nil
	}

	if state := checker.TestConnection(ctx, false); !state.Connected {
		logger.WithField("error", state.Error).Warn("Alpaca account not reachable at startup")
	}

	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, dashboard.Services{
		Quotes:     quoteClient,
		Connection: checker,
		Updater:    orchestrator,
		Storage:    store,
	}, logger)

	go orchestrator.RunAutoUpdates(ctx, cfg.AutoUpdateInterval())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	logger.Info("Service stopped")
	return nil
}

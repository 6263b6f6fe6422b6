package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/vjranagit/framepivot/internal/config"
	"github.com/vjranagit/framepivot/internal/logging"
	"github.com/vjranagit/framepivot/pkg/api"
	"github.com/vjranagit/framepivot/pkg/storage"
	"github.com/vjranagit/framepivot/pkg/transform"
)

const (
	version = "0.3.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "framepivot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.ToLoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting framepivot",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("storage_path", cfg.Storage.Path),
		zap.Int("retention_days", cfg.Storage.RetentionDays),
		zap.Int("compression_level", cfg.Storage.CompressionLevel),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var store storage.Storage
	store, err = storage.NewStorage(cfg.ToStorageConfig(), logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	var cached *storage.CachedStorage
	if cfg.Cache.Enabled {
		cached, err = storage.NewCachedStorage(store, cfg.Cache.Capacity, cfg.Cache.TTL, reg)
		if err != nil {
			return fmt.Errorf("failed to create query cache: %w", err)
		}
		store = cached
	}

	transforms := transform.DefaultRegistry(transform.NewMetrics(reg))
	logger.Info("transforms registered", zap.Strings("ids", transforms.IDs()))

	server := api.NewServer(api.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Timeout:    cfg.Server.Timeout,
		Lookback:   cfg.Query.Lookback,
	}, store, transforms, reg, logger.Named("api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if cached != nil {
		stats := cached.Stats()
		logger.Info("query cache stats",
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses),
			zap.Int("entries", stats.Size),
			zap.Float64("hit_rate_percent", cached.CacheHitRate()),
		)
	}

	logger.Info("server stopped")
	return nil
}

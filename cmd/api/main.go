package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rsvp/internal/api"
	"rsvp/internal/config"
	"rsvp/internal/domain"
	"rsvp/internal/export"
	"rsvp/internal/feed"
	"rsvp/internal/logging"
	"rsvp/internal/metrics"
	"rsvp/internal/repository"
	"rsvp/internal/service"
	"rsvp/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	metrics.Register()

	st, err := store.New(cfg.Database.Path, time.Duration(cfg.Database.LockWaitSeconds)*time.Second, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	offsets := initOffsets(cfg, logger)

	dispatcher := feed.NewDispatcher(st, feed.Options{
		Offsets:      offsets,
		CatchupBatch: cfg.Feed.CatchupBatch,
		BufferSize:   cfg.Feed.BufferSize,
	}, logger)

	exporter := export.New(cfg.Exports.Path)
	svc := service.NewReservationService(st, dispatcher, exporter, logger)
	httpServer := api.NewHTTPServer(cfg.API, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backup := store.NewBackupService(st.Path(), cfg.Backup, logger)
	go backup.Start(ctx)

	startMetricsServer(ctx, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func initOffsets(cfg *config.Config, logger *zerolog.Logger) domain.OffsetRepository {
	memory := repository.NewMemoryOffsetRepository()
	if !cfg.Redis.Enabled {
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable at startup, offsets start on memory fallback")
	}

	redisRepo := repository.NewRedisOffsetRepository(client, time.Duration(cfg.Feed.OffsetTTL)*time.Second)
	return repository.NewFailoverOffsetRepository(redisRepo, memory, logger)
}

func startMetricsServer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

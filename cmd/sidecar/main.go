package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alfred-dev/control-sidecar/demo/httpadapter"
	"github.com/alfred-dev/control-sidecar/demo/transport"
	"github.com/alfred-dev/control-sidecar/internal/config"
	"github.com/alfred-dev/control-sidecar/internal/control"
	"github.com/alfred-dev/control-sidecar/internal/logging"
	"github.com/alfred-dev/control-sidecar/internal/observability"
	"github.com/alfred-dev/control-sidecar/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	log.Info().Str("env", cfg.Env).Str("service", cfg.ServiceName).Msg("control sidecar starting")

	st := openStore(cfg, log)
	defer st.Close()

	metrics := observability.NewMetrics(log)
	tp := transport.New(st, log)

	facade := control.NewFacade(cfg.ServiceName, tp, cfg.Aggregator, nil,
		control.WithLogger(log),
	)
	if err := facade.Start(); err != nil {
		log.Fatal().Err(err).Msg("facade failed to start")
	}

	adapter := httpadapter.New(facade, log, metrics)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      adapter.NewRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sidecar listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if err := facade.Stop(); err != nil {
		log.Error().Err(err).Msg("facade shutdown reported an error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("sidecar stopped gracefully")
	}
}

func openStore(cfg *config.Config, log zerolog.Logger) store.Store {
	if cfg.RedisURL == "" {
		log.Info().Msg("no REDIS_URL configured, using in-memory store")
		return store.NewMemStore()
	}
	rs, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis store init failed, falling back to in-memory store")
		return store.NewMemStore()
	}
	if err := rs.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("redis ping failed, falling back to in-memory store")
		return store.NewMemStore()
	}
	log.Info().Msg("redis store connected")
	return rs
}

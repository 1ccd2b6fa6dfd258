package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openlit/ruleengine/internal/api"
	"github.com/openlit/ruleengine/internal/audit"
	"github.com/openlit/ruleengine/internal/config"
	"github.com/openlit/ruleengine/internal/logging"
	"github.com/openlit/ruleengine/internal/snapshot"
	"github.com/openlit/ruleengine/internal/store"
	"github.com/openlit/ruleengine/internal/telemetry"
	"github.com/openlit/ruleengine/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("logging")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.StoreType).Msg("store")
	}
	defer st.Close()

	auditSvc := audit.NewService(audit.NewLogSink(log.Logger), nil, nil, cfg.AuditQueueSize)

	var hooks *webhook.Dispatcher
	if len(cfg.WebhookURLs) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
		for _, u := range cfg.WebhookURLs {
			endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret})
		}
		hooks = webhook.NewDispatcher(endpoints, webhook.Options{
			MaxRetries: cfg.WebhookMaxRetries,
			Timeout:    cfg.WebhookTimeout,
		})
		log.Info().Int("endpoints", len(endpoints)).Msg("webhooks enabled")
	}

	holder := snapshot.NewHolder()
	etags, unsubscribe := holder.Subscribe()
	defer unsubscribe()
	go func() {
		for etag := range etags {
			log.Debug().Str("etag", etag).Msg("snapshot updated")
		}
	}()

	srvAPI := api.NewServer(st, holder, api.Options{
		AdminKey:       cfg.AdminAPIKey,
		ClientKey:      cfg.ClientAPIKey,
		RateLimitPerIP: cfg.RateLimitPerIP,
		Audit:          auditSvc,
		Webhooks:       hooks,
	})

	// initial snapshot
	if err := srvAPI.RebuildSnapshot(ctx); err != nil {
		log.Fatal().Err(err).Msg("load rules")
	}
	s := holder.Load()
	log.Info().Int("rules", len(s.Rules)).Str("etag", s.ETag).Msg("snapshot loaded")

	if cfg.SnapshotRefresh > 0 {
		go refreshLoop(ctx, srvAPI, cfg.SnapshotRefresh)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server")
			stop()
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	_ = auditSvc.Close()
	if n := auditSvc.Dropped(); n > 0 {
		log.Warn().Int64("dropped", n).Msg("audit events dropped")
	}
	if hooks != nil {
		_ = hooks.Close()
		if n := hooks.Dropped(); n > 0 {
			log.Warn().Int64("dropped", n).Msg("webhook events dropped")
		}
	}
	log.Info().Msg("stopped")
}

// refreshLoop reloads the snapshot so writes made by other replicas become
// visible.
func refreshLoop(ctx context.Context, srv *api.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := srv.RebuildSnapshot(ctx); err != nil {
				log.Warn().Err(err).Msg("snapshot refresh failed")
			}
		}
	}
}

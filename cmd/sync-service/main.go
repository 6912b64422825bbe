package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/halcyon-ai/halcyon-sync/internal/api/http"
	"github.com/halcyon-ai/halcyon-sync/internal/config"
	"github.com/halcyon-ai/halcyon-sync/internal/factory"
	"github.com/halcyon-ai/halcyon-sync/internal/health"
	"github.com/halcyon-ai/halcyon-sync/internal/logger"
	"github.com/halcyon-ai/halcyon-sync/internal/model"
	syncpkg "github.com/halcyon-ai/halcyon-sync/internal/sync"
	"github.com/halcyon-ai/halcyon-sync/internal/transport"
)

func main() {
	// Optional driver override (sqlite | postgres)
	dbDriver := flag.String("db-driver", "", "Override DB_DRIVER (sqlite, postgres)")
	flag.Parse()

	log := logger.New("sync-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dbDriver != "" {
		cfg.DBDriver = *dbDriver
		if err := cfg.ResolveDefaults(); err != nil {
			log.Fatal().Err(err).Msg("Invalid db-driver override")
		}
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("http_port", cfg.HTTPPort).
		Str("default_strategy", cfg.DefaultStrategy).
		Msg("Sync service starting…")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// -------- Persistence collaborator ------
	applier, err := factory.NewApplier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Persistence collaborator unavailable")
	}

	// -------- Sync core --------------------
	overrides, err := cfg.ParseStrategyOverrides()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid strategy overrides")
	}
	hub := transport.NewHub(log, cfg.OfflineQueueCap)
	mgr := syncpkg.NewManager(applier, hub, log, syncpkg.Options{
		SkewTolerance:     cfg.SkewTolerance,
		DefaultStrategy:   model.ResolutionStrategy(cfg.DefaultStrategy),
		StrategyOverrides: overrides,
		MaxUnresolved:     cfg.MaxUnresolved,
	})
	go hub.ReapStale(ctx, cfg.KeepAliveTimeout, cfg.ReapInterval)

	// -------- Health monitor ---------------
	var svcHealth *health.ServiceHealthChecker
	if pinger, ok := applier.(health.HealthPinger); ok {
		storeCheck := health.NewPingChecker("store", pinger, log)
		go storeCheck.Start(ctx, 30*time.Second)
		svcHealth = health.NewServiceHealthChecker(log, storeCheck)
		go svcHealth.Start(ctx, 30*time.Second)
	}

	// -------- Router & Server --------------
	ws := transport.NewWSHandler(hub, mgr, log, cfg.OfflineQueueCap)
	var reporter httpapi.HealthReporter
	if svcHealth != nil {
		reporter = svcHealth
	}
	router := httpapi.NewRouter(mgr, hub, ws, reporter)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Long-lived WebSocket sessions must not be cut off by a write
		// deadline on the outer server.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}

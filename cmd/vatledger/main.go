package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"vatledger/internal/backend"
	"vatledger/internal/cache"
	"vatledger/internal/cli"
	apphttp "vatledger/internal/http"
	"vatledger/internal/log"
	"vatledger/internal/services"
)

func main() {
	cli.LoadEnvFile()

	// Bootstrap logger until the configured one is available
	logger := cli.SetupLogger(nil)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err.Error(), "backend", backendCfg.Type.String())
		os.Exit(1)
	}

	caches := cache.NewManager(logger)
	for _, c := range res.Caches {
		caches.Register(c)
	}
	if len(res.Caches) > 0 {
		caches.StartCleanup(cfg.CacheTTL)
	}

	opts := services.Options{
		RecentDays:  cfg.RecentDays,
		FilterDays:  cfg.FilterDays,
		RecentLimit: cfg.RecentLimit,
		Location:    cfg.Location(),
		Rollback:    cfg.Rollback(),
		Logger:      logger,
	}
	if res.Events != nil {
		opts.Events = res.Events
	}
	tracker := services.NewTracker(res.Backend, opts)

	srv := apphttp.NewServer(":"+cfg.Port, tracker, apphttp.Options{
		Logger:         logger,
		RequestTimeout: 2 * cfg.RequestTimeout,
		CacheStats:     caches.Stats,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		caches.Stop()
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", log.FieldError, err.Error())
			}
		}
	})

	// The first load runs in the background; /readyz reports when it is done.
	go func() {
		loadCtx, cancel := context.WithTimeout(ctx, 2*cfg.RequestTimeout)
		defer cancel()
		if err := tracker.Load(loadCtx); err != nil {
			logger.Warn("Initial load failed", log.FieldOperation, log.OpStartup, log.FieldError, err.Error())
			return
		}
		logger.Info("Initial load complete", log.FieldOperation, log.OpStartup)
	}()

	logger.Info("Starting vatledger server",
		"port", cfg.Port,
		"backend", backendCfg.Type.String(),
		"timezone", cfg.Timezone,
		"rollback", string(cfg.Rollback()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

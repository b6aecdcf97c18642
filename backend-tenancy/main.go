// Package main provides the entry point for the tenancy service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/di"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/tenancy"
	"github.com/prohmpiriya/restaurant-ops/pkg/config"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
	"github.com/prohmpiriya/restaurant-ops/pkg/middleware"
	"github.com/prohmpiriya/restaurant-ops/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to an env config file")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadWithPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  cfg.Log.OutputPath,
	}); err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	log := logger.Get()
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		log.Warn("telemetry disabled", zap.Error(err))
	}

	manager, err := tenancy.Initialize(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize tenancy layer", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.RequestsPerSecond = cfg.Server.TenantRPS
	rateLimit.BurstSize = cfg.Server.TenantBurst
	if addr := cfg.Redis.Addr(); addr != "" {
		limiterClient := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer limiterClient.Close()
		rateLimit.Redis = limiterClient
	}

	container := di.NewContainer(&di.ContainerConfig{
		Manager:    manager,
		AdminToken: cfg.Server.AdminToken,
		Middleware: []gin.HandlerFunc{gin.Recovery(), middleware.CORS(cfg.Server.CORSOrigins)},
		RateLimit:  &rateLimit,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	log.Info("tenancy service started",
		zap.String("addr", srv.Addr),
		zap.Int("tenants", manager.TenantCount()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown HTTP server", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown tenancy layer", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown telemetry", zap.Error(err))
	}

	log.Info("tenancy service shutdown complete")
}

package tenancy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/repository"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/vault"
	"github.com/prohmpiriya/restaurant-ops/pkg/config"
	"github.com/prohmpiriya/restaurant-ops/pkg/database"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
	"github.com/prohmpiriya/restaurant-ops/pkg/telemetry"
)

// Initialize connects to the master store, loads the registry, starts the idle
// sweep and, when configured, the Redis reload listener and Kafka activity sink.
// Any failure before the registry is loaded releases what was opened.
func Initialize(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.Named("tenancy")

	v, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, err
	}

	master, err := database.NewPostgres(ctx, database.FromConfig(cfg.MasterDatabase))
	if err != nil {
		return nil, fmt.Errorf("connect master store: %w", err)
	}
	log.Info("connected to master store",
		zap.String("host", cfg.MasterDatabase.Host),
		zap.String("database", cfg.MasterDatabase.DBName),
	)

	var closers []func() error
	cleanup := func() {
		_ = closeAll(closers)
		master.Close()
	}

	metrics, err := telemetry.NewTenancyMetrics()
	if err != nil {
		log.Warn("tenancy metrics disabled", zap.Error(err))
		metrics = nil
	}

	sinks := activity.MultiSink{repository.NewPostgresActivityRepository(master.Pool())}
	if cfg.Kafka.Enabled() {
		kafkaSink, err := activity.NewKafkaSink(activity.KafkaSinkConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.ActivityTopic,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
		closers = append(closers, func() error { kafkaSink.Close(); return nil })
	}
	activityLog := activity.NewLogger(sinks, activity.Config{
		BufferSize:    cfg.Tenancy.ActivityBuffer,
		BatchSize:     cfg.Tenancy.ActivityBatchSize,
		FlushInterval: cfg.Tenancy.ActivityFlush,
	}, log)
	// the activity logger flushes into the Kafka client, so it closes first
	closers = append([]func() error{activityLog.Close}, closers...)

	store := repository.NewPostgresTenantRepository(master.Pool())
	registry := NewRegistry(store, v, log)
	if _, err := registry.LoadAll(ctx); err != nil {
		cleanup()
		return nil, err
	}

	rewriter := NewRewriter("tenant_id", DefaultScopedTables)
	router := NewRouter(RouterConfig{
		Registry: registry,
		Shared:   master.Pool(),
		Dial: NewPostgresPoolFactory(PoolSettings{
			MaxConns:        int32(cfg.Tenancy.TenantMaxConns),
			MinConns:        int32(cfg.Tenancy.TenantMinConns),
			MaxConnLifetime: cfg.MasterDatabase.ConnMaxLifetime,
			MaxConnIdleTime: cfg.MasterDatabase.ConnMaxIdleTime,
			ConnectTimeout:  cfg.Tenancy.ConnectTimeout,
		}),
		Rewriter: rewriter,
		Logger:   log,
		Metrics:  metrics,
		Activity: activityLog,
	})

	var notifier Notifier
	var listenerCancel context.CancelFunc
	if addr := cfg.Redis.Addr(); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		redisNotifier := NewRedisNotifier(client, cfg.Redis.Channel, uuid.New().String(), log)
		notifier = redisNotifier

		sub, err := redisNotifier.Subscribe(ctx)
		if err != nil {
			log.Warn("registry reload listener disabled", zap.Error(err))
		} else {
			var listenCtx context.Context
			listenCtx, listenerCancel = context.WithCancel(context.Background())
			go sub.Run(listenCtx, func(ctx context.Context, tenantID string) {
				if _, err := registry.LoadAll(ctx); err != nil {
					log.Warn("registry reload failed", zap.String("trigger", tenantID), zap.Error(err))
				}
			})
			closers = append(closers, func() error {
				listenerCancel()
				return sub.Close()
			})
		}
		closers = append(closers, client.Close)
	}

	provisioner := NewProvisioner(ProvisionerConfig{
		Master:       master.Pool(),
		Store:        store,
		Vault:        v,
		Registry:     registry,
		Notifier:     notifier,
		Activity:     activityLog,
		ScopedTables: rewriter.Tables(),
		Logger:       log,
	})

	lifecycle := NewLifecycle(router, cfg.Tenancy.SweepInterval, cfg.Tenancy.MaxIdle, log)
	lifecycle.Start(context.Background())

	log.Info("tenancy layer initialized", zap.Int("tenants", registry.Len()))

	return New(Dependencies{
		Registry:    registry,
		Router:      router,
		Lifecycle:   lifecycle,
		Provisioner: provisioner,
		Activity:    activityLog,
		Metrics:     metrics,
		Logger:      log,
		MaxIdle:     cfg.Tenancy.MaxIdle,
		Master:      master,
		Closers:     closers,
	}), nil
}

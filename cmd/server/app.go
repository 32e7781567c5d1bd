package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-chat/internal/adapters/dto"
	"storefront-chat/internal/adapters/gateway"
	"storefront-chat/internal/adapters/metrics"
	"storefront-chat/internal/adapters/repository"
	"storefront-chat/internal/adapters/websocket"
	"storefront-chat/internal/config"
	"storefront-chat/internal/core/agent"
	"storefront-chat/internal/core/services"
)

// app holds the wired object graph shared by every command
type app struct {
	cfg *config.Config
	db  *sql.DB
	rdb *redis.Client

	metrics    *metrics.Prometheus
	hub        *websocket.StaffHub
	notifier   *services.NotificationService
	killSwitch *services.PanicMode
	resolver   *services.Resolver
	orderDesk  *services.OrderDesk
	dispatcher *services.Dispatcher
	batcher    *services.Batcher
	watchdog   *services.Watchdog
}

// newApp connects the stores and wires adapters into the core services
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	// ==================================================================
	// Step 1: Infrastructure
	// ==================================================================
	slog.Info("Connecting to MariaDB...", "host", cfg.DB.Host, "database", cfg.DB.Database)
	db, err := connectMariaDB(ctx, cfg.DB, 5, 2*time.Second)
	if err != nil {
		return nil, err
	}

	slog.Info("Connecting to Redis...", "addr", cfg.Redis.Addr)
	rdb, err := connectRedis(ctx, cfg.Redis, 5, 2*time.Second)
	if err != nil {
		db.Close()
		return nil, err
	}

	plans, err := config.LoadPlans(cfg.AI.PlansFile)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	gemini, err := gateway.NewGeminiClient(ctx, cfg.AI.GeminiAPIKey)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	// ==================================================================
	// Step 2: Repositories (ports implementations)
	// ==================================================================
	tenants := repository.NewTenantRepository(db)
	customers := repository.NewCustomerRepository(db)
	pending := repository.NewPendingMessageRepository(db)
	history := repository.NewChatHistoryRepository(db)
	catalog := repository.NewCatalogRepository(db)
	carts := repository.NewCartRepository(db)
	orders := repository.NewOrderRepository(db)
	cache := repository.NewRedisRepository(rdb)

	// ==================================================================
	// Step 3: Gateways and side channels
	// ==================================================================
	facebook := gateway.NewFacebookClient(gateway.FacebookClientConfig{
		BaseURL:       cfg.Facebook.BaseURL,
		APIVersion:    cfg.Facebook.APIVersion,
		Timeout:       cfg.Facebook.Timeout,
		RatePerSecond: cfg.Facebook.RatePerSecond,
		Burst:         cfg.Facebook.Burst,
	})
	media := gateway.NewMediaClient(cfg.Facebook.Timeout, cfg.AI.MaxImageBytes)

	prom := metrics.NewPrometheus()
	hub := websocket.NewStaffHub(cfg.App.MeshSecret)
	notifier := services.NewNotificationService(hub, services.LogNotifier{})
	killSwitch := services.NewPanicMode()

	// ==================================================================
	// Step 4: Core services
	// ==================================================================
	executor := agent.NewExecutor(carts, orders, customers, catalog, notifier, prom, cfg.Pipeline.HandoffPause)
	engine := agent.NewEngine(gemini, executor, tenants, catalog, history, cache, plans, media, agent.EngineConfig{
		HistoryWindow: cfg.AI.HistoryWindow,
		MaxToolRounds: cfg.AI.MaxToolRounds,
	})

	resolver := services.NewResolver(tenants, customers, facebook)
	orderDesk := services.NewOrderDesk(orders, tenants, notifier)
	responder := services.NewResponder(facebook, tenants, history, customers, cache)
	pipeline := services.NewPipeline(engine, responder, facebook, catalog, killSwitch, prom, services.PipelineConfig{
		MinReplyDelay: cfg.Pipeline.MinReplyDelay,
		AITimeout:     cfg.AI.Timeout,
	})

	dispatcher := services.NewDispatcher(dto.Decoder{}, cache, resolver, pending, pipeline, services.IntakeConfig{
		BatchingEnabled: cfg.Pipeline.BatchingEnabled,
		QuietWindow:     cfg.Pipeline.QuietWindow,
	})
	batcher := services.NewBatcher(pending, tenants, customers, pipeline, prom, services.BatcherConfig{
		MaxBatchWait:     cfg.Pipeline.MaxBatchWait,
		SweepLimit:       cfg.Pipeline.SweepLimit,
		SweepConcurrency: cfg.Pipeline.SweepConcurrency,
		PendingRetention: cfg.Housekeeping.PendingRetention,
	})
	watchdog, err := services.NewWatchdog(batcher, history, metrics.SystemProbe{}, services.WatchdogConfig{
		Schedule:           cfg.Housekeeping.Schedule,
		DiskPath:           cfg.Housekeeping.DiskPath,
		PurgeDiskThreshold: cfg.Housekeeping.PurgeDiskThreshold,
		HistoryRetention:   cfg.Housekeeping.HistoryRetention,
	})
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		db:         db,
		rdb:        rdb,
		metrics:    prom,
		hub:        hub,
		notifier:   notifier,
		killSwitch: killSwitch,
		resolver:   resolver,
		orderDesk:  orderDesk,
		dispatcher: dispatcher,
		batcher:    batcher,
		watchdog:   watchdog,
	}, nil
}

// Close waits for pending notifications and releases the stores
func (a *app) Close() {
	a.notifier.Wait()
	if err := a.rdb.Close(); err != nil {
		slog.Warn("Failed to close Redis", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close MariaDB", "error", err)
	}
}

// connectMariaDB retries because the database container may still be starting
func connectMariaDB(ctx context.Context, cfg config.DBConfig, maxRetries int, retryDelay time.Duration) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	var err error
	for i := 1; i <= maxRetries; i++ {
		var db *sql.DB
		db, err = repository.OpenMariaDB(ctx, cfg.GetDSN(), pool)
		if err == nil {
			return db, nil
		}
		slog.Warn("Cannot reach MariaDB", "attempt", i, "max", maxRetries, "error", err)
		if i < maxRetries {
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("connect MariaDB after %d attempts: %w", maxRetries, err)
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		slog.Warn("Cannot reach Redis", "attempt", i, "max", maxRetries, "error", err)
		if i < maxRetries {
			if err := sleepCtx(ctx, retryDelay); err != nil {
				rdb.Close()
				return nil, err
			}
		}
	}
	rdb.Close()
	return nil, fmt.Errorf("connect Redis after %d attempts: %w", maxRetries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

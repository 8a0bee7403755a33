// Package bootstrap assembles the tabsync engine: configuration, logging,
// storage, the in-memory order store, the connection hub, the mutation
// pipeline and the reconciliation scheduler, with ordered graceful
// shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tabsync/api"
	"tabsync/config"
	"tabsync/core"
	"tabsync/notify"
	"tabsync/service"
	"tabsync/storage"
	"tabsync/util/goroutine"
)

// App represents the tabsync application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite     *storage.SQLite
	DeltaCache *core.DeltaCache

	Store      *core.Store
	Producer   *core.Producer
	Hub        *api.Hub
	Pool       *core.WorkerPool
	Reconciler *core.Reconciler
	Orders     *service.OrderService
	Notifier   notify.Notifier
	APIServer  *api.API

	cancel context.CancelFunc
}

// NewApp creates a new application instance and initializes all
// components. configPath may be empty; defaults and TABSYNC_ env
// variables apply either way.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("tabsync starting...")

	appCtx, cancel := context.WithCancel(ctx)
	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
		cancel: cancel,
	}

	sqlite, err := storage.NewSQLite(cfg.SQLite.Path, sugar)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	app.SQLite = sqlite

	// The Redis delta mirror is optional; without it reconnect replay is
	// served purely from the in-process log.
	if cfg.Redis.Enabled {
		cache := core.NewDeltaCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.PoolSize, cfg.Sync.DeltaLogLimit, cfg.Redis.DeltaTTL, sugar)
		if err := cache.Ping(appCtx); err != nil {
			sugar.Warnw("Redis unreachable, continuing without delta mirror",
				"addr", cfg.Redis.Addr,
				"error", err)
			cache.Close()
		} else {
			app.DeltaCache = cache
			sugar.Infow("Redis delta mirror enabled", "addr", cfg.Redis.Addr)
		}
	}

	app.Store = core.NewStore(sqlite, app.DeltaCache, cfg.Sync.DeltaLogLimit, sugar)
	app.Producer = core.NewProducer(app.Store, cfg.Sync.RetryLimit, sugar)

	app.Hub = api.NewHub(appCtx, app.Store, api.HubConfig{
		SendBuffer:  cfg.Sync.SendBuffer,
		PongTimeout: cfg.Sync.PongTimeout,
	}, sugar)

	app.Pool = core.NewWorkerPool(appCtx, cfg.Sync.SnapshotWorkers, cfg.Sync.SnapshotQueue, sugar)
	app.Reconciler = core.NewReconciler(app.Store, app.Hub, cfg.Sync.ReconcileInterval, app.Pool, sugar)

	app.Notifier = notify.NewWebhookNotifier(notify.Config{
		Enabled:    cfg.Notifications.Enabled,
		WebhookURL: cfg.Notifications.WebhookURL,
		Method:     cfg.Notifications.Method,
		Headers:    cfg.Notifications.Headers,
		Timeout:    cfg.Notifications.Timeout,
	}, sugar)

	app.Orders = service.NewOrderService(app.Store, app.Producer, app.Hub, app.Notifier, sugar)
	app.APIServer = api.NewAPI(app.Orders, app.Hub, cfg, sugar)

	return app, nil
}

// Start brings every component up. It returns once the HTTP listener is
// running; ListenAndServe errors after startup are fatal and logged.
func (a *App) Start(ctx context.Context) error {
	if err := a.restoreActiveOrders(ctx); err != nil {
		return err
	}

	a.Hub.Start()
	a.Pool.Start()
	a.Reconciler.Start(ctx)

	goroutine.Go("api-server", a.Sugar, func() {
		a.Sugar.Infow("API server listening",
			"host", a.Config.API.Host,
			"port", a.Config.API.Port)
		if err := a.APIServer.Start(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Fatalw("API server failed", "error", err)
		}
	})

	return nil
}

// restoreActiveOrders warms the in-memory store from SQLite so mutations
// and subscriptions against pre-restart orders resolve immediately.
func (a *App) restoreActiveOrders(ctx context.Context) error {
	orders, err := a.SQLite.ListActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active orders: %w", err)
	}
	for _, order := range orders {
		if err := a.Store.Restore(order); err != nil {
			a.Sugar.Warnw("Skipping unrestorable order",
				"order_id", order.ID,
				"error", err)
		}
	}
	a.Sugar.Infow("Active orders restored", "count", len(orders))
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - stop accepting HTTP traffic
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.APIServer != nil {
		if err := a.APIServer.Stop(shutdownCtx); err != nil {
			a.Sugar.Errorw("API server shutdown failed", "error", err)
		}
	}

	// Phase 2 - stop producing snapshots
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}

	// Phase 3 - close live connections
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// Phase 4 - cancel remaining background work, then release storage
	a.cancel()
	if a.DeltaCache != nil {
		if err := a.DeltaCache.Close(); err != nil {
			a.Sugar.Errorw("Redis close failed", "error", err)
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("SQLite close failed", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}

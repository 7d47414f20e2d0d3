package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"retrocare-status/internal/cache"
	"retrocare-status/internal/catalog"
	"retrocare-status/internal/config"
	"retrocare-status/internal/database"
	"retrocare-status/internal/feed"
	"retrocare-status/internal/httpapi"
	"retrocare-status/internal/invalidator"
	"retrocare-status/internal/metrics"
	"retrocare-status/internal/mqttbridge"
	"retrocare-status/internal/reconciler"
	"retrocare-status/internal/redisutil"
	"retrocare-status/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App 进程级装配：连接、组件与 HTTP server 的生命周期都由这里持有，
// 组件自身不管理全局连接
type App struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	status      *StatusService
	bridge      *mqttbridge.Bridge
	server      *http.Server
}

// NewApp 装配整个服务
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// 数据库（启动时自动迁移）
	if err := database.RunMigrations(cfg.Database.GetURL()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Redis（change feed 与视图缓存）
	redisClient := redisutil.NewRedisClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Reconciler.Timezone)
	if err != nil {
		database.Close(db)
		redisutil.Close(redisClient)
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Reconciler.Timezone, err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewPromCollector(registry)

	// 读路径组件
	store := repository.NewEntryStore(db, logger, collector)
	engine := reconciler.NewEngine(logger, collector)
	resultCache := cache.NewResultCache()
	views := cache.NewViewPublisher(
		cache.NewRedisKVStore(redisClient),
		time.Duration(cfg.Reconciler.ViewTTL)*time.Second,
		logger,
	)

	var catalogSource catalog.Source
	if cfg.Catalog.Mode == "http" {
		catalogSource = catalog.NewClient(cfg.Catalog.BaseURL, time.Duration(cfg.Catalog.Timeout)*time.Second, logger)
	} else {
		catalogSource = catalog.NewRepository(db, logger)
	}

	// 失效路径组件
	changeFeed := feed.NewRedisFeed(redisClient, logger, collector,
		time.Duration(cfg.Reconciler.ResubscribeMaxBackoff)*time.Second)
	mux := feed.NewMultiplexer(changeFeed, logger)
	dispatcher := invalidator.NewDispatcher(resultCache, collector, logger, loc)

	status := NewStatusService(
		store, catalogSource, engine, resultCache, views,
		mux, dispatcher, collector, logger, loc,
		time.Duration(cfg.Reconciler.RefreshInterval)*time.Second,
	)

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqttbridge.NewBridge(cfg.MQTT, changeFeed, logger)
	}

	// HTTP 路由
	router := httpapi.NewRouter(logger)
	router.RegisterStatusRoutes(httpapi.NewStatusHandler(status, logger))
	router.RegisterScopeRoutes(httpapi.NewScopeHandler(status, logger))
	router.RegisterOpsRoutes(metrics.Handler(registry))

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		status:      status,
		bridge:      bridge,
		server:      server,
	}, nil
}

// Start 启动兜底刷新、MQTT 桥与 HTTP server（阻塞直到 server 退出）
func (a *App) Start() error {
	a.status.Start()

	if a.bridge != nil {
		if err := a.bridge.Start(); err != nil {
			return fmt.Errorf("failed to start MQTT bridge: %w", err)
		}
	}

	a.logger.Info("HTTP server listening", zap.String("addr", a.config.HTTP.Addr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 按依赖逆序关停
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Stopping retrocare-status service")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if a.bridge != nil {
		a.bridge.Stop()
	}

	a.status.Stop()

	if a.redisClient != nil {
		if err := redisutil.Close(a.redisClient); err != nil {
			a.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	a.logger.Info("Retrocare-status service stopped")
	return nil
}

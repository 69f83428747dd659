package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/infra/httpclient"
	"github.com/cosplaymagic/server/internal/module/ai/gemini"
	"github.com/cosplaymagic/server/internal/module/archive"
	"github.com/cosplaymagic/server/internal/module/auth"
	"github.com/cosplaymagic/server/internal/module/generation"
	"github.com/cosplaymagic/server/internal/module/history"
	"github.com/cosplaymagic/server/internal/module/kv"
	"github.com/cosplaymagic/server/internal/module/quota"
	sharedcache "github.com/cosplaymagic/server/internal/shared/cache"
	"github.com/cosplaymagic/server/internal/shared/config"
	"github.com/cosplaymagic/server/internal/shared/database"
	"github.com/cosplaymagic/server/internal/shared/events"
	"github.com/cosplaymagic/server/internal/shared/logger"
	"github.com/cosplaymagic/server/internal/utils/metrics"
	"github.com/cosplaymagic/server/internal/utils/middleware"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// App represents the application.
type App struct {
	config    *config.Config
	redis     redis.UniversalClient
	store     kv.Store
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	// Event infrastructure
	eventBus *events.Bus

	// Modules
	ledger            *quota.Ledger
	history           *history.Store
	authService       *auth.Service
	authHandler       *auth.Handler
	quotaHandler      *quota.Handler
	historyHandler    *history.Handler
	generationHandler *generation.Handler
	rateLimiter       middleware.RateLimiter
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		config:    cfg,
		logger:    log,
		zapLogger: zapLog,
		registry:  registry,
		metrics:   metrics.NewWithRegistry(registry, "cosplay"),
	}

	ctx := context.Background()

	// Redis is optional for every driver except redis, where it backs the store.
	if cfg.Redis.Address != "" {
		client, err := sharedcache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			if cfg.Store.Driver == StoreRedis {
				return nil, fmt.Errorf("init redis: %w", err)
			}
			zapLog.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			app.redis = client
		}
	}

	store, err := app.openStore()
	if err != nil {
		app.Stop()
		return nil, fmt.Errorf("init store: %w", err)
	}
	app.store = store

	app.router = app.setupRouter()

	if err := app.initModules(ctx); err != nil {
		app.Stop()
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.registerRoutes()

	return app, nil
}

// openStore opens the key-value backend selected by the store driver.
func (a *App) openStore() (kv.Store, error) {
	switch a.config.Store.Driver {
	case "", StoreMemory:
		return kv.NewMemoryStore(), nil
	case StoreRedis:
		if a.redis == nil {
			return nil, fmt.Errorf("store driver %q requires redis.address", StoreRedis)
		}
		return kv.NewRedisStore(a.redis), nil
	case StorePostgres:
		db, err := database.New(&a.config.Database, a.zapLogger)
		if err != nil {
			return nil, err
		}
		store, err := kv.NewGormStore(db)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		return store, nil
	case StoreSQLite:
		return kv.NewSQLiteStore(a.config.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.config.Store.Driver)
	}
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(a.config.Server.AllowOrigins)))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return r
}

// initModules wires stores, the generation pipeline and its collaborators.
func (a *App) initModules(ctx context.Context) error {
	cfg := a.config
	keys := kv.NewKeyspace(cfg.Store.KeyPrefix)

	a.eventBus = events.NewBus(a.zapLogger)
	a.eventBus.Register(events.NewAuditHandler(a.zapLogger))

	a.ledger = quota.NewLedger(a.store, keys, quota.Limits{
		Free:    cfg.Quota.FreeLimit,
		Premium: cfg.Quota.PremiumLimit,
		Period:  cfg.Quota.SubscriptionPeriod,
	}, a.zapLogger,
		quota.WithRecorder(a.metrics),
		quota.WithPublisher(a.eventBus),
	)
	a.quotaHandler = quota.NewHandler(a.ledger)

	a.history = history.NewStore(a.store, keys, cfg.History.MaxItems, a.zapLogger)
	a.historyHandler = history.NewHandler(a.history)

	if err := a.initAuthModule(keys); err != nil {
		return fmt.Errorf("init auth module: %w", err)
	}

	a.initGenerationModule()

	if err := a.initArchive(ctx); err != nil {
		return fmt.Errorf("init archive: %w", err)
	}

	if a.redis != nil {
		a.rateLimiter = middleware.NewRedisLimiter(a.redis)
	} else {
		a.rateLimiter = middleware.NewMemoryLimiter()
	}

	return nil
}

func (a *App) initAuthModule(keys kv.Keyspace) error {
	jwtConfig := &auth.JWTConfig{
		Secret:            a.config.Auth.JWTSecret,
		AccessTokenExpiry: a.config.Auth.AccessTokenExpiry,
		Issuer:            a.config.Auth.Issuer,
	}
	if jwtConfig.Secret == "" {
		// Sessions will not survive a restart.
		a.zapLogger.Warn("auth.jwt_secret not set, using an ephemeral secret")
		jwtConfig.Secret = uuid.NewString()
	}
	if jwtConfig.AccessTokenExpiry <= 0 {
		jwtConfig.AccessTokenExpiry = auth.DefaultJWTConfig().AccessTokenExpiry
	}

	a.authService = auth.NewService(a.store, keys, auth.NewJWTManager(jwtConfig), a.zapLogger)
	a.authHandler = auth.NewHandler(a.authService)
	return nil
}

func (a *App) initGenerationModule() {
	cfg := a.config.Gemini

	client := gemini.NewClient(gemini.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		TextModel:         cfg.TextModel,
		ImageModel:        cfg.ImageModel,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		FailureThreshold:  cfg.FailureThreshold,
		CircuitTimeout:    cfg.CircuitTimeout,
	}, httpclient.New(cfg.HTTPClient), a.zapLogger, gemini.WithRecorder(a.metrics))
	if !client.Configured() {
		a.zapLogger.Warn("gemini.api_key not set, generations will fail as unconfigured")
	}

	pipeline := generation.NewPipeline(a.ledger, client, a.zapLogger,
		generation.WithStageRecorder(a.metrics),
	)
	service := generation.NewService(pipeline, a.ledger, a.history, a.zapLogger,
		generation.WithPublisher(a.eventBus),
		generation.WithOutcomeRecorder(a.metrics),
	)
	validator := generation.NewUploadValidator(a.config.Upload.MaxBytes, a.config.Upload.AllowedTypes)
	a.generationHandler = generation.NewHandler(service, validator)
}

// initArchive registers the archive handler when a driver is configured.
func (a *App) initArchive(ctx context.Context) error {
	archiver, err := archive.New(ctx, &a.config.Archive)
	if err != nil {
		return err
	}
	if archiver.Driver() == archive.DriverNone {
		return nil
	}
	a.eventBus.Register(archive.NewHandler(archiver, a.metrics, a.zapLogger))
	a.zapLogger.Info("archiving generated images", zap.String("driver", archiver.Driver()))
	return nil
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	publicRouter := v1.Group("")

	protectedRouter := v1.Group("")
	protectedRouter.Use(middleware.RequireAuth(a.authService))

	a.authHandler.RegisterRoutes(publicRouter)
	a.authHandler.RegisterProtectedRoutes(protectedRouter)
	a.quotaHandler.RegisterRoutes(protectedRouter)
	a.historyHandler.RegisterRoutes(protectedRouter)

	var extra []gin.HandlerFunc
	if a.config.RateLimit.Enabled {
		extra = append(extra, middleware.RateLimit(a.rateLimiter, middleware.RateLimitConfig{
			Limit:  a.config.RateLimit.Limit,
			Window: a.config.RateLimit.Window,
		}))
	}
	a.generationHandler.RegisterRoutes(protectedRouter, extra...)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the store and connections. The store owns its
// connection, so redis is closed here only when it serves the limiter alone.
func (a *App) Stop() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.zapLogger.Warn("close store", zap.Error(err))
		}
	}

	if a.redis != nil && a.config.Store.Driver != StoreRedis {
		_ = a.redis.Close()
	}

	_ = a.zapLogger.Sync()
}

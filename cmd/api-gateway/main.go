package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable-api/api/swagger"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Weekly class timetable configuration, generation and export.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type timetableBackend struct {
	store      service.TimetableStore
	exportJobs service.ExportJobStore
	roster     *repository.RosterRepository
	ready      func() error
	close      func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open timetable store", zap.String("store", cfg.Timetable.Store), zap.Error(err))
	}
	defer backend.close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if cfg.Timetable.CacheEnabled {
		redisClient, redisErr := cache.NewRedis(ctx, cfg.Redis)
		if redisErr != nil {
			logr.Warn("redis unavailable, timetable cache disabled", zap.Error(redisErr))
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(redisClient, "timetable", logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled && cacheRepo != nil)

	timetableSvc := service.NewTimetableService(backend.store, cacheSvc, metricsSvc, validate, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	timetableHandler := handler.NewTimetableHandler(timetableSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, backend.ready)

	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		exportJobSvc, queue, exportErr := startExports(ctx, cfg, backend, timetableSvc, metricsSvc, validate, logr)
		if exportErr != nil {
			logr.Fatal("failed to start export pipeline", zap.Error(exportErr))
		}
		defer queue.Stop()
		exportHandler = handler.NewExportHandler(exportJobSvc)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health"))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), tokenSvc, timetableHandler, exportHandler, metricsHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Timetable.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(api *gin.RouterGroup, tokens *service.TokenService, timetables *handler.TimetableHandler, exports *handler.ExportHandler, metrics *handler.MetricsHandler) {
	admin := internalmiddleware.RequireAdmin()

	if exports != nil {
		api.GET("/timetables/exports/download/:token", exports.Download)
	}

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokens))

	secured.GET("/metrics/summary", admin, metrics.Summary)

	group := secured.Group("/timetables")
	group.GET("/settings", timetables.GetSettings)
	group.PUT("/settings", admin, timetables.UpdateTimeGrid)
	group.GET("/periods", timetables.Periods)
	group.PUT("/plans/:classId/:subjectId", admin, timetables.UpsertRequirement)
	group.DELETE("/plans/:classId/:subjectId", admin, timetables.DeleteRequirement)
	group.PUT("/selection", admin, timetables.SelectClasses)
	group.POST("/generate", admin, timetables.Generate)
	group.GET("/grids", timetables.ListGrids)
	group.GET("/grids/:classId", timetables.GetGrid)
	group.PUT("/grids/:classId/cells", admin, timetables.SetCell)
	group.DELETE("", admin, timetables.Reset)

	if exports != nil {
		group.POST("/exports", exports.Create)
		group.GET("/exports/:id", exports.Status)
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*timetableBackend, error) {
	switch cfg.Timetable.Store {
	case config.StoreBolt:
		store, err := repository.OpenBoltTimetableStore(cfg.Timetable.BoltPath)
		if err != nil {
			return nil, err
		}
		return &timetableBackend{
			store:      store,
			exportJobs: store.ExportJobs(),
			close:      store.Close,
		}, nil
	default:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			applied, err := database.Migrate(ctx, db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			if len(applied) > 0 {
				logr.Info("migrations applied", zap.Strings("versions", applied))
			}
		}
		return &timetableBackend{
			store:      repository.NewTimetableRepository(db),
			exportJobs: repository.NewExportJobRepository(db),
			roster:     repository.NewRosterRepository(db),
			ready:      pingFunc(db),
			close:      db.Close,
		}, nil
	}
}

func pingFunc(db *sqlx.DB) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

func startExports(ctx context.Context, cfg *config.Config, backend *timetableBackend, timetables *service.TimetableService, metrics *service.MetricsService, validate *validator.Validate, logr *zap.Logger) (*service.ExportJobService, *jobs.Queue, error) {
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	var roster service.RosterLookup
	if backend.roster != nil {
		roster = backend.roster
	}

	exportSvc := service.NewExportService(timetables, roster, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)

	retries := cfg.Exports.WorkerRetries
	if retries <= 0 {
		retries = 3
	}
	worker := service.NewExportWorker(backend.exportJobs, exportSvc, metrics, retries, logr)
	queue := jobs.NewQueue("timetable-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: retries,
		JobTimeout: 2 * time.Minute,
		Logger:     logr,
	})
	queue.Start(ctx)
	if err := metrics.RegisterQueueDepth(queue.Name(), queue.Depth); err != nil {
		logr.Warn("queue depth gauge not registered", zap.Error(err))
	}

	jobSvc := service.NewExportJobService(backend.exportJobs, timetables, queue, exportSvc, metrics, validate, logr, service.ExportJobConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	})
	jobSvc.RecoverPendingJobs(ctx)
	jobSvc.StartCleanup(ctx)
	return jobSvc, queue, nil
}

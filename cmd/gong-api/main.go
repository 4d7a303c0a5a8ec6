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

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/gongplan/gong-api/api/swagger"
	"github.com/gongplan/gong-api/internal/handler"
	"github.com/gongplan/gong-api/internal/repository"
	"github.com/gongplan/gong-api/internal/service"
	"github.com/gongplan/gong-api/pkg/cache"
	"github.com/gongplan/gong-api/pkg/config"
	"github.com/gongplan/gong-api/pkg/database"
	"github.com/gongplan/gong-api/pkg/export"
	"github.com/gongplan/gong-api/pkg/jobs"
	"github.com/gongplan/gong-api/pkg/logger"
	"github.com/gongplan/gong-api/pkg/storage"
)

// @title Gong Planning API
// @version 1.0.0
// @description Center schedule planning: edit locks, course reconciliation and plan exports.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, cfg.Database.MigrationsPath)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logr.Info("migrations applied", zap.Strings("files", applied))
	}

	var redisClient *redis.Client
	if cfg.Courses.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, course cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metrics := service.NewMetricsService()

	centerRepo := repository.NewCenterRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	plannerRepo := repository.NewPlannerRepository(db)
	typeMapRepo := repository.NewTypeMapRepository(cfg.Courses.TypeMapPath)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Courses.CacheTTL, logr, cfg.Courses.CacheEnabled)

	authSvc := service.NewAuthService(plannerRepo, logr, service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	sessions := service.NewSessionManager(service.CountdownConfig{
		Duration:    cfg.Editing.LockDuration,
		Interval:    cfg.Editing.CountdownInterval,
		MinInterval: cfg.Editing.MinInterval,
	}, service.SystemClock, metrics, logr)
	tickets := storage.NewSignedURLSigner(cfg.Editing.StreamTicketSecret, cfg.Editing.StreamTicketTTL)
	lockSvc := service.NewLockService(centerRepo, sessions, tickets, metrics, logr, service.LockConfig{
		Duration:         cfg.Editing.LockDuration,
		InstallationHour: cfg.Editing.InstallationHour,
	})

	releaseQueue := jobs.NewQueue("lock-release", lockSvc.HandleRelease, jobs.QueueConfig{
		Workers:    cfg.Jobs.ReleaseWorkers,
		MaxRetries: cfg.Jobs.ReleaseRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			logr.Error("lock release abandoned; the stale sweep will free it", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	lockSvc.UseQueue(releaseQueue)

	fetcher := service.NewCourseFetcher(service.CourseFetcherConfig{
		URL:       cfg.Courses.FetchURL,
		UserAgent: cfg.Courses.UserAgent,
		Timeout:   cfg.Courses.FetchTimeout,
		Retries:   cfg.Courses.FetchRetries,
		CacheTTL:  cfg.Courses.CacheTTL,
	}, nil, cacheSvc, metrics, logr)

	planSvc := service.NewPlanService(db, centerRepo, periodRepo, typeMapRepo, fetcher, lockSvc, validator.New(), logr, service.PlanConfig{
		HorizonMonths: cfg.Courses.HorizonMonths,
		HorizonDays:   cfg.Courses.HorizonDays,
	})

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return fmt.Errorf("prepare export storage: %w", err)
	}
	exportSvc := service.NewExportService(planSvc, files, storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL), service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, export.NewCSVExporter(';'), export.NewPDFExporter())

	checks := map[string]handler.Pinger{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:      authSvc,
		metrics:   metrics,
		ops:       handler.NewMetricsHandler(metrics, checks),
		centers:   handler.NewCenterHandler(lockSvc, authSvc),
		locks:     handler.NewLockHandler(lockSvc, planSvc),
		countdown: handler.NewCountdownHandler(lockSvc),
		plans:     handler.NewPlanHandler(planSvc, exportSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	releaseQueue.Start(ctx)
	if released, err := lockSvc.Recover(ctx); err != nil {
		logr.Warn("lock recovery failed", zap.Error(err))
	} else {
		logr.Info("edit locks recovered", zap.Int("released", released))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Editing.StaleSweepInterval, func() {
			if _, err := lockSvc.Recover(gctx); err != nil {
				logr.Warn("stale lock sweep failed", zap.Error(err))
			}
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Exports.CleanupInterval, func() {
			removed, err := exportSvc.Cleanup(0)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				return
			}
			if len(removed) > 0 {
				logr.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("server shutting down")
		sessions.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	releaseQueue.Stop()
	return err
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/handlers"
	"github.com/onurcolak/sms-dispatch/internal/middlewares"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/internal/repository"
	"github.com/onurcolak/sms-dispatch/internal/scheduler"
	"github.com/onurcolak/sms-dispatch/internal/service"
	"github.com/onurcolak/sms-dispatch/internal/worker"
	"github.com/onurcolak/sms-dispatch/pkg/database"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
	"github.com/onurcolak/sms-dispatch/pkg/redis"
	"github.com/onurcolak/sms-dispatch/pkg/token"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
	"github.com/onurcolak/sms-dispatch/routes"
)

func main() {
	cfg, err := environments.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)

	// Hard-fail if required secrets are missing
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	logger.Infof("Starting SMS dispatch service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Job queue. A redis outage at startup leaves the API up in degraded mode:
	// enqueue endpoints answer 503 and the sweep runs inline.
	var (
		redisClient *redis.Client
		jobs        queue.Queue
		limiter     queue.Limiter
	)
	switch cfg.Queue.Backend {
	case "memory":
		logger.Warnf("Using in-process job queue, jobs do not survive a restart")
		jobs = queue.NewMemoryQueue(cfg.Queue.LeaseTimeout)
		limiter = queue.NewLocalLimiter(cfg.Queue.RateLimitMax, cfg.Queue.RateLimitWindow)
	default:
		redisClient, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Errorf("Redis not available, running degraded: %v", err)
			jobs = queue.NewDegraded(err)
		} else {
			jobs = queue.NewValkeyQueue(redisClient.Valkey(), cfg.Queue.Prefix, cfg.Queue.LeaseTimeout)
			limiter = queue.NewWindowLimiter(redisClient.Valkey(), cfg.Queue.Prefix, cfg.Queue.RateLimitMax, cfg.Queue.RateLimitWindow)
		}
	}

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	contactRepo := repository.NewContactRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	creditRepo := repository.NewCreditRepository(db)

	// Initialize services
	aggregates := service.NewAggregateMaintainer(campaignRepo, cfg.Aggregate.Debounce)
	store := service.NewMessageStore(messageRepo, aggregates, cfg.Dispatch.ClaimLease)
	credits := service.NewCreditLedger(creditRepo)
	providerClient := provider.NewClient(cfg.Provider)
	logger.Infof("Provider configured: %s", providerClient.GetURL())

	footer := service.NewComplianceFooter(
		token.NewService(cfg.Dispatch.TokenSecret),
		cfg.Dispatch.UnsubscribeBaseURL,
		cfg.Dispatch.OfferBaseURL,
	)
	dispatch := service.NewDispatchEngine(
		campaignRepo,
		contactRepo,
		store,
		providerClient,
		credits,
		jobs,
		footer,
		cfg.Dispatch,
		cfg.Queue.MaxAttempts,
	)
	reconciler := service.NewReconciler(store, providerClient, cfg.Reconcile.SweepLimit)
	importer := service.NewContactImporter(contactRepo, validator.New())

	router := worker.NewRouter()
	service.RegisterJobs(router, dispatch, reconciler, importer)
	pool := worker.NewPool(jobs, limiter, router, worker.ConfigFrom(cfg.Queue))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize scheduler
	sched := scheduler.NewScheduler(jobs, reconciler, aggregates, cfg.Reconcile, cfg.Queue.MaxAttempts)
	reconciler.OnGlobalRefresh(sched.RecordSweep)

	// Initialize handlers
	var redisHealth interface{ Ping(context.Context) error }
	if redisClient != nil {
		redisHealth = redisClient
	}
	var poolStats interface{ Stats() worker.PoolStats }
	if jobs.Available() {
		poolStats = pool
	}

	h := routes.Handlers{
		Health:    handlers.NewHealthHandler(db, redisHealth, jobs),
		Campaign:  handlers.NewCampaignHandler(dispatch, campaignRepo, aggregates),
		Reconcile: handlers.NewReconcileHandler(reconciler),
		Message:   handlers.NewMessageHandler(store),
		Credit:    handlers.NewCreditHandler(credits, store),
		Contact:   handlers.NewContactHandler(jobs, cfg.Queue.MaxAttempts),
		Queue:     handlers.NewQueueHandler(jobs, poolStats),
		Scheduler: handlers.NewSchedulerHandler(sched, ctx),
	}

	// Auto-start scheduler
	if cfg.Reconcile.AutoStart {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, h, cfg)

	// Background workers share one lifetime with the process context
	workers, workersCtx := errgroup.WithContext(ctx)
	workers.Go(func() error { return aggregates.Run(workersCtx) })
	if jobs.Available() {
		workers.Go(func() error { return pool.Run(workersCtx) })
	} else {
		logger.Warnf("Worker pool not started: job queue unavailable")
	}

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-workersCtx.Done():
		logger.Errorf("Background worker stopped unexpectedly")
	}

	logger.Infof("Shutting down gracefully...")

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Cancel context so workers drain and the aggregate maintainer flushes
	cancel()
	logger.Infof("Waiting for workers to drain...")
	if err := workers.Wait(); err != nil {
		logger.Errorf("Worker shutdown error: %v", err)
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}

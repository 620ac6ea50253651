package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/incast-service/internal/cache"
	"github.com/Dan9191/incast-service/internal/config"
	"github.com/Dan9191/incast-service/internal/handler"
	"github.com/Dan9191/incast-service/internal/integrations/expenses"
	"github.com/Dan9191/incast-service/internal/metrics"
	"github.com/Dan9191/incast-service/internal/middleware"
	"github.com/Dan9191/incast-service/internal/regressor"
	"github.com/Dan9191/incast-service/internal/repository"
	"github.com/Dan9191/incast-service/internal/scheduler"
	"github.com/Dan9191/incast-service/internal/service"
	"github.com/Dan9191/incast-service/internal/store"
	"github.com/Dan9191/incast-service/internal/timeseries"
	"github.com/Dan9191/incast-service/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	// LOG_LEVEL may come from the .env file
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize blob storage
	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open blob storage: %v", err)
	}
	defer closeBlobs()

	collector := metrics.NewCollector("incast")

	// Initialize layers
	modelStore := store.NewModelStore(blobs, cfg.ModelNamespace, cfg.ModelPrefix, cfg.ModelExt, logger).
		WithObserver(collector)
	modelCache := cache.New(modelStore, logger).WithObserver(collector)

	// Every stored model is loaded before the first request is served
	stats, err := modelCache.Build(ctx)
	if err != nil {
		logger.Fatalf("Failed to build model cache: %v", err)
	}
	logger.Infof("Model cache ready: %d models loaded, %d failed", stats.Loaded, len(stats.Failed))

	preparer, err := timeseries.NewPreparer(cfg.Model.WindowSize, cfg.Model.SmoothingLevel, cfg.Model.SalaryCutoff)
	if err != nil {
		logger.Fatalf("Failed to create time series preparer: %v", err)
	}
	trainer := regressor.NewTrainer(regressor.TrainerConfig{
		HiddenUnits:    cfg.Model.HiddenUnits,
		Epochs:         cfg.Model.Epochs,
		LearningRate:   cfg.Model.LearningRate,
		BatchSize:      cfg.Model.BatchSize,
		ValidationSize: cfg.Model.ValidationSize,
		Seed:           cfg.Model.Seed,
	})
	incomes := expenses.NewClient(cfg.ExpensesAPIEndpoint, cfg.ExpensesAPITimeout, logger)

	svc := service.NewService(incomes, modelStore, modelCache, preparer, trainer, logger, cfg.DefaultCurrency).
		WithObserver(collector)
	if cfg.NotificationsEnabled() {
		svc.WithNotifier(email.NewSender(cfg, logger))
	}
	h := handler.NewHandler(svc, modelCache, logger)

	if cfg.CacheReloadSchedule != "" {
		sched, err := scheduler.NewScheduler(cfg.CacheReloadSchedule, modelCache, logger, 5*time.Minute)
		if err != nil {
			logger.Fatalf("Failed to create scheduler: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.CorrelationID, middleware.RequestLogger(logger, collector))
	// Public routes
	r.HandleFunc("/", h.Smoke).Methods("GET")
	r.Handle("/metrics", collector.Handler()).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	authRouter.HandleFunc("/predict", h.Predict).Methods("GET")
	authRouter.HandleFunc("/train", h.Train).Methods("POST")
	authRouter.HandleFunc("/cache/reload", h.ReloadCache).Methods("POST")

	// Start server. Training is long running, hence no write timeout.
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (repository.BlobStore, func(), error) {
	switch cfg.BlobBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		repo := repository.NewRepository(db, cfg.ModelsBucket)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() { db.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		rs := repository.NewRedisStore(client, cfg.ModelsBucket)
		return rs, func() { rs.Close() }, nil
	default:
		return repository.NewMemoryStore(), func() {}, nil
	}
}

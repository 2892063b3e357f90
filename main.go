package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafcare/leafcare-engine/pkg/audit"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/classifier"
	"github.com/leafcare/leafcare-engine/pkg/config"
	"github.com/leafcare/leafcare-engine/pkg/database"
	"github.com/leafcare/leafcare-engine/pkg/handlers"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/middleware"
	"github.com/leafcare/leafcare-engine/pkg/ratelimit"
	"github.com/leafcare/leafcare-engine/pkg/recommender"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
	"github.com/leafcare/leafcare-engine/pkg/services"
	"github.com/leafcare/leafcare-engine/pkg/upload"
	"github.com/leafcare/leafcare-engine/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting leafcare-engine",
		zap.String("version", cfg.Version),
		zap.String("addr", cfg.Addr()),
		zap.String("classifier", cfg.Classifier.BaseURL),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("template_generator", cfg.Generator.UseTemplates()),
		zap.Duration("rate_limit_window", cfg.RateLimit.Window),
		zap.Int("rate_limit_max", cfg.RateLimit.MaxRequests))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		ConnectRetries: 5,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB, err := database.OpenSQL(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = sqlDB.Close()
		return err
	}
	_ = sqlDB.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	userRepo := repositories.NewUserRepository(db)
	recommendationRepo := repositories.NewRecommendationRepository(db)

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenIssuer(&cfg.Auth)
	auditor := audit.NewSecurityAuditor(logger)

	userService := services.NewUserService(userRepo, hasher, logger)
	authService, err := services.NewAuthService(userRepo, hasher, tokens, auditor, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	generator, err := recommender.New(&cfg.Generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create recommendation generator: %w", err)
	}
	recommendationService := services.NewRecommendationService(recommendationRepo, generator, auditor, logger)

	uploads, err := upload.NewTempStore(cfg.Upload.TempDir, logger)
	if err != nil {
		return err
	}
	classificationService := services.NewClassificationService(
		classifier.NewClient(&cfg.Classifier, logger),
		upload.NewValidator(&cfg.Upload),
		uploads,
		workerpool.New(workerpool.DefaultConfig(), logger),
		recommendationService,
		cfg.Upload.MaxBatchFiles,
		logger,
	)

	authMiddleware := auth.NewMiddleware(auth.NewAuthenticator(tokens, logger), auditor, logger)

	checks := map[string]handlers.HealthCheck{"database": db.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(authService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewUsersHandler(userService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewClassifyHandler(classificationService, uploads, handlers.UploadLimits{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxBatchFiles: cfg.Upload.MaxBatchFiles,
	}, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewRecommendationsHandler(recommendationService, logger).RegisterRoutes(mux, authMiddleware)

	g, gctx := errgroup.WithContext(ctx)

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, "leafcare:ratelimit", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	} else {
		memory := ratelimit.NewMemoryLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
		g.Go(func() error {
			memory.Run(gctx)
			return nil
		})
		limiter = memory
	}

	handler := middleware.Chain(mux,
		middleware.RequestID(cfg.TrustProxyHeaders),
		middleware.Recover(logger),
		middleware.Metrics(mux),
		middleware.RequestLogger(logger),
		middleware.CORS(cfg.CORSOrigin),
		middleware.SecurityHeaders(),
		middleware.RateLimit(limiter, logger, "/health", "/ping", "/metrics"),
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

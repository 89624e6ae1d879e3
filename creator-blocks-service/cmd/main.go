package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/config"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/events"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/gateway"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/handlers"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/service"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/vidhost"
)

func main() {
	// Load configuration
	cfg, err := loadConfig("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logger
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Creator Blocks Service starting up...")

	// Setup database connection
	dbPool, err := setupDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// Initialize database schema
	pgStore := store.NewPostgresStore(dbPool, logger)
	if err := pgStore.Initialize(context.Background()); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}

	// Connect to NATS for platform events; the service degrades to
	// logging-only when the broker is unavailable.
	var nc *nats.Conn
	if cfg.NATS.Address != "" {
		nc, err = events.Connect(cfg.NATS.Address, logger)
		if err != nil {
			logger.Warn("NATS unavailable, events will be logged only", zap.Error(err))
		} else {
			defer nc.Close()
		}
	}
	publisher := events.NewPublisher(nc, cfg.NATS.Subjects, logger)

	// Collaborator clients
	gatewayClient := gateway.NewClient(&cfg.Gateway, logger)
	hostClient := vidhost.NewClient(&cfg.VideoHost, logger)

	// Domain services
	calculator := pricing.NewCalculator(&cfg.Blocks, logger)
	admission := service.NewAdmissionController(pgStore, calculator, logger)
	grants := service.NewGrantService(pgStore, calculator, publisher, logger)
	purchases := service.NewPurchaseOrchestrator(pgStore, gatewayClient, calculator, publisher, &cfg.Purchases, logger)
	uploadFlow := service.NewUploadFlow(pgStore, calculator, admission, hostClient, publisher, logger)
	sweeper := service.NewSweeper(pgStore, admission, purchases, grants, &cfg.Purchases, logger)

	// Reconciliation sweep runs for the lifetime of the process.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	// Setup HTTP server
	server := setupHTTPServer(cfg, pgStore, calculator, admission, grants, purchases, uploadFlow, logger)

	// Setup graceful shutdown
	setupGracefulShutdown(server, stopSweep, cfg.Server.ShutdownTimeout, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("address", fmt.Sprintf(":%d", cfg.Server.Port)))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}

// loadConfig loads configuration from file
func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setupLogger initializes the logger
func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// setupDatabase initializes the database connection
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolConfig, err := cfg.GetDatabaseConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established successfully")
	return pool, nil
}

// setupHTTPServer configures and returns the HTTP server
func setupHTTPServer(
	cfg *config.Config,
	pgStore *store.PostgresStore,
	calculator *pricing.Calculator,
	admission *service.AdmissionController,
	grants *service.GrantService,
	purchases *service.PurchaseOrchestrator,
	uploadFlow *service.UploadFlow,
	logger *zap.Logger,
) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"creator-blocks-service"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/creator-blocks", func(r chi.Router) {
			r.Post("/calculate", handlers.CalculateBlocks(calculator, logger))
			r.Get("/purchases/{purchaseID}", handlers.GetPurchase(purchases, logger))

			r.Route("/{creatorID}", func(r chi.Router) {
				r.Get("/", handlers.GetCreatorBlocks(pgStore, logger))
				r.Post("/register", handlers.RegisterCreator(grants, logger))
				r.Post("/check-upload", handlers.CheckUpload(admission, logger))
				r.Post("/add-video", handlers.AddVideo(uploadFlow, logger))
				r.Post("/uploads/{intentID}/complete", handlers.CompleteUpload(uploadFlow, logger))
				r.Post("/uploads/{intentID}/abort", handlers.AbortUpload(uploadFlow, logger))
				r.Post("/finalize-retry", handlers.RetryFinalize(uploadFlow, logger))
				r.Post("/purchase", handlers.CreatePurchase(purchases, logger))
			})
		})

		r.Post("/payment/webhook", handlers.PaymentWebhook(purchases, logger))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// setupGracefulShutdown configures graceful shutdown handling
func setupGracefulShutdown(server *http.Server, stopSweep context.CancelFunc, timeout time.Duration, logger *zap.Logger) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Received shutdown signal, shutting down gracefully...")
		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown server gracefully", zap.Error(err))
		} else {
			logger.Info("Server shutdown completed")
		}
	}()
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/api"
	"github.com/datnetwork/datmind/internal/cache"
	"github.com/datnetwork/datmind/internal/db"
	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/notify"
	"github.com/datnetwork/datmind/internal/session"
	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting datmind API server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Command journal
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	var journal *db.JournalRepository
	if database != nil {
		if err := database.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		journal = db.NewJournalRepository(db.NewRepository(database.DB))
	}

	// View cache
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// View-change notifier
	notifier := notify.New(&cfg.Kafka)
	if closer, ok := notifier.(io.Closer); ok {
		defer closer.Close()
	}

	client, err := ledger.New(&cfg.Ledger)
	if err != nil {
		logger.Fatal("Failed to create ledger client", zap.Error(err))
	}

	opts := session.Options{
		Notifier:    notifier,
		EventBuffer: cfg.Session.EventBuffer,
	}
	if journal != nil {
		opts.Journal = journal
	}
	if redisCache != nil {
		opts.Cache = redisCache
	}

	sessions := session.NewManager(func(id identity.Identity) session.Ledger {
		return client.ForParty(id)
	}, opts, cfg.Session.IdleTTL)
	if redisCache != nil {
		sessions.OnEvict(func(ctx context.Context, party string) {
			if err := redisCache.DropViews(ctx, party); err != nil {
				logger.Warn("Failed to drop cached views", zap.String("party", party), zap.Error(err))
			}
		})
	}
	go sessions.Run(ctx)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	var routerJournal api.Journal
	if journal != nil {
		routerJournal = journal
	}
	router := api.NewRouter(sessions, identity.NewResolver(cfg.Ledger.JWTSecret), routerJournal)
	if database != nil {
		router.AddHealthCheck("database", database)
	}
	if redisCache != nil {
		router.AddHealthCheck("redis", redisCache)
	}
	router.SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	sessions.Close()

	logger.Info("Server exited")
}

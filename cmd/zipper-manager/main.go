package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/api"
	"github.com/mystorage/mystorage/internal/common/config"
	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/history"
	"github.com/mystorage/mystorage/internal/history/repository"
	"github.com/mystorage/mystorage/internal/storage/credentials"
	"github.com/mystorage/mystorage/internal/storage/git"
	"github.com/mystorage/mystorage/internal/streaming"
	"github.com/mystorage/mystorage/internal/zipper/staging"
	"github.com/mystorage/mystorage/internal/zipper/supervisor"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Zipper Manager service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus (in-memory unless NATS is configured)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 5. Open the history store
	var historyRepo repository.Repository
	switch cfg.History.Backend {
	case "sqlite":
		historyRepo, err = repository.NewSQLiteRepository(cfg.History.SQLitePath)
		if err != nil {
			log.Fatal("Failed to open history database", zap.Error(err))
		}
		log.Info("Opened sqlite history store", zap.String("path", cfg.History.SQLitePath))
	default:
		historyRepo = repository.NewMemoryRepository()
		log.Info("Using in-memory history store")
	}
	defer historyRepo.Close()

	// 6. Initialize Credentials Manager
	credsMgr := credentials.NewManager(log)
	credsMgr.AddProvider(credentials.NewEnvProvider("MYSTORAGE_"))
	if credsFile := os.Getenv("MYSTORAGE_CREDENTIALS_FILE"); credsFile != "" {
		credsMgr.AddProvider(credentials.NewFileProvider(credsFile))
	}
	credsMgr.AddProvider(credentials.NewStaticProvider(map[string]string{
		credentials.KeyGitHubUser:  cfg.Storage.UserName,
		credentials.KeyGitHubEmail: cfg.Storage.UserEmail,
	}))
	log.Info("Initialized credentials manager")

	// 7. Initialize the worker supervisor
	stagingMgr := staging.NewManager(log)
	sup := supervisor.NewSupervisor(cfg.Worker, eventBus, stagingMgr, log)
	log.Info("Initialized worker supervisor",
		zap.String("executable", cfg.Worker.ExecutablePath),
		zap.Int("max_threads", cfg.Worker.MaxThreads))

	// 8. Initialize the storage repository engine
	engine := git.NewEngine(cfg.Storage.RepoPath, log)
	log.Info("Initialized repository engine", zap.String("repo_path", cfg.Storage.RepoPath))

	// 9. Record terminal sessions into history
	recorder := history.NewRecorder(historyRepo, sup, log)
	if err := recorder.Attach(eventBus); err != nil {
		log.Fatal("Failed to attach history recorder", zap.Error(err))
	}

	// 10. Start the WebSocket hub
	hub := streaming.NewHub(log)
	if err := hub.AttachBus(eventBus); err != nil {
		log.Fatal("Failed to attach websocket hub", zap.Error(err))
	}
	go hub.Run(ctx)
	log.Info("Started websocket hub")

	// 11. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(sup, engine, historyRepo, credsMgr, eventBus, hub, log)

	// 12. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 13. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Zipper Manager service...")

	// 15. Stop any running worker session before tearing the server down
	sup.RequestStop(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if _, err := sup.Wait(shutdownCtx); err != nil {
		log.Debug("no session outcome at shutdown", zap.Error(err))
	}

	cancel()

	log.Info("Zipper Manager service stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"collab-service/internal/api/routes"
	"collab-service/internal/collab"
	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/metrics"
	"collab-service/internal/notify"
	"collab-service/internal/repositories/postgres"
	"collab-service/internal/services"
	"collab-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
	slog.Info("Starting collab server")

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Notifications
	publisher, err := notify.NewPublisher(cfg.Kafka)
	if err != nil {
		slog.Error("Failed to create notification publisher", "error", err)
		os.Exit(1)
	}
	var notifier collab.Notifier = collab.NopNotifier()
	var kafkaNotifier *notify.Notifier
	if publisher != nil {
		kafkaNotifier = notify.NewNotifier(publisher, 0)
		notifier = kafkaNotifier
		slog.Info("Kafka notifications enabled", "client", cfg.Kafka.Client, "topic", cfg.Kafka.Topic)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisService := services.NewRedisService(redisClient)

	friendRepo := postgres.NewFriendRepository(db)
	engine := collab.NewEngine(engineConfig(cfg.Engine), collab.Stores{
		Sessions: postgres.NewSessionRepository(db),
		Friends:  friendRepo,
		Entries:  postgres.NewEntryRepository(db),
		Presence: redisService,
		Notifier: notifier,
	}, metrics.New(registry))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	engine.Start(ctx)

	hub := websocket.NewHub()
	wsServer := websocket.NewServer(hub, engine, cfg.Server.AllowedOrigins)

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter(routes.Options{
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ConnectLimit:   cfg.Engine.ConnectLimit,
		ConnectWindow:  cfg.Engine.ConnectWindow,
		APILimit:       cfg.Server.APILimit,
		APIWindow:      cfg.Server.APIWindow,
		RateLimiter:    redisService,
		Upgrader:       wsServer,
		Health:         engine,
		Friends:        friendRepo,
		Presence:       engine.Registry(),
		Gatherer:       registry,
		LogOutput:      os.Stdout,
	})
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	slog.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new upgrades first
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("Engine shutdown completed with errors", "error", err)
	}
	hub.Shutdown(shutdownCtx)

	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			slog.Error("Failed to close notifier", "error", err)
		}
	}

	slog.Info("Server stopped")
}

func engineConfig(c config.EngineConfig) collab.Config {
	return collab.Config{
		RateLimit:      c.RateLimit,
		RateWindow:     c.RateWindow,
		CursorThrottle: c.CursorThrottle,
		EditDebounce:   c.EditDebounce,
		ConflictWindow: c.ConflictWindow,
		SnapshotTTL:    c.SnapshotTTL,
		Reaper: collab.ReaperConfig{
			HeartbeatInterval: c.HeartbeatInterval,
			HeartbeatTimeout:  c.HeartbeatTimeout,
			PruneInterval:     c.PruneInterval,
			SessionStaleness:  c.SessionStaleness,
		},
	}
}

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

	"socket-service/internal/api/handlers"
	"socket-service/internal/config"
	"socket-service/internal/domain"
	"socket-service/internal/infrastructure/mongoose"
	"socket-service/internal/infrastructure/redis"
	"socket-service/internal/infrastructure/websocket"
	"socket-service/internal/services"
	"socket-service/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log = logger.NewWithLevel(cfg.Log.Level).With("instance_id", cfg.Instance.ID)
	defer log.Sync()
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open MongoDB connections
	plan, err := cfg.ConnectionPlan()
	if err != nil {
		log.Error("Invalid mongoose settings", "error", err)
		os.Exit(1)
	}

	connections := mongoose.NewConnectionService(nil, log)
	openCtx, openCancel := context.WithTimeout(ctx, 15*time.Second)
	err = connections.Open(openCtx, plan)
	openCancel()
	if err != nil {
		log.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}

	var messages domain.MessageRepository
	if conn, err := connections.Get(""); err == nil {
		repo := mongoose.NewMessageRepository(conn)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Warn("Failed to create message indexes", "error", err)
		}
		messages = repo
	} else {
		log.Info("No default MongoDB connection, chat history disabled")
	}

	// Register socket services
	registry := services.NewRegistry()
	chat := services.NewChatService(messages, log)
	if err := registry.Register(chat.Service()); err != nil {
		log.Error("Failed to register chat service", "error", err)
		os.Exit(1)
	}

	connManager := websocket.NewConnectionManager(log)
	var broadcaster domain.Broadcaster = connManager

	// Initialize Redis fan-out
	var presence *redis.PresenceStore
	var election *redis.LeaderElection
	if cfg.Redis.Enabled {
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("Connected to Redis", "address", cfg.Redis.Address)

		cluster := redis.NewClusterBroadcaster(rdb, connManager, cfg.Redis.Channel, cfg.Instance.ID, log)
		if err := cluster.Start(ctx); err != nil {
			log.Error("Failed to subscribe to broadcast channel", "error", err)
			os.Exit(1)
		}
		broadcaster = cluster
		presence = redis.NewPresenceStore(rdb, cfg.Instance.ID, 3*cfg.Socket.PingInterval, connManager.Count)
		election = redis.NewLeaderElection(rdb, cfg.Instance.ID, time.Minute+3*cfg.Socket.PingInterval)
	}

	dispatcher := services.NewDispatcher(registry, broadcaster, log)
	wsHandler := websocket.NewWebSocketHandler(dispatcher, connManager, websocket.Options{
		PingInterval: cfg.Socket.PingInterval,
		WriteTimeout: cfg.Socket.WriteTimeout,
		ReadLimit:    cfg.Socket.ReadLimit,
	}, cfg.Socket.AllowedOrigins, log)

	// Initialize scheduler
	var health services.HealthChecker
	if len(connections.Names()) > 0 {
		health = connections
	}
	scheduler := services.NewMaintenanceScheduler(connManager, health, cfg.Socket.PingInterval, cfg.Health.Schedule, log)
	var nodes handlers.ClusterNodes
	if presence != nil {
		scheduler.SetPresence(presence)
		nodes = presence
	}
	if election != nil {
		scheduler.SetElector(election)
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency_human":"${latency_human}"}` + "\n",
	}))
	e.Use(middleware.Recover())

	allowOrigins := cfg.Socket.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{echo.GET, echo.HEAD, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
		},
		MaxAge: 86400,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.Instance.ID, connections, connManager, nodes, log)
	adminHandler := handlers.NewAdminHandler(registry, connections, log)

	e.GET("/health", healthHandler.Health)

	api := e.Group("/api/v1")
	api.GET("/handlers", adminHandler.ListHandlers)
	api.GET("/connections", adminHandler.ListConnections)
	api.GET("/connections/:name", adminHandler.GetConnection)

	// WebSocket routes
	socketRoutes := echo.WrapHandler(wsHandler.Router(cfg.Socket.Path))
	e.GET(cfg.Socket.Path, socketRoutes)
	e.GET(cfg.Socket.Path+"/*", socketRoutes)

	// Start background services
	if err := scheduler.Start(ctx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting socket server", "address", serverAddr, "socket_path", cfg.Socket.Path,
		"namespaces", registry.Namespaces())

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down socket server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	connManager.CloseAll()

	if presence != nil {
		if err := presence.Withdraw(shutdownCtx); err != nil {
			log.Error("Failed to withdraw presence", "error", err)
		}
	}
	if election != nil {
		if err := election.Resign(shutdownCtx); err != nil {
			log.Error("Failed to release leadership", "error", err)
		}
	}
	cancel()

	if err := connections.Close(shutdownCtx); err != nil {
		log.Error("Failed to close MongoDB connections", "error", err)
	}

	log.Info("Socket server stopped")
}

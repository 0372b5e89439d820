package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eventcast/internal/core/ports"
	"eventcast/internal/core/services"
	httphandlers "eventcast/internal/handlers/http"
	"eventcast/internal/infrastructure/distributed"
	"eventcast/internal/infrastructure/middleware"
	"eventcast/internal/infrastructure/monitoring"
	"eventcast/internal/infrastructure/repositories"
	wsignal "eventcast/internal/infrastructure/signal"
	"eventcast/pkg/config"
	"eventcast/pkg/logger"
	"eventcast/pkg/storage"
	"eventcast/pkg/tracing"
	"eventcast/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	paths := []string{"configs/config.yaml", "config.yaml", "/etc/eventcast/config.yaml"}
	if *configPath != "" {
		paths = []string{*configPath}
	}
	cfg, loadedFrom, err := config.LoadFirst(paths...)

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err != nil {
		log.Fatalw("Invalid configuration", "path", loadedFrom, "error", err)
	}
	if loadedFrom == "" {
		log.Info("No config file found, using defaults")
	} else {
		log.Infow("Loaded config", "path", loadedFrom)
	}
	if cfg.Auth.JWTSecret == config.DefaultConfig().Auth.JWTSecret {
		log.Warn("auth.jwt_secret is the built-in default, set EVENTCAST_JWT_SECRET")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "eventcast-hub",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  1.0,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	eventStore, err := repoFactory.CreateEventStore(ctx)
	if err != nil {
		log.Fatalw("Failed to create event store", "error", err)
	}
	events := services.NewCachedEventRepository(eventStore, cfg.Events.CacheSize, cfg.Events.CacheTTL)
	recordingRepo := repoFactory.CreateRecordingRepository()

	store, err := storage.NewFileStorage(cfg.Audio.RecordingsDir)
	if err != nil {
		log.Fatalw("Failed to open recordings directory", "dir", cfg.Audio.RecordingsDir, "error", err)
	}

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	var (
		publisher ports.ActivityPublisher
		bus       *distributed.EventBus
	)
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, utils.GenerateConnectionID(), log)
		publisher = bus
		log.Info("Publishing hub activity to Redis")

		go func() {
			err := bus.Subscribe(ctx, false, func(a *distributed.Activity) error {
				log.Debugw("Activity from peer hub",
					"type", a.Type,
					"instance_id", a.InstanceID,
					"event_id", a.EventID,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Warnw("Activity subscription ended", "error", err)
			}
		}()
	}

	// Services
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	hub := wsignal.NewHub(cfg.Signal.SendQueueSize, log)
	sessions := services.NewSessionRegistry(services.NewManagerNotifier(hub, log)).
		WithDefaultSampleRate(cfg.Audio.DefaultSampleRate)
	access := services.NewAccessService(events, eventStore, authService, log)
	recordings := services.NewRecordingManager(store, recordingRepo, collector, log)
	distribution := services.NewDistributionService(
		services.DistributionConfig{MaxChunkBytes: cfg.Audio.MaxChunkBytes},
		sessions, access, recordings, hub, publisher, collector, log,
	)

	if err := collector.RegisterConnectionGauge(hub.Count); err != nil {
		log.Fatalw("Failed to register connection gauge", "error", err)
	}

	wsServer := wsignal.NewWebSocketServer(hub, distribution, authService, wsignal.ServerConfig{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageBytes:   cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MessagesPerSecond: wsMessageRate(cfg),
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
	}, log)

	health := monitoring.NewHealthChecker()
	health.AddPingCheck("repositories", repoFactory.HealthCheck, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	health.AddRecordingsDirCheck(store.BasePath(), cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	health.StartBackgroundChecks(ctx)

	// Router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", middleware.NewWebSocketLimitMiddleware(cfg), gin.WrapF(wsServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": hub.Count(),
			"checks":      health.LastResults(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := health.GetReadinessStatus(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	eventHandler := httphandlers.NewEventHandler(events, distribution, recordings, store, authService)
	eventHandler.SetupRoutes(router.Group("", middleware.NewHTTPRateLimitMiddleware(cfg)))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting eventcast hub", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		srv.Close()
	}

	// hijacked websocket connections are not covered by srv.Shutdown
	distribution.Shutdown(shutdownCtx)
	hub.Close()

	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Errorw("Error closing event bus", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("eventcast hub stopped")
}

func wsMessageRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/cancellation"
	"github.com/farepact/farepact/internal/candidate"
	"github.com/farepact/farepact/internal/negotiation"
	"github.com/farepact/farepact/internal/presence"
	"github.com/farepact/farepact/internal/pricing"
	"github.com/farepact/farepact/internal/realtime"
	"github.com/farepact/farepact/internal/ride"
	ridepg "github.com/farepact/farepact/internal/ride/postgres"
	"github.com/farepact/farepact/internal/rides"
	"github.com/farepact/farepact/pkg/common"
	"github.com/farepact/farepact/pkg/config"
	"github.com/farepact/farepact/pkg/database"
	"github.com/farepact/farepact/pkg/errors"
	"github.com/farepact/farepact/pkg/eventbus"
	"github.com/farepact/farepact/pkg/logger"
	"github.com/farepact/farepact/pkg/middleware"
	redisclient "github.com/farepact/farepact/pkg/redis"
	ws "github.com/farepact/farepact/pkg/websocket"
)

const (
	serviceName = "farepact"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting farepact",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if cfg.Sentry.Enabled {
		sentryCfg := &errors.SentryConfig{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Server.Environment,
			Release:     version,
			ServerName:  serviceName,
		}
		if err := errors.InitSentry(sentryCfg); err != nil {
			logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
		} else {
			defer errors.Flush(2 * time.Second)
			logger.Info("Sentry error tracking initialized")
		}
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	redisClient, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()
	logger.Info("Connected to redis")

	var bus *eventbus.Bus
	bus, err = eventbus.New(eventbus.Config{
		URL:        cfg.NATS.URL,
		Name:       serviceName,
		StreamName: cfg.NATS.StreamName,
	})
	if err != nil {
		logger.Warn("Event bus unavailable, continuing without event publishing", zap.Error(err))
		bus = nil
	} else {
		defer bus.Close()
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Wire the engine.
	var store ride.Store = ridepg.NewRepository(db)
	registry := presence.NewRegistry(redisClient, bus)
	quoter := pricing.NewQuoter(cfg.Negotiation.MinFareMultiplier, cfg.Negotiation.MaxFareMultiplier, cfg.Negotiation.CurrencyCode)
	catalog := cancellation.NewCatalog()

	engine := negotiation.NewService(store, quoter, registry, catalog, cfg.Negotiation.CurrencyCode)
	if bus != nil {
		engine.SetEventBus(bus)
	}

	sessions := candidate.NewManager(store, cfg.Negotiation.DecisionWindow())

	hub := ws.NewHub()
	go hub.Run()

	rtService := realtime.NewService(hub, store, sessions, registry)
	go rtService.Run(rootCtx)
	rtHandler := realtime.NewHandler(rtService)

	rides.RegisterValidations()
	ridesHandler := rides.NewHandler(engine, sessions, registry)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	if cfg.Sentry.Enabled {
		router.Use(middleware.Sentry())
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.Metrics())

	router.GET("/healthz", common.HealthCheck(serviceName, version))

	healthChecks := map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		},
	}
	if bus != nil {
		healthChecks["nats"] = func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ridesHandler.RegisterRoutes(router, cfg.JWT.Secret)

	wsGroup := router.Group("/ws")
	wsGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	wsGroup.GET("", rtHandler.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

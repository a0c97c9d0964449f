package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-live/internal/app"
	"github.com/odyssey-erp/odyssey-live/internal/auth"
	"github.com/odyssey-erp/odyssey-live/internal/observability"
	"github.com/odyssey-erp/odyssey-live/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-live/internal/platform/db"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
	"github.com/odyssey-erp/odyssey-live/internal/realtime"
	realtimehttp "github.com/odyssey-erp/odyssey-live/internal/realtime/http"
	"github.com/odyssey-erp/odyssey-live/internal/realtime/ws"
	"github.com/odyssey-erp/odyssey-live/internal/shared"
	"github.com/odyssey-erp/odyssey-live/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	policy, err := rbac.LoadPolicy(cfg.RBACPolicyFile)
	if err != nil {
		logger.Error("load rbac policy", slog.String("path", cfg.RBACPolicyFile), slog.Any("error", err))
		os.Exit(1)
	}
	resolver := rbac.NewResolver(policy)
	gate, err := realtime.NewGate(policy.Channels)
	if err != nil {
		logger.Error("build access gate", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL)

	var authRepo auth.Repository
	switch cfg.SessionAuthority {
	case app.AuthorityPostgres:
		var pool *pgxpool.Pool
		pool, err = db.New(ctx, cfg.PostgresOptions())
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		authRepo = auth.NewPGRepository(pool)
	default:
		authRepo = auth.NewRedisRepository(sessionManager)
	}
	authService := auth.NewService(authRepo)

	metrics := observability.NewMetrics()
	metrics.SetBuildInfo(app.ServiceName, app.Version)
	realtimeMetrics := realtime.NewMetrics(metrics.Registerer())

	registry := realtime.NewRegistry(gate)
	router := realtime.NewRouter(registry, logger, realtimeMetrics)
	hub := realtime.NewHub(realtime.HubConfig{
		Authority:   authService,
		Resolver:    resolver,
		Gate:        gate,
		Registry:    registry,
		Router:      router,
		Logger:      logger,
		Metrics:     realtimeMetrics,
		AuthTimeout: cfg.RealtimeAuthTimeout,
	})
	socketServer := ws.NewServer(hub, ws.Config{
		SendBuffer:      cfg.RealtimeSendBuffer,
		MaxMessageBytes: cfg.RealtimeMaxMessageBytes,
		AuthDeadline:    cfg.RealtimeAuthDeadline,
		PingInterval:    cfg.RealtimePingInterval,
		PongWait:        cfg.RealtimePongWait,
		WriteWait:       cfg.RealtimeWriteWait,
		AllowedOrigins:  cfg.RealtimeAllowedOrigins,
	}, logger)

	redisOpts := cfg.RedisOptions().AsynqOpt()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	var bridge *realtime.Bridge
	if cfg.RealtimeBridgeEnabled {
		bridge = realtime.NewBridge(redisClient, cfg.RealtimeBridgeChannel, router, logger)
	}

	var publisher realtime.Publisher
	switch cfg.RealtimePublishVia {
	case app.PublishBridge:
		publisher = bridge
	case app.PublishQueue:
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		publisher = jobClient
	}

	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}
	realtimeHandler := realtimehttp.NewHandler(realtimehttp.HandlerParams{
		Logger:    logger,
		Hub:       hub,
		Gate:      gate,
		Socket:    socketServer,
		Publisher: publisher,
		RBAC:      rbacMiddleware,
	})
	permissionsHandler := rbac.NewPermissionsHandler(resolver, rbacMiddleware)

	handler := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		RealtimeHandler:    realtimeHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		// No WriteTimeout: it would also cap hijacked websocket connections.
	}
	server.RegisterOnShutdown(socketServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	if bridge != nil {
		if err := bridge.Listen(gctx); err != nil {
			logger.Error("start realtime bridge", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("realtime bridge listening", slog.String("channel", cfg.RealtimeBridgeChannel))
	}
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

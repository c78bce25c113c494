package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
	apirest "github.com/kasuganosora/playeraccounts/api/rest"
	"github.com/kasuganosora/playeraccounts/api/sse"
	apiws "github.com/kasuganosora/playeraccounts/api/ws"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	dbadapter "github.com/kasuganosora/playeraccounts/db"
	"github.com/kasuganosora/playeraccounts/inventory"
	"github.com/kasuganosora/playeraccounts/logging"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/scheduler"
	"github.com/kasuganosora/playeraccounts/session"
	"github.com/kasuganosora/playeraccounts/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout  = 10 * time.Second
	starterRetryTime = time.Minute
	starterWarmup    = 10 * time.Second
)

func serve(parent context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Security.JWTSecret == "" {
		return errors.New("config: security.jwt_secret is required")
	}

	// ---- Logger ----
	logger, err := logging.New(cfg.Server.Debug, cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Accounts ----
	hc := hook.NewHookCenter()
	opts := []account.Option{account.WithHooks(hc)}
	if cfg.Security.BcryptCost > 0 {
		opts = append(opts, account.WithBcrypt(cfg.Security.BcryptCost))
	}
	accounts := account.NewService(store.NewGormGateway(db), logger.Named("account"), opts...)
	if err := accounts.Initialize(ctx); err != nil {
		return err
	}

	// ---- Audit / inventory ----
	auditSvc := audit.New(db, logger.Named("audit"))
	defer auditSvc.Stop(context.Background())
	auditSvc.RegisterHooks(hc)

	inv := inventory.NewService(db, logger.Named("inventory"), cfg.Account.StarterItems)
	inv.RegisterHooks(hc)

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Sessions ----
	sm := session.NewManager(logger.Named("session"))
	apiws.PublishStatusChanges(hc, pubsub, logger)
	go func() {
		if err := apiws.WatchStatus(ctx, pubsub, sm, logger); err != nil {
			logger.Error("status watcher stopped", zap.Error(err))
		}
	}()

	// ---- Scheduler ----
	sched := scheduler.New(logger.Named("scheduler"))
	defer sched.Stop()

	grantMissing := func() {
		ctx, cancel := context.WithTimeout(context.Background(), starterRetryTime)
		defer cancel()
		if _, err := inv.GrantMissingStarters(ctx, cfg.Account.StarterRetryBatch); err != nil {
			logger.Warn("starter grant retry incomplete", zap.Error(err))
		}
	}
	if err := sched.AddCron("starter_grant_retry", cfg.Account.StarterRetry, grantMissing); err != nil {
		return fmt.Errorf("account.starter_retry: %w", err)
	}
	sched.AddDelay("starter_grant_warmup", starterWarmup, grantMissing)
	sched.AddTicker("session_count", 5*time.Minute, func() {
		logger.Debug("online sessions", zap.Int("count", sm.Count()))
	})

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger.Named("ws"))
	apiws.NewAccountHandlers(accounts, c, cfg.Security, sm, auditSvc, logger).Register(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), mw.CORS(cfg.Security.AllowedOrigins))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", apirest.Health(accounts))

	authH := apirest.NewAuthHandler(accounts, c, cfg.Security, auditSvc, logger)
	authH.RegisterHooks(hc)
	accH := apirest.NewAccountHandler(accounts, inv, logger)
	adminH := apirest.NewAdminHandler(accounts, inv, sm, sched, auditSvc, logger)
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	requireAuth := mw.Auth(cfg.Security, c)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", requireAuth, authH.Logout)
		authG.POST("/refresh", requireAuth, authH.Refresh)

		meG := api.Group("/accounts/me", requireAuth)
		meG.GET("", accH.Me)
		meG.PUT("/last-character", accH.SetLastCharacter)
		meG.GET("/items", accH.Items)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs), mw.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/accounts", adminH.FindAccount)
		adminG.POST("/accounts/:id/status", adminH.SetStatus)
		adminG.POST("/accounts/:id/reset-password", adminH.ResetPassword)
		adminG.POST("/accounts/:id/grant-starter", adminH.GrantStarter)
		adminG.POST("/accounts/:id/kick", adminH.Kick)
		adminG.POST("/announce", sseH.HandleAnnounce)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(accounts, c, cfg.Security, sm, wsRouter, logger.Named("ws"))
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	r.GET("/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived SSE streams end when the signal context is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	sm.CloseAllSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

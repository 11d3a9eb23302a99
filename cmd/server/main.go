package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/idtoken"

	"mailingest/backend/internal/app"
	"mailingest/backend/internal/auth"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/logger"
	"mailingest/backend/internal/middleware"
	"mailingest/backend/internal/notify"
	httptransport "mailingest/backend/internal/transport/http"
)

// main 启动摄取服务：Pub/Sub 推送入口、可选的拉取订阅者和监听续期。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development, cfg.Log.File)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailingest server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("sink", cfg.Sink.Backend),
		zap.String("cursor", cfg.Cursor.Backend),
		zap.String("blob", cfg.Blob.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize pipeline", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close components", zap.Error(err))
		}
	}()

	var jwtManager *auth.JWTManager
	if m, err := auth.NewJWTManager(&cfg.Auth); err == nil {
		jwtManager = m
	}

	var validator middleware.TokenValidator
	if cfg.PubSub.PushAudience != "" {
		v, err := idtoken.NewValidator(ctx)
		if err != nil {
			log.Fatal("failed to create push token validator", zap.Error(err))
		}
		validator = v
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Ingestor:      a.Orchestrator,
		JWTManager:    jwtManager,
		PushValidator: validator,
		Health:        a.Health,
		Metrics:       a.Metrics,
		Logger:        log.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// 推送请求会等待整次运行结束
		WriteTimeout: cfg.Ingest.Deadline + time.Minute,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.PubSub.PullEnabled {
		sub, err := notify.NewSubscriber(groupCtx, cfg.PubSub.Project, cfg.PubSub.Subscription, a.Orchestrator, notify.Settings{
			MaxOutstanding: 1,
			Timeout:        cfg.Ingest.Deadline,
			Mailbox:        cfg.Gmail.User,
		}, log.Named("pubsub"))
		if err != nil {
			log.Fatal("failed to create pull subscriber", zap.Error(err))
		}
		defer func() { _ = sub.Close() }()

		group.Go(func() error {
			return sub.Run(groupCtx)
		})
	}

	if cfg.Gmail.WatchRenewInterval > 0 && cfg.Gmail.Topic != "" {
		group.Go(func() error {
			renewWatch(groupCtx, a, log.Named("watch"))
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// renewWatch 启动时注册一次监听，之后按间隔续期。
// 首次注册返回的历史位置会在没有游标时作为初始游标。
func renewWatch(ctx context.Context, a *app.App, log *zap.Logger) {
	cfg := a.Config.Gmail
	register := func() {
		res, err := a.Mailbox.Watch(ctx, cfg.Topic, cfg.WatchLabels)
		if err != nil {
			log.Error("watch registration failed", zap.Error(err))
			return
		}
		a.Metrics.UpdateWatchExpiration(res.Expiration)
		log.Info("watch registered",
			zap.Uint64("history_id", res.HistoryID),
			zap.Time("expiration", res.Expiration))

		if seeded, err := a.SeedCursor(ctx, res.HistoryID); err != nil {
			log.Warn("seed cursor from watch", zap.Error(err))
		} else if seeded {
			log.Info("cursor initialized from watch", zap.Uint64("position", res.HistoryID))
		}
	}

	register()
	ticker := time.NewTicker(cfg.WatchRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}

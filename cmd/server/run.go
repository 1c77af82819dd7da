package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-supportchat/internal/api"
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/logging"
	"github.com/npezzotti/go-supportchat/internal/media"
	"github.com/npezzotti/go-supportchat/internal/notify"
	"github.com/npezzotti/go-supportchat/internal/ratelimit"
	"github.com/npezzotti/go-supportchat/internal/router"
	"github.com/npezzotti/go-supportchat/internal/server"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/telegram"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func openStore(cfg *config.Config) (database.RoomStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return database.NewMemoryRoomStore(), nil
	default:
		return database.NewPgRoomStore(cfg.DatabaseDSN)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close", zap.Error(err))
		}
	}()

	if created, err := api.SeedAdmin(ctx, store, cfg.Admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	} else if created {
		logger.Info("seeded admin account", zap.String("email", cfg.Admin.Email))
	}

	metrics := stats.NewMetrics()
	chatServer := server.NewChatServer(logger, metrics)

	notifyOpts := []notify.Option{
		notify.WithStats(metrics),
		notify.WithIcon(cfg.Push.Icon),
		notify.WithConcurrency(cfg.Push.Concurrency),
	}
	if cfg.Push.Enabled() {
		notifyOpts = append(notifyOpts, notify.WithPusher(notify.NewWebPusher(cfg.Push)))
	} else {
		logger.Warn("web push disabled: VAPID keys not configured")
	}

	var bot *telegram.Bot
	if cfg.Telegram.Enabled() {
		bot, err = telegram.NewBot(cfg.Telegram, logger.Named("telegram"), metrics)
		if err != nil {
			return err
		}
		notifyOpts = append(notifyOpts, notify.WithTelegram(bot))
	}

	dispatcher := notify.NewDispatcher(store, logger.Named("notify"), notifyOpts...)

	routerOpts := []router.Option{router.WithStats(metrics)}
	if cfg.Media.Enabled() {
		objects, err := media.NewMinioStore(ctx, cfg.Media)
		if err != nil {
			return err
		}
		publicURL := cfg.Media.PublicURL
		if publicURL == "" {
			publicURL = objects.BaseURL()
		}
		routerOpts = append(routerOpts, router.WithImageStore(media.NewOffloader(objects, publicURL)))
	}

	rr := router.New(store, chatServer, dispatcher, logger.Named("router"), routerOpts...)

	appOpts := []api.Option{
		api.WithStats(metrics),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithProxyHeaders(cfg.TrustProxyHeaders),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()

		limiter, err := ratelimit.NewRedisFixedWindowLimiter(rdb, "supportchat:ratelimit:login", cfg.Redis.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("init login limiter: %w", err)
		}
		appOpts = append(appOpts, api.WithLoginLimiter(limiter))
	}

	app := api.NewGoChatApp(http.NewServeMux(), logger, chatServer, store, rr, cfg, appOpts...)

	go chatServer.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Start)
	if bot != nil {
		g.Go(func() error {
			bot.Run(gctx, rr)
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down", zap.NamedError("cause", context.Cause(gctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	var errs []error
	if err := app.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	rr.Wait()

	logger.Info("shutdown complete")
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-bridge/internal/api/http"
	"github.com/spec-kit/ticket-bridge/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bridge/internal/auth"
	"github.com/spec-kit/ticket-bridge/internal/bridge"
	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/outage"
	"github.com/spec-kit/ticket-bridge/internal/persistence"
	"github.com/spec-kit/ticket-bridge/internal/platform/discord"
	"github.com/spec-kit/ticket-bridge/internal/platform/telegram"
	"github.com/spec-kit/ticket-bridge/internal/queue"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	"github.com/spec-kit/ticket-bridge/internal/service"
	"github.com/spec-kit/ticket-bridge/internal/ticket"
	"github.com/spec-kit/ticket-bridge/internal/worker"
)

func NewServeCommand() *cobra.Command {
	var noHTTP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long:  "Connects both platforms, relays ticket traffic and serves the admin API. Exits 1 when an adapter exhausts its reconnect budget.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(!noHTTP)
		},
	}

	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Do not start the admin HTTP listener")

	return cmd
}

func serve(withHTTP bool) error {
	cfg, logger, err := bootstrap("serve")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var checkpoint queue.Checkpointer = queue.NoopCheckpoint{}
	if redis.Enabled() {
		checkpoint = queue.NewRedisCheckpoint(redis.Client, cfg.Redis.QueuePrefix)
	}

	categories, err := repository.LoadCategories(cfg.Bridge.CategoriesFile)
	if err != nil {
		return err
	}

	origin, err := telegram.NewAdapter(cfg.Telegram, cfg.Bridge, logger)
	if err != nil {
		return fmt.Errorf("configure telegram: %w", err)
	}
	destination, err := discord.NewAdapter(cfg.Discord, cfg.Bridge, logger)
	if err != nil {
		return fmt.Errorf("configure discord: %w", err)
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics := observability.NewMetrics()

	machine := ticket.NewMachine(ticket.Dependencies{
		TicketRepo:   store.tickets,
		CategoryRepo: categories,
		Channels:     destination,
		Dispatcher:   dispatcher,
		Logger:       logger,
		SendTimeout:  cfg.Bridge.SendTimeout,
	})

	manager, err := bridge.NewManager(bridge.Dependencies{
		Origin:      origin,
		Destination: destination,
		Machine:     machine,
		UserRepo:    store.users,
		MessageRepo: store.messages,
		Checkpoint:  checkpoint,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Config:      cfg.Bridge,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	if cfg.Archive.Enabled {
		archiver, err := worker.NewArchiveWorker(worker.ArchiveDependencies{
			TicketRepo: store.tickets,
			Archiver:   manager,
			Config:     cfg.Archive,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return archiver.Run(gctx)
		})
	}

	if withHTTP {
		app := newAdminApp(cfg, logger, metrics, manager, store, redis)
		g.Go(func() error {
			if err := app.Listen(cfg.App.Addr()); err != nil {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(5 * time.Second)
		})
	}

	logger.Info("bridge started",
		zap.String("version", cfg.App.Version),
		zap.Bool("admin_http", withHTTP),
		zap.Bool("checkpoints", redis.Enabled()),
		zap.Bool("postgres", store.postgres.Enabled()))

	err = g.Wait()
	switch {
	case err == nil:
		logger.Info("bridge stopped")
		return nil
	case errors.Is(err, outage.ErrBudgetExceeded):
		logger.Error("adapter reconnect budget exhausted; exiting for restart", zap.Error(err))
	default:
		logger.Error("bridge failed", zap.Error(err))
	}
	return &exitError{code: 1, err: err}
}

func newAdminApp(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, manager *bridge.Manager, store *storage, redis *persistence.Redis) *fiber.App {
	authService := service.NewAuthService(cfg.Auth)
	adminService := service.NewAdminService(service.AdminDependencies{
		Bridge:      manager,
		TicketRepo:  store.tickets,
		MessageRepo: store.messages,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.App.RequestTimeout,
		WriteTimeout:          cfg.App.RequestTimeout,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, manager, metrics, map[string]handlers.Pinger{
			"postgres": store.postgres,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(adminService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})
	return app
}

package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/config"
	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/pgstore"
	"github.com/memohai/crmsync/internal/event"
	"github.com/memohai/crmsync/internal/handlers"
	"github.com/memohai/crmsync/internal/server"
	"github.com/memohai/crmsync/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewSyncConfigHandler),
		provideServerHandler(provideSyncHandler),
		provideServerHandler(provideContactsHandler),
		provideServerHandler(provideEventsHandler),
		provideServerHandler(providePingHandler),
		provideServerHandler(provideSwaggerHandler),
		provideScheduler,
		provideServer,
	),
	fx.Invoke(
		reapStaleRuns,
		startScheduler,
		startServer,
	),
)

// ---------------------------------------------------------------------------
// handlers
// ---------------------------------------------------------------------------

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideSyncHandler(log *slog.Logger, engine *contactsync.Engine, query *contactsync.QueryService) *handlers.SyncHandler {
	return handlers.NewSyncHandler(log, engine, query)
}

func provideContactsHandler(service *contacts.Service) *handlers.ContactsHandler {
	return handlers.NewContactsHandler(service)
}

func provideEventsHandler(log *slog.Logger, hub *event.Hub) *handlers.SyncEventsHandler {
	return handlers.NewSyncEventsHandler(log, hub)
}

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, conn)
}

func provideSwaggerHandler(log *slog.Logger) *handlers.SwaggerHandler {
	return handlers.NewSwaggerHandler(log, "")
}

// ---------------------------------------------------------------------------
// scheduler
// ---------------------------------------------------------------------------

func provideScheduler(log *slog.Logger, cfg config.Config, store *pgstore.Store, engine *contactsync.Engine) (*contactsync.Scheduler, error) {
	scheduler, err := contactsync.NewScheduler(log, store, engine, cfg.Sync.SchedulerPattern)
	if err != nil {
		return nil, err
	}
	return scheduler.ReapStaleRuns(engine, cfg.Sync.StaleRunDuration()), nil
}

// reapStaleRuns fails runs left in progress by a previous process so their
// configs can sync again. The scheduler repeats this on every tick.
func reapStaleRuns(lc fx.Lifecycle, cfg config.Config, engine *contactsync.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := engine.ReapStale(ctx, cfg.Sync.StaleRunDuration()); err != nil {
				return fmt.Errorf("reap stale runs: %w", err)
			}
			return nil
		},
	})
}

func startScheduler(lc fx.Lifecycle, scheduler *contactsync.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start()
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) (*server.Server, error) {
	if strings.TrimSpace(params.Config.Auth.JWTSecret) == "" {
		return nil, auth.ErrMissingSecret
	}
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...), nil
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	logger.Info("starting crmsync", slog.String("version", version.GetInfo()))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

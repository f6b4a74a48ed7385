package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/config"
	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/pgstore"
	"github.com/memohai/crmsync/internal/directory"
	"github.com/memohai/crmsync/internal/directory/google"
	"github.com/memohai/crmsync/internal/event"
	"github.com/memohai/crmsync/internal/taskqueue"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		provideContacts,
		provideSyncStore,
		provideDirectoryRegistry,
		provideTaskQueue,
		event.NewHub,
		provideStateCodec,
		provideEngine,
		provideQueryService,
		provideConfigService,
	),
)

// ---------------------------------------------------------------------------
// domain providers
// ---------------------------------------------------------------------------

func provideContacts(log *slog.Logger, conn *pgxpool.Pool) *contacts.Service {
	return contacts.NewService(log, conn)
}

func provideSyncStore(log *slog.Logger, conn *pgxpool.Pool) *pgstore.Store {
	return pgstore.New(log, conn)
}

func provideDirectoryRegistry(log *slog.Logger, cfg config.Config) (*directory.Registry, error) {
	registry := directory.NewRegistry()
	if !cfg.Google.Enabled() {
		log.Warn("google provider disabled: client_id or client_secret missing")
		return registry, nil
	}
	if err := registry.Register(google.NewProvider(log, cfg.Google)); err != nil {
		return nil, fmt.Errorf("register google provider: %w", err)
	}
	return registry, nil
}

// provideTaskQueue runs sync runs one at a time per worker; the engine
// applies items concurrently inside each run.
func provideTaskQueue(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *taskqueue.Queue {
	queue := taskqueue.New(context.Background(), log, cfg.Sync.Workers, 0)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return queue.Stop(ctx)
		},
	})
	return queue
}

func provideStateCodec(cfg config.Config) (*auth.StateCodec, error) {
	codec, err := auth.NewStateCodec(cfg.Auth.JWTSecret, auth.DefaultStateTTL)
	if err != nil {
		return nil, fmt.Errorf("oauth state: %w", err)
	}
	return codec, nil
}

func provideEngine(
	log *slog.Logger,
	cfg config.Config,
	store *pgstore.Store,
	local *contacts.Service,
	registry *directory.Registry,
	queue *taskqueue.Queue,
	hub *event.Hub,
) *contactsync.Engine {
	return contactsync.NewEngine(log, store, local, registry, queue, hub, contactsync.EngineOptions{
		Workers:                cfg.Sync.Workers,
		DefaultIntervalMinutes: cfg.Sync.DefaultIntervalMinutes,
	})
}

func provideQueryService(store *pgstore.Store) *contactsync.QueryService {
	return contactsync.NewQueryService(store)
}

func provideConfigService(
	log *slog.Logger,
	cfg config.Config,
	store *pgstore.Store,
	registry *directory.Registry,
	codec *auth.StateCodec,
) *contactsync.ConfigService {
	return contactsync.NewConfigService(log, store, registry, codec, cfg.Sync.DefaultIntervalMinutes)
}

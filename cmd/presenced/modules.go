package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"brewery-presence-backend/config"
	"brewery-presence-backend/internal/api"
	"brewery-presence-backend/internal/cache"
	"brewery-presence-backend/internal/catalog"
	"brewery-presence-backend/internal/checkin"
	"brewery-presence-backend/internal/db"
	"brewery-presence-backend/internal/notification"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/realtime"
	"brewery-presence-backend/internal/roster"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/visibility"
)

var persistenceModule = fx.Module("persistence",
	fx.Provide(
		provideDB,
		store.NewGormStore,
		providePresenceStore,
	),
)

var domainModule = fx.Module("domain",
	fx.Provide(
		provideGraph,
		provideCatalog,
		provideRoster,
		providePresenceService,
		provideReaper,
		provideWebpushOptions,
		provideWorkerPool,
		provideDispatcher,
		provideLedger,
	),
)

var realtimeModule = fx.Module("realtime",
	fx.Provide(
		realtime.NewHub,
		realtime.NewRegistry,
		provideBroadcaster,
		provideCommands,
		provideWSServer,
	),
)

var httpModule = fx.Module("http",
	fx.Provide(
		api.NewHandler,
		api.NewRouter,
	),
)

func provideDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return gormDB, nil
}

// providePresenceStore picks the presence backend. Everything else always
// lives in the database.
func providePresenceStore(lc fx.Lifecycle, cfg *config.Config, st store.Store) (store.PresenceStore, error) {
	switch cfg.Presence.Backend {
	case "database":
		return st, nil
	case "redis":
		client, err := cache.NewRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
		return store.NewRedisPresenceStore(client), nil
	}
	return nil, fmt.Errorf("unknown presence backend %q", cfg.Presence.Backend)
}

func provideGraph(cfg *config.Config, st store.Store) *visibility.CachedGraph {
	return visibility.NewCachedGraph(st, cfg.Visibility.RelationshipCacheTTL)
}

func provideCatalog(cfg *config.Config, st store.Store) *catalog.Catalog {
	return catalog.New(st, cfg.Catalog.CacheTTL)
}

func provideRoster(ps store.PresenceStore, st store.Store, graph *visibility.CachedGraph) *roster.Roster {
	return roster.New(ps, st, st, graph)
}

func providePresenceService(ps store.PresenceStore, b *realtime.Broadcaster, cat *catalog.Catalog) *presence.Service {
	return presence.NewService(ps, b, presence.WithBreweries(cat))
}

func provideReaper(cfg *config.Config, svc *presence.Service, ps store.PresenceStore) *presence.Reaper {
	return presence.NewReaper(svc, ps, cfg.Presence.HeartbeatTTL, cfg.Presence.SweepInterval)
}

func provideWebpushOptions(cfg *config.Config) (*webpush.Options, error) {
	if !cfg.Push.Enabled {
		return nil, nil
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		return nil, errors.New("push is enabled but VAPID keys are not configured")
	}
	return &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}, nil
}

func provideWorkerPool(cfg *config.Config, st store.Store, opts *webpush.Options) *notification.WorkerPool {
	return notification.NewWorkerPool(cfg.WorkerPool.Size, st, opts)
}

func provideDispatcher(cfg *config.Config, wp *notification.WorkerPool) checkin.Dispatcher {
	if !cfg.Push.Enabled {
		return nil
	}
	return wp
}

func provideLedger(st store.Store, cat *catalog.Catalog, svc *presence.Service, d checkin.Dispatcher) *checkin.Ledger {
	return checkin.NewLedger(st, cat, svc, d)
}

func provideBroadcaster(hub *realtime.Hub, reg *realtime.Registry, rs *roster.Roster, st store.Store) *realtime.Broadcaster {
	return realtime.NewBroadcaster(hub, reg, rs, st)
}

func provideCommands(cfg *config.Config, reg *realtime.Registry, b *realtime.Broadcaster, svc *presence.Service, l *checkin.Ledger) *realtime.Commands {
	return realtime.NewCommands(reg, b, svc, l, cfg.Realtime.CommandTimeout)
}

func provideWSServer(cfg *config.Config, hub *realtime.Hub, reg *realtime.Registry, b *realtime.Broadcaster, cmds *realtime.Commands, svc *presence.Service) *realtime.Server {
	return realtime.NewServer(hub, reg, b, cmds, svc, cfg.Realtime, *cfg.Presence.OfflineOnDisconnect)
}

// Package app composes the client from its parts: config, identity,
// store, broker adapter, delivery engine, session controller and the
// terminal UI, wired together with fx.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/config"
	"github.com/nifad2005/bjm/internal/engine"
	"github.com/nifad2005/bjm/internal/feed"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/lock"
	"github.com/nifad2005/bjm/internal/logging"
	"github.com/nifad2005/bjm/internal/mqtt"
	"github.com/nifad2005/bjm/internal/pairing"
	"github.com/nifad2005/bjm/internal/session"
	"github.com/nifad2005/bjm/internal/status"
	"github.com/nifad2005/bjm/internal/store"
	"github.com/nifad2005/bjm/internal/tui"
	"github.com/nifad2005/bjm/internal/update"
	"github.com/nifad2005/bjm/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string // empty = use default under ~/.bjm
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideBus,
			provideIdentity,
			provideLogger,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideTopics,
			provideNotifier,
			provideEngine,
			provideController,
			provideFeed,
			providePairing,
			provideUpdateChecker,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideIdentity(cfg *config.Config, b *bus.Bus) (*identity.Store, error) {
	base := session.BaseDir(cfg.DataDir)
	if err := session.EnsureDir(base); err != nil {
		return nil, err
	}
	return identity.Open(session.IdentityPath(base), b)
}

func provideLogger(cfg *config.Config, ident *identity.Store) (*zap.Logger, error) {
	base := session.BaseDir(cfg.DataDir)
	return logging.New(session.LogPath(base), ident.ID())
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, ident *identity.Store, logger *zap.Logger) (*lock.Lock, error) {
	base := session.BaseDir(cfg.DataDir)
	logger.Info("acquiring instance lock", zap.String("dir", base))
	l, err := lock.Acquire(base, ident.ID())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(session.BaseDir(cfg.DataDir))
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(cfg *config.Config, ident *identity.Store, b *bus.Bus, logger *zap.Logger) *mqtt.Adapter {
	return mqtt.NewAdapter(cfg, ident.ID(), b, logger)
}

func provideTopics(cfg *config.Config) wire.Topics {
	return wire.Topics{Prefix: cfg.TopicPrefix}
}

// busNotifier forwards inbound-message notifications onto the bus for
// the UI to flash.
type busNotifier struct {
	bus *bus.Bus
}

func (n *busNotifier) Notify(senderID, content string) {
	n.bus.Publish(bus.Event{
		Kind:      "notify.message",
		Timestamp: time.Now(),
		Payload:   map[string]string{"sender": senderID, "content": content},
	})
}

func provideNotifier(b *bus.Bus) engine.Notifier {
	return &busNotifier{bus: b}
}

func provideEngine(db *store.DB, adapter *mqtt.Adapter, ident *identity.Store, topics wire.Topics, notifier engine.Notifier, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(db, adapter, ident, topics, notifier, b, logger)
}

func provideController(ident *identity.Store, db *store.DB, adapter *mqtt.Adapter, eng *engine.Engine, machine *status.Machine, topics wire.Topics, b *bus.Bus, logger *zap.Logger) *session.Controller {
	return session.NewController(ident, db, adapter, eng, machine, topics, b, logger)
}

func provideFeed(db *store.DB, b *bus.Bus, logger *zap.Logger) *feed.Feed {
	return feed.New(db, b, logger)
}

func providePairing(ident *identity.Store, db *store.DB, ctrl *session.Controller, b *bus.Bus) *pairing.Service {
	return pairing.New(ident, db, ctrl, b)
}

func provideUpdateChecker(logger *zap.Logger) *update.Checker {
	return update.NewChecker(logger)
}

func provideTUI(eng *engine.Engine, feeds *feed.Feed, pair *pairing.Service, ident *identity.Store, b *bus.Bus, machine *status.Machine) *tui.App {
	return tui.NewApp(eng, feeds, pair, ident, b, machine)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, ctrl *session.Controller, ui *tui.App, checker *update.Checker, lk *lock.Lock, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctrl.Start(context.Background())

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				rel, err := checker.Check(ctx)
				if err != nil {
					logger.Debug("update check failed", zap.Error(err))
					return
				}
				if rel != nil {
					logger.Info("newer release available", zap.String("version", rel.Version))
					b.Publish(bus.Event{
						Kind:      "notify.update",
						Timestamp: time.Now(),
						Payload:   fmt.Sprintf("Update %s available: %s", rel.Version, rel.DownloadURL),
					})
				}
			}()

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("terminal UI error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			ctrl.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}

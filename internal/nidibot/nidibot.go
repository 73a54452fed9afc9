// Package nidibot wires providers, notification engines, the command dispatcher,
// chat bots and the HTTP API into one application.
package nidibot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/server"
	"golang.org/x/sync/errgroup"
)

// Deps are the shared services handed to providers, the dispatcher and the HTTP API.
// Every field is optional.
type Deps struct {
	Backups       *backup.Store
	Journal       dispatch.Journal
	Locator       dispatch.Locator
	Catalog       server.Catalog
	BackupsFolder string
	A2S           config.A2S
}

// Option customizes New.
type Option func(*App)

// WithProviderFactory registers a provider factory for a type tag.
func WithProviderFactory(kind string, f ProviderFactory) Option {
	return func(a *App) { a.providers[kind] = f }
}

// WithBotFactory registers a bot factory for a type tag.
func WithBotFactory(kind string, f BotFactory) Option {
	return func(a *App) { a.botFactories[kind] = f }
}

// checker is implemented by providers that can verify their credentials up front.
type checker interface {
	Check(ctx context.Context) error
}

// App is the running bot.
type App struct {
	dispatcher   *dispatch.Dispatcher
	api          *server.Server
	providers    map[string]ProviderFactory
	botFactories map[string]BotFactory
	engines      []*notify.Engine
	bots         []bot.Bot
}

// New builds every provider, engine and bot named in the configuration.
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	a := &App{
		providers:    defaultProviders(),
		botFactories: defaultBots(),
	}
	for _, opt := range opts {
		opt(a)
	}

	publisher := notify.PublisherFunc(a.publish)

	sources := make([]dispatch.Source, 0, len(cfg.Settings.ServerProviders))
	for i, pc := range cfg.Settings.ServerProviders {
		factory, ok := a.providers[pc.Type]
		if !ok {
			return nil, fmt.Errorf("%w: server_providers[%d]: unknown type %q", config.ErrConfiguration, i, pc.Type)
		}

		p, err := factory(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", pc.Type, err)
		}

		engine := notify.New(p, pc, publisher)
		a.engines = append(a.engines, engine)
		sources = append(sources, dispatch.FromEngine(engine))
	}

	a.dispatcher = dispatch.New(sources...)
	if deps.Journal != nil {
		a.dispatcher.WithJournal(deps.Journal)
	}
	if deps.Locator != nil {
		a.dispatcher.WithLocator(deps.Locator)
	}

	seen := make(map[string]int)
	for i, bc := range cfg.Settings.Bots {
		factory, ok := a.botFactories[bc.Type]
		if !ok {
			return nil, fmt.Errorf("%w: bots[%d]: unknown type %q", config.ErrConfiguration, i, bc.Type)
		}

		b, err := factory(botName(bc.Type, seen), bc, a.dispatcher)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s bot: %w", bc.Type, err)
		}
		a.bots = append(a.bots, b)
	}

	if cfg.HTTP.Address != "" {
		a.api = server.New(a.dispatcher, deps.Catalog, deps.Locator, cfg)
	}

	log.Info().
		Int("providers", len(a.engines)).
		Int("bots", len(a.bots)).
		Bool("http", a.api != nil).
		Msg("Application configured")

	return a, nil
}

// Dispatcher returns the command dispatcher shared by all bots.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Engines returns the notification engines in configuration order.
func (a *App) Engines() []*notify.Engine {
	return a.engines
}

// publish fans an event out to every bot.
func (a *App) publish(e notify.Event) {
	for _, b := range a.bots {
		b.DeliverNotification(e)
	}
}

// Run starts bots, engines and the HTTP API and blocks until ctx is canceled.
// Engines finish their current cycle first. Then bot intake stops, running
// commands complete, queues drain and sessions close.
func (a *App) Run(ctx context.Context) error {
	botCtx, cancelBots := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBots()

	started := make([]bot.Bot, 0, len(a.bots))
	stopBots := func() {
		cancelBots()
		for _, b := range started {
			b.Stop()
		}
	}

	for _, b := range a.bots {
		if err := b.Start(botCtx); err != nil {
			stopBots()
			return fmt.Errorf("failed to start bot %s: %w", b.Name(), err)
		}
		started = append(started, b)
	}

	for _, e := range a.engines {
		if c, ok := e.Provider().(checker); ok {
			if err := c.Check(ctx); err != nil {
				log.Warn().Err(err).Str("provider", e.Name()).Msg("Provider check failed")
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range a.engines {
		g.Go(func() error {
			e.Run(gctx)
			return nil
		})
	}
	if a.api != nil {
		g.Go(func() error {
			return a.api.Run(gctx)
		})
	}

	err := g.Wait()
	stopBots()

	log.Info().Msg("Application stopped")
	return err
}

// Package notify polls server providers and turns observed changes into events.
package notify

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/metrics"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Engine owns the server cache of one provider.
// The cache is replaced only by Poll; readers get copies.
type Engine struct {
	provider  provider.ServerProvider
	publisher Publisher
	now       func() time.Time
	cache     map[string]provider.GameServer
	order     []string
	toggles   config.Notifications
	interval  time.Duration
	primed    bool
	mu        sync.RWMutex
	pollMu    sync.Mutex
}

// New creates an engine polling p with the cadence and toggles of cfg.
// A nil publisher discards events.
func New(p provider.ServerProvider, cfg config.ServerProvider, publisher Publisher) *Engine {
	if publisher == nil {
		publisher = PublisherFunc(func(Event) {})
	}

	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = config.DefaultPollingSeconds * time.Second
	}

	return &Engine{
		provider:  p,
		publisher: publisher,
		now:       time.Now,
		cache:     make(map[string]provider.GameServer),
		toggles:   cfg.Notifications,
		interval:  interval,
	}
}

// Name returns the provider name.
func (e *Engine) Name() string {
	return e.provider.Name()
}

// Provider returns the polled provider.
func (e *Engine) Provider() provider.ServerProvider {
	return e.provider
}

// Primed reports whether a poll cycle has succeeded yet.
func (e *Engine) Primed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.primed
}

// Servers returns the cached servers in enumeration order.
func (e *Engine) Servers() []provider.GameServer {
	e.mu.RLock()
	defer e.mu.RUnlock()

	servers := make([]provider.GameServer, 0, len(e.order))
	for _, id := range e.order {
		servers = append(servers, e.cache[id])
	}

	return servers
}

// Run polls immediately and then every polling interval until ctx is done.
// A cycle in progress is completed before Run returns.
func (e *Engine) Run(ctx context.Context) {
	log.Info().
		Str("provider", e.Name()).
		Dur("interval", e.interval).
		Msg("Notification engine started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("provider", e.Name()).Msg("Notification engine stopped")
			return
		case <-timer.C:
		}

		_, _ = e.Poll(context.WithoutCancel(ctx))
		timer.Reset(e.interval)
	}
}

// Poll runs one enumerate-and-diff cycle, publishes the events and returns them.
// The first successful cycle only fills the cache.
func (e *Engine) Poll(ctx context.Context) ([]Event, error) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	started := time.Now()
	servers, err := e.provider.ListServers(ctx)
	metrics.PollDuration.WithLabelValues(e.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.PollFailures.WithLabelValues(e.Name()).Inc()
		log.Warn().Err(err).Str("provider", e.Name()).Msg("Poll cycle skipped")
		return nil, err
	}

	events := e.diff(servers)
	metrics.SetServers(e.Name(), servers)

	for _, ev := range events {
		metrics.Notifications.WithLabelValues(ev.Provider, string(ev.Category)).Inc()
		log.Debug().
			Str("provider", ev.Provider).
			Str("server", ev.ServerID).
			Str("category", string(ev.Category)).
			Str("old", ev.Old).
			Str("new", ev.New).
			Msg("Server change detected")

		e.publisher.Publish(ev)
	}

	return events, nil
}

// diff compares servers with the cache, replaces the cache and returns the events.
func (e *Engine) diff(servers []provider.GameServer) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	silent := !e.primed
	next := make(map[string]provider.GameServer, len(servers))
	order := make([]string, 0, len(servers))
	var events []Event

	emit := func(server provider.GameServer, category Category, old, value string) {
		if silent {
			return
		}
		ev := newEvent(server, category, old, value)
		ev.At = now
		if ev.Provider == "" {
			ev.Provider = e.Name()
		}
		events = append(events, ev)
	}

	for _, server := range servers {
		if _, dup := next[server.ID]; dup {
			continue
		}
		next[server.ID] = server
		order = append(order, server.ID)

		cached, known := e.cache[server.ID]
		if !known {
			if e.toggles.OnNewServer {
				emit(server, CategoryNewServer, "", server.Snapshot.StateText())
			}
			continue
		}

		was, is := cached.Snapshot, server.Snapshot
		if e.toggles.OnStatusChange && was.StateText() != is.StateText() {
			emit(server, CategoryStatus, was.StateText(), is.StateText())
		}
		if e.toggles.OnAddressChange && was.Address != is.Address {
			emit(server, CategoryAddress, was.Address, is.Address)
		}
		if e.toggles.OnVersionChange && was.Version != is.Version {
			emit(server, CategoryVersion, was.Version, is.Version)
		}
		if e.toggles.OnUpdateAvailableChange && was.UpdateAvailable != is.UpdateAvailable {
			emit(server, CategoryUpdateAvailable,
				strconv.FormatBool(was.UpdateAvailable), strconv.FormatBool(is.UpdateAvailable))
		}
	}

	for _, id := range e.order {
		if _, ok := next[id]; ok {
			continue
		}
		gone := e.cache[id]
		log.Info().Str("provider", e.Name()).Str("server", id).Msg("Server disappeared from provider")
		if e.toggles.OnServerRemoved {
			emit(gone, CategoryServerRemoved, gone.Snapshot.StateText(), "")
		}
	}

	e.cache = next
	e.order = slices.Clip(order)
	e.primed = true

	return events
}

// Package dispatch routes chat commands to provider operations.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/metrics"
	"github.com/woozymasta/nidibot/internal/models"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Source enumerates the servers of one provider.
type Source interface {
	Name() string
	Servers(ctx context.Context) ([]provider.GameServer, error)
}

// Journal records dispatched commands; *storage.Repository implements it.
type Journal interface {
	InsertCommand(ctx context.Context, c models.CommandRecord) error
}

// Locator resolves the country of a server address; *geoip.Provider implements it.
type Locator interface {
	CountryCode(address string) string
}

// Dispatcher resolves target servers and calls providers.
// It holds no locks, so concurrent commands run in parallel.
type Dispatcher struct {
	journal Journal
	locator Locator
	sources []Source
}

// New creates a dispatcher over sources in configuration order.
func New(sources ...Source) *Dispatcher {
	return &Dispatcher{sources: sources}
}

// WithJournal enables the command journal.
func (d *Dispatcher) WithJournal(j Journal) *Dispatcher {
	d.journal = j
	return d
}

// WithLocator enables country lookup in status results.
func (d *Dispatcher) WithLocator(l Locator) *Dispatcher {
	d.locator = l
	return d
}

// Servers lists the servers of every source in configuration order.
// Sources that fail are skipped.
func (d *Dispatcher) Servers(ctx context.Context) []provider.GameServer {
	var all []provider.GameServer
	for _, src := range d.sources {
		servers, err := src.Servers(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", src.Name()).Msg("Failed to list servers")
			continue
		}
		all = append(all, servers...)
	}

	return all
}

// Dispatch runs one command and always returns a result.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Result {
	if command, ok := ParseCommand(string(inv.Command)); ok {
		inv.Command = command
	}

	res := d.dispatch(ctx, inv)
	res.Command = inv.Command

	metrics.Commands.WithLabelValues(string(inv.Command), res.Outcome()).Inc()

	event := log.Info()
	if !res.OK() {
		event = log.Warn().Str("failure", res.Failure.Message)
	}
	event.
		Str("bot", inv.Bot).
		Str("command", string(inv.Command)).
		Str("user", inv.UserID).
		Str("channel", inv.ChannelID).
		Str("server", res.Server.Name).
		Str("outcome", res.Outcome()).
		Msg("Command dispatched")

	d.record(ctx, inv, res)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation) Result {
	if _, ok := ParseCommand(string(inv.Command)); !ok {
		return fail(KindUnknownCommand, fmt.Sprintf("Unknown command '%s'.", inv.Command))
	}

	if inv.Command == CommandBackupRestore && strings.TrimSpace(inv.BackupName) == "" {
		return fail(KindMissingArgument, "Backup name is required.")
	}

	server, failure := d.resolve(ctx, inv.ServerName)
	if failure != nil {
		return Result{Failure: failure}
	}

	res := Result{Server: server}
	var err error

	switch inv.Command {
	case CommandStatus:
		res.Status, err = server.Status(ctx)
		if err == nil && d.locator != nil {
			res.Country = d.locator.CountryCode(res.Status.Address)
		}

	case CommandStart:
		err = server.Start(ctx)
		res.Message = "Server is starting."

	case CommandStop:
		err = server.Stop(ctx)
		res.Message = "Server is stopping."

	case CommandRestart:
		err = server.Restart(ctx)
		res.Message = "Server is restarting."

	case CommandBackupCreate:
		inv.notice("Creating backup, this may take a while.")
		res.Backup, err = server.CreateBackup(ctx)
		res.Message = "Backup created."

	case CommandBackupList:
		res.Backups, err = server.ListBackups(ctx)

	case CommandBackupRestore:
		res.Backup, err = d.restore(ctx, inv, server)
		res.Message = "Backup restored."
	}

	if err != nil {
		return Result{Server: server, Failure: &Failure{Kind: classify(err), Message: describe(err, inv)}}
	}

	return res
}

// restore validates the name against a fresh listing before restoring.
func (d *Dispatcher) restore(ctx context.Context, inv Invocation, server provider.GameServer) (provider.Backup, error) {
	backups, err := server.ListBackups(ctx)
	if err != nil {
		return provider.Backup{}, err
	}

	b, ok := provider.FindBackup(backups, inv.BackupName)
	if !ok {
		return provider.Backup{}, fmt.Errorf("%w: %s", provider.ErrBackupNotFound, inv.BackupName)
	}

	inv.notice("Restoring backup " + b.DisplayName + ", the server will be stopped.")
	if err := server.RestoreBackup(ctx, b.Name); err != nil {
		return provider.Backup{}, err
	}

	return b, nil
}

// resolve finds the server named name, or the first server of the first
// provider with servers when name is empty.
func (d *Dispatcher) resolve(ctx context.Context, name string) (provider.GameServer, *Failure) {
	name = strings.TrimSpace(name)
	var unavailable error

	for _, src := range d.sources {
		servers, err := src.Servers(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", src.Name()).Msg("Failed to list servers")
			if name == "" {
				// the default server can not be skipped over
				return provider.GameServer{}, &Failure{Kind: KindProviderUnavailable, Message: describe(err, Invocation{})}
			}
			unavailable = err
			continue
		}

		for _, s := range servers {
			if name == "" || s.Name == name {
				return s, nil
			}
		}
	}

	if unavailable != nil {
		return provider.GameServer{}, &Failure{Kind: KindProviderUnavailable, Message: describe(unavailable, Invocation{})}
	}
	if name == "" {
		return provider.GameServer{}, &Failure{Kind: KindNoServersConfigured, Message: "No game servers are configured."}
	}

	return provider.GameServer{}, &Failure{Kind: KindServerNotFound, Message: fmt.Sprintf("Game server '%s' not found.", name)}
}

func (d *Dispatcher) record(ctx context.Context, inv Invocation, res Result) {
	if d.journal == nil {
		return
	}

	rec := models.CommandRecord{
		Bot:       inv.Bot,
		UserID:    inv.UserID,
		ChannelID: inv.ChannelID,
		Command:   string(inv.Command),
		Server:    res.Server.Name,
		Backup:    inv.BackupName,
		Outcome:   res.Outcome(),
	}
	if res.Failure != nil {
		rec.Message = res.Failure.Message
	}

	if err := d.journal.InsertCommand(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Msg("Failed to journal command")
	}
}

func fail(kind Kind, message string) Result {
	return Result{Failure: &Failure{Kind: kind, Message: message}}
}

// describe turns provider errors into user-facing text.
func describe(err error, inv Invocation) string {
	switch classify(err) {
	case KindProviderUnavailable:
		return "Server provider is unavailable, please try again later."
	case KindServerNotFound:
		return "Game server not found."
	case KindBackupNotFound:
		return fmt.Sprintf("Backup '%s' not found.", inv.BackupName)
	case KindUnsupported:
		return "This server provider does not support the operation."
	default:
		return "Operation failed: " + err.Error()
	}
}

// live lists servers straight from a provider.
type live struct {
	provider.ServerProvider
}

// Live returns a source that calls ListServers on every lookup.
func Live(p provider.ServerProvider) Source {
	return live{p}
}

func (l live) Servers(ctx context.Context) ([]provider.GameServer, error) {
	return l.ListServers(ctx)
}

// cached serves the engine cache and falls back to the provider until the first poll.
type cached struct {
	engine *notify.Engine
}

// FromEngine returns a source backed by the engine cache.
func FromEngine(e *notify.Engine) Source {
	return cached{engine: e}
}

func (c cached) Name() string {
	return c.engine.Name()
}

func (c cached) Servers(ctx context.Context) ([]provider.GameServer, error) {
	if c.engine.Primed() {
		return c.engine.Servers(), nil
	}

	return c.engine.Provider().ListServers(ctx)
}

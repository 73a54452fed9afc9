// Package query implements a status-only provider for self-hosted servers
// reachable through the A2S protocol.
package query

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/game"
	"github.com/woozymasta/nidibot/internal/provider"
)

// QueryFunc asks one server for A2S_INFO.
type QueryFunc func(host string, port int, options config.A2S) (*a2s.Info, error)

// Provider reports the state of statically configured servers.
// Control and backup operations are not supported.
type Provider struct {
	query   QueryFunc
	name    string
	servers []config.StaticServer
	options config.A2S
}

// New builds a provider for the servers listed in cfg.
func New(cfg config.ServerProvider, options config.A2S) *Provider {
	name := cfg.Name
	if name == "" {
		name = "A2S"
	}

	if cfg.TimeoutSeconds > 0 && (options.Timeout <= 0 || options.Timeout > cfg.Timeout()) {
		options.Timeout = cfg.Timeout()
	}

	return &Provider{
		name:    name,
		servers: cfg.Servers,
		options: options,
		query:   game.QueryServer,
	}
}

// WithQuery replaces the A2S query function.
func (p *Provider) WithQuery(fn QueryFunc) *Provider {
	p.query = fn
	return p
}

// Name implements provider.ServerProvider.
func (p *Provider) Name() string {
	return p.name
}

// ListServers queries every configured server. Unreachable servers are reported as stopped.
func (p *Provider) ListServers(ctx context.Context) ([]provider.GameServer, error) {
	servers := make([]provider.GameServer, 0, len(p.servers))
	for i := range p.servers {
		if err := ctx.Err(); err != nil {
			return nil, provider.Unavailable("list servers", err)
		}

		servers = append(servers, provider.GameServer{
			Provider: p,
			ID:       serverID(p.servers[i]),
			Name:     serverName(p.servers[i]),
			Snapshot: p.probe(p.servers[i]),
		})
	}

	return servers, nil
}

// GetStatus queries one configured server.
func (p *Provider) GetStatus(ctx context.Context, id string) (provider.Snapshot, error) {
	srv, err := p.lookup(id)
	if err != nil {
		return provider.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Snapshot{}, provider.Unavailable("get status", err)
	}

	return p.probe(srv), nil
}

// Start is not supported.
func (p *Provider) Start(context.Context, string) error { return p.unsupported("start") }

// Stop is not supported.
func (p *Provider) Stop(context.Context, string) error { return p.unsupported("stop") }

// Restart is not supported.
func (p *Provider) Restart(context.Context, string) error { return p.unsupported("restart") }

// CreateBackup is not supported.
func (p *Provider) CreateBackup(context.Context, string) (provider.Backup, error) {
	return provider.Backup{}, p.unsupported("backup_create")
}

// ListBackups is not supported.
func (p *Provider) ListBackups(context.Context, string) ([]provider.Backup, error) {
	return nil, p.unsupported("backup_list")
}

// RestoreBackup is not supported.
func (p *Provider) RestoreBackup(context.Context, string, string) error {
	return p.unsupported("backup_restore")
}

func (p *Provider) unsupported(op string) error {
	return fmt.Errorf("%w: %s on %s servers", provider.ErrUnsupported, op, p.name)
}

func (p *Provider) probe(srv config.StaticServer) provider.Snapshot {
	info, err := p.query(srv.Host, srv.Port, p.options)
	if err != nil {
		log.Debug().Err(err).Str("provider", p.name).Str("server", serverName(srv)).Msg("A2S query failed")
		return provider.Snapshot{
			State:   provider.StateStopped,
			Address: serverID(srv),
		}
	}

	return game.Snapshot(srv.Host, srv.Port, info)
}

func (p *Provider) lookup(id string) (config.StaticServer, error) {
	for _, srv := range p.servers {
		if serverID(srv) == id {
			return srv, nil
		}
	}

	return config.StaticServer{}, fmt.Errorf("%w: %s", provider.ErrServerNotFound, id)
}

// serverID is the host:port pair of a configured server.
func serverID(srv config.StaticServer) string {
	return net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port))
}

func serverName(srv config.StaticServer) string {
	if srv.Name != "" {
		return srv.Name
	}

	return serverID(srv)
}

package fake

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Provider keeps servers and backups in memory and applies control operations instantly.
// Start on a running server restarts it, like most hosting panels do.
type Provider struct {
	fail    error
	now     func() time.Time
	backups map[string][]provider.Backup
	name    string
	calls   []string
	servers []provider.GameServer
	mu      sync.Mutex
}

// New creates a provider from configuration. Configured servers are used
// as names of running servers; without them two servers are generated.
func New(cfg config.ServerProvider) *Provider {
	name := cfg.Name
	if name == "" {
		name = "Fake"
	}

	p := NewEmpty(name)
	if len(cfg.Servers) == 0 {
		for _, srv := range Generate(2, 1) {
			p.Add(srv.ID, srv.Name, srv.Snapshot)
		}
		return p
	}

	for i, srv := range cfg.Servers {
		address := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
		p.Add(fmt.Sprintf("fake-%d", i+1), srv.Name, provider.Snapshot{
			State:        provider.StateRunning,
			Address:      address,
			GameName:     "DayZ",
			Version:      "1.26",
			PlayersLimit: 60,
		})
	}

	return p
}

// NewEmpty creates a provider without servers.
func NewEmpty(name string) *Provider {
	return &Provider{
		name:    name,
		backups: make(map[string][]provider.Backup),
		now:     time.Now,
	}
}

// SetClock replaces the clock used to name backups.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Name implements provider.ServerProvider.
func (p *Provider) Name() string {
	return p.name
}

// Add registers a server or replaces the snapshot of an existing one.
func (p *Provider) Add(id, name string, snapshot provider.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := p.index(id); i >= 0 {
		p.servers[i].Name = name
		p.servers[i].Snapshot = snapshot
		return
	}

	p.servers = append(p.servers, provider.GameServer{Provider: p, ID: id, Name: name, Snapshot: snapshot})
}

// Remove deletes a server.
func (p *Provider) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := p.index(id); i >= 0 {
		p.servers = slices.Delete(p.servers, i, i+1)
	}
}

// Update applies fn to the snapshot of server id.
func (p *Provider) Update(id string, fn func(*provider.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := p.index(id); i >= 0 {
		fn(&p.servers[i].Snapshot)
	}
}

// Fail makes every call return err until Fail(nil) is called.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// Calls returns the recorded operations as "<op> <server id>" strings.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// ListServers implements provider.ServerProvider.
func (p *Provider) ListServers(ctx context.Context) ([]provider.GameServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(ctx); err != nil {
		return nil, err
	}

	return slices.Clone(p.servers), nil
}

// GetStatus implements provider.ServerProvider.
func (p *Provider) GetStatus(ctx context.Context, serverID string) (provider.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.find(ctx, serverID)
	if err != nil {
		return provider.Snapshot{}, err
	}

	return p.servers[i].Snapshot, nil
}

// Start implements provider.ServerProvider.
func (p *Provider) Start(ctx context.Context, serverID string) error {
	return p.transition(ctx, "start", serverID, provider.StateRunning)
}

// Stop implements provider.ServerProvider.
func (p *Provider) Stop(ctx context.Context, serverID string) error {
	return p.transition(ctx, "stop", serverID, provider.StateStopped)
}

// Restart implements provider.ServerProvider.
func (p *Provider) Restart(ctx context.Context, serverID string) error {
	return p.transition(ctx, "restart", serverID, provider.StateRunning)
}

// CreateBackup implements provider.ServerProvider.
func (p *Provider) CreateBackup(ctx context.Context, serverID string) (provider.Backup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.find(ctx, serverID); err != nil {
		return provider.Backup{}, err
	}
	p.calls = append(p.calls, "backup_create "+serverID)

	stamp := p.now()
	for {
		if _, exists := provider.FindBackup(p.backups[serverID], provider.FormatBackupName(stamp)); !exists {
			break
		}
		stamp = stamp.Add(time.Second)
	}

	b, _ := provider.NewBackup(provider.FormatBackupName(stamp), "memory://"+p.name+"/"+serverID, 0)
	p.backups[serverID] = append(p.backups[serverID], b)
	provider.SortBackups(p.backups[serverID])

	return b, nil
}

// ListBackups implements provider.ServerProvider.
func (p *Provider) ListBackups(ctx context.Context, serverID string) ([]provider.Backup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.find(ctx, serverID); err != nil {
		return nil, err
	}
	p.calls = append(p.calls, "backup_list "+serverID)

	return slices.Clone(p.backups[serverID]), nil
}

// RestoreBackup implements provider.ServerProvider.
func (p *Provider) RestoreBackup(ctx context.Context, serverID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.find(ctx, serverID); err != nil {
		return err
	}
	if _, ok := provider.FindBackup(p.backups[serverID], name); !ok {
		return fmt.Errorf("%w: %s", provider.ErrBackupNotFound, name)
	}

	p.calls = append(p.calls, "backup_restore "+serverID+" "+name)
	log.Debug().Str("provider", p.name).Str("server", serverID).Str("backup", name).Msg("Backup restored")
	return nil
}

func (p *Provider) transition(ctx context.Context, op, serverID string, to provider.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.find(ctx, serverID)
	if err != nil {
		return err
	}

	p.calls = append(p.calls, op+" "+serverID)
	p.servers[i].Snapshot.State = to
	if to == provider.StateStopped {
		p.servers[i].Snapshot.PlayersConnected = 0
		p.servers[i].Snapshot.PlayerNames = nil
	}

	return nil
}

// find must be called with mu held.
func (p *Provider) find(ctx context.Context, serverID string) (int, error) {
	if err := p.check(ctx); err != nil {
		return -1, err
	}

	i := p.index(serverID)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", provider.ErrServerNotFound, serverID)
	}

	return i, nil
}

func (p *Provider) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return provider.Unavailable(p.name, err)
	}

	return provider.Unavailable(p.name, p.fail)
}

func (p *Provider) index(id string) int {
	return slices.IndexFunc(p.servers, func(s provider.GameServer) bool { return s.ID == id })
}

// Package nitrado implements the hosted Nitrado provider: status through
// Nitrapi and backups over the FTP account of every game server.
package nitrado

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/provider"
)

// filesFolder is the archive folder holding the FTP tree.
const filesFolder = "files"

type entry struct {
	svc   service
	creds Credentials
	mysql MySQL
}

// Provider talks to Nitrapi. Backup and restore of one server are serialized.
type Provider struct {
	transfer Transfer
	database Database
	client   *client
	store    *backup.Store
	known    map[string]entry
	locks    map[string]*sync.Mutex
	name     string

	waitTimeout   time.Duration
	waitStep      time.Duration
	backupTimeout time.Duration

	mu sync.Mutex
}

// New creates a provider from configuration. Backups are kept in store.
func New(cfg config.ServerProvider, store *backup.Store) *Provider {
	name := cfg.Name
	if name == "" {
		name = "Nitrado"
	}

	return &Provider{
		name:          name,
		client:        newClient(cfg.BaseURL, cfg.Token, cfg.Timeout()),
		store:         store,
		transfer:      FTPTransfer{Timeout: cfg.Timeout()},
		database:      MySQLTools{},
		known:         make(map[string]entry),
		locks:         make(map[string]*sync.Mutex),
		waitTimeout:   time.Minute,
		waitStep:      time.Second,
		backupTimeout: cfg.BackupTimeout(),
	}
}

// WithTransfer replaces the FTP transfer.
func (p *Provider) WithTransfer(t Transfer) *Provider {
	p.transfer = t
	return p
}

// WithDatabase replaces the database dump tools.
func (p *Provider) WithDatabase(d Database) *Provider {
	p.database = d
	return p
}

// WithWait changes how long a restore waits for the server to stop.
func (p *Provider) WithWait(timeout, step time.Duration) *Provider {
	p.waitTimeout = timeout
	p.waitStep = step
	return p
}

// Check verifies the token and warns when the API version differs from the tested one.
func (p *Provider) Check(ctx context.Context) error {
	return p.client.checkVersion(ctx)
}

// Name implements provider.ServerProvider.
func (p *Provider) Name() string {
	return p.name
}

// ListServers returns every game server service of the account.
// A service whose game server is gone (404) is skipped. Any other failure fails
// the whole listing so a flaky call never looks like a deleted server.
func (p *Provider) ListServers(ctx context.Context) ([]provider.GameServer, error) {
	services, err := p.client.services(ctx)
	if err != nil {
		return nil, err
	}

	servers := make([]provider.GameServer, 0, len(services))
	for _, svc := range services {
		if svc.Type != "" && svc.Type != "gameserver" {
			continue
		}

		id := strconv.FormatInt(svc.ID, 10)
		gs, err := p.client.gameserver(ctx, id)
		if errors.Is(err, provider.ErrServerNotFound) {
			log.Warn().Err(err).Str("provider", p.name).Str("service", id).Msg("Game server of service not found")
			continue
		}
		if err != nil {
			return nil, provider.Unavailable("list servers", err)
		}

		p.remember(id, svc, gs)
		snapshot := gs.snapshot(svc)
		servers = append(servers, provider.GameServer{
			Provider: p,
			ID:       id,
			Name:     svc.Details.FolderShort + "-" + snapshot.Address,
			Snapshot: snapshot,
		})
	}

	return servers, nil
}

// GetStatus fetches the current document of one game server.
func (p *Provider) GetStatus(ctx context.Context, serverID string) (provider.Snapshot, error) {
	e, gs, err := p.lookup(ctx, serverID)
	if err != nil {
		return provider.Snapshot{}, err
	}

	return gs.snapshot(e.svc), nil
}

// Start restarts the server, which also boots a stopped one.
func (p *Provider) Start(ctx context.Context, serverID string) error {
	return p.Restart(ctx, serverID)
}

// Stop implements provider.ServerProvider.
func (p *Provider) Stop(ctx context.Context, serverID string) error {
	return p.client.action(ctx, serverID, "stop")
}

// Restart implements provider.ServerProvider.
func (p *Provider) Restart(ctx context.Context, serverID string) error {
	return p.client.action(ctx, serverID, "restart")
}

// CreateBackup downloads the FTP tree of the server and archives it.
func (p *Provider) CreateBackup(ctx context.Context, serverID string) (provider.Backup, error) {
	unlock := p.lock(serverID)
	defer unlock()

	ctx, cancel := provider.WithTimeout(ctx, p.backupTimeout)
	defer cancel()

	started := time.Now()
	e, _, err := p.lookup(ctx, serverID)
	if err != nil {
		return provider.Backup{}, err
	}

	tmp, err := os.MkdirTemp("", "nidibot-backup-*")
	if err != nil {
		return provider.Backup{}, fmt.Errorf("failed to create temp folder: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := p.transfer.Download(ctx, e.creds, filepath.Join(tmp, filesFolder)); err != nil {
		return provider.Backup{}, provider.Unavailable("download "+serverID, err)
	}

	p.dumpDatabase(ctx, serverID, e.mysql, tmp)

	b, err := p.store.Archive(ctx, p.key(serverID, e), tmp)
	if err != nil {
		return provider.Backup{}, err
	}

	log.Debug().
		Str("provider", p.name).
		Str("server", serverID).
		Dur("took", time.Since(started)).
		Msg("Backup creation finished")

	return b, nil
}

// ListBackups lists the archives stored for the server.
func (p *Provider) ListBackups(ctx context.Context, serverID string) ([]provider.Backup, error) {
	e, err := p.service(ctx, serverID)
	if err != nil {
		return nil, err
	}

	return p.store.List(p.key(serverID, e))
}

// RestoreBackup stops the server, uploads the archived tree and starts
// the server again unless it was stopped before.
func (p *Provider) RestoreBackup(ctx context.Context, serverID, name string) error {
	unlock := p.lock(serverID)
	defer unlock()

	ctx, cancel := provider.WithTimeout(ctx, p.backupTimeout)
	defer cancel()

	e, gs, err := p.lookup(ctx, serverID)
	if err != nil {
		return err
	}

	key := p.key(serverID, e)
	if _, err := p.store.Find(key, name); err != nil {
		return err
	}

	state := mapState(gs.Status)
	if state != provider.StateStopped {
		if err := p.Stop(ctx, serverID); err != nil {
			return fmt.Errorf("failed to stop server before restore: %w", err)
		}
	}
	if err := provider.WaitForState(ctx, p, serverID, provider.StateStopped, p.waitTimeout, p.waitStep); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "nidibot-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp folder: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := p.store.Extract(ctx, key, name, tmp); err != nil {
		return err
	}

	if err := p.transfer.Upload(ctx, e.creds, filepath.Join(tmp, filesFolder)); err != nil {
		return provider.Unavailable("upload "+serverID, err)
	}

	p.loadDatabase(ctx, serverID, e.mysql, tmp)

	log.Info().Str("provider", p.name).Str("server", serverID).Str("backup", name).Msg("Backup restored")

	if state != provider.StateStopped {
		return p.Start(ctx, serverID)
	}

	return nil
}

// lookup fetches the game server document and its service.
func (p *Provider) lookup(ctx context.Context, serverID string) (entry, gameserver, error) {
	e, err := p.service(ctx, serverID)
	if err != nil {
		return entry{}, gameserver{}, err
	}

	gs, err := p.client.gameserver(ctx, serverID)
	if err != nil {
		return entry{}, gameserver{}, err
	}

	p.remember(serverID, e.svc, gs)
	e.creds = gs.Credentials.FTP
	e.mysql = gs.Credentials.MySQL
	return e, gs, nil
}

// service returns the cached service of serverID, refreshing the service list on a miss.
func (p *Provider) service(ctx context.Context, serverID string) (entry, error) {
	p.mu.Lock()
	e, ok := p.known[serverID]
	p.mu.Unlock()
	if ok {
		return e, nil
	}

	services, err := p.client.services(ctx)
	if err != nil {
		return entry{}, err
	}

	for _, svc := range services {
		if strconv.FormatInt(svc.ID, 10) != serverID {
			continue
		}

		p.mu.Lock()
		e = p.known[serverID]
		e.svc = svc
		p.known[serverID] = e
		p.mu.Unlock()
		return e, nil
	}

	return entry{}, fmt.Errorf("%w: %s", provider.ErrServerNotFound, serverID)
}

func (p *Provider) remember(serverID string, svc service, gs gameserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[serverID] = entry{svc: svc, creds: gs.Credentials.FTP, mysql: gs.Credentials.MySQL}
}

func (p *Provider) lock(serverID string) func() {
	p.mu.Lock()
	l, ok := p.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[serverID] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (p *Provider) key(serverID string, e entry) backup.Key {
	game := e.svc.Details.FolderShort
	if game == "" {
		game = e.svc.Details.Game
	}

	return backup.Key{Provider: strings.ToLower(p.name), Game: game, ServerID: serverID}
}

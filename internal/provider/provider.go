// Package provider defines the capability every game server backend implements
// and the value types exchanged with the rest of the bot.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderUnavailable is returned on transport, auth or timeout failures.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrServerNotFound is returned when a server id is stale or unknown.
	ErrServerNotFound = errors.New("server not found")

	// ErrBackupNotFound is returned when a backup name matches no stored backup.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrUnsupported is returned by providers that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported")
)

// ServerProvider is implemented by every game server backend.
// All methods must be safe for concurrent use.
type ServerProvider interface {
	// Name identifies the provider in logs, notifications and backup paths.
	Name() string

	// ListServers returns all servers visible to the provider credentials.
	ListServers(ctx context.Context) ([]GameServer, error)

	// GetStatus returns the current snapshot of one server.
	GetStatus(ctx context.Context, serverID string) (Snapshot, error)

	Start(ctx context.Context, serverID string) error
	Stop(ctx context.Context, serverID string) error
	Restart(ctx context.Context, serverID string) error

	// CreateBackup stores a new backup and returns its descriptor.
	CreateBackup(ctx context.Context, serverID string) (Backup, error)

	// ListBackups returns stored backups, most recent first.
	ListBackups(ctx context.Context, serverID string) ([]Backup, error)

	// RestoreBackup restores the backup named name.
	RestoreBackup(ctx context.Context, serverID, name string) error
}

// Unavailable wraps err into ErrProviderUnavailable unless it already
// carries one of the package sentinel errors.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrServerNotFound) ||
		errors.Is(err, ErrBackupNotFound) || errors.Is(err, ErrUnsupported) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, op, err)
}

// WithTimeout bounds ctx by d when d is positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}

// WaitForState polls GetStatus every step until the server reaches want or timeout elapses.
func WaitForState(ctx context.Context, p ServerProvider, serverID string, want State, timeout, step time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		snapshot, err := p.GetStatus(ctx, serverID)
		if err == nil && snapshot.State == want {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: server %s did not reach state %s", ErrProviderUnavailable, serverID, want)
		case <-ticker.C:
		}
	}
}

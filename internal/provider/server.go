package provider

import (
	"context"
	"time"
)

// State is the coarse lifecycle state of a game server.
type State string

// Known server states.
const (
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateRestarting State = "restarting"
	StateUnknown    State = "unknown"
)

// Snapshot is the last known status of a game server.
type Snapshot struct {
	AvailableUntil   time.Time `json:"available_until,omitzero"`
	State            State     `json:"state"`
	RawStatus        string    `json:"raw_status,omitempty"`
	Address          string    `json:"address"`
	Version          string    `json:"version"`
	GameName         string    `json:"game_name"`
	PlayerNames      []string  `json:"player_names,omitempty"`
	PlayersConnected int       `json:"players_connected"`
	PlayersLimit     int       `json:"players_limit"`
	UpdateAvailable  bool      `json:"update_available"`
}

// StateText returns the provider status string when the state is unknown.
func (s Snapshot) StateText() string {
	if s.State == StateUnknown && s.RawStatus != "" {
		return s.RawStatus
	}
	if s.State == "" {
		return string(StateUnknown)
	}

	return string(s.State)
}

// Title renders "<game> (<version>) - <address>", omitting the version when empty.
func (s Snapshot) Title() string {
	title := s.GameName
	if s.Version != "" {
		title += " (" + s.Version + ")"
	}

	return title + " - " + s.Address
}

// GameServer identifies one remote server and carries its last known snapshot.
// Provider is a non-owning back-reference used for delegation.
type GameServer struct {
	Provider ServerProvider `json:"-"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Snapshot Snapshot       `json:"status"`
}

// ProviderName returns the owning provider name, or an empty string for a detached handle.
func (g GameServer) ProviderName() string {
	if g.Provider == nil {
		return ""
	}

	return g.Provider.Name()
}

// Title renders the snapshot title of the server.
func (g GameServer) Title() string {
	return g.Snapshot.Title()
}

// Status fetches the current snapshot from the provider.
func (g GameServer) Status(ctx context.Context) (Snapshot, error) {
	return g.Provider.GetStatus(ctx, g.ID)
}

// Start starts the server.
func (g GameServer) Start(ctx context.Context) error {
	return g.Provider.Start(ctx, g.ID)
}

// Stop stops the server.
func (g GameServer) Stop(ctx context.Context) error {
	return g.Provider.Stop(ctx, g.ID)
}

// Restart restarts the server.
func (g GameServer) Restart(ctx context.Context) error {
	return g.Provider.Restart(ctx, g.ID)
}

// CreateBackup creates a backup of the server.
func (g GameServer) CreateBackup(ctx context.Context) (Backup, error) {
	return g.Provider.CreateBackup(ctx, g.ID)
}

// ListBackups lists backups of the server, most recent first.
func (g GameServer) ListBackups(ctx context.Context) ([]Backup, error) {
	return g.Provider.ListBackups(ctx, g.ID)
}

// RestoreBackup restores the named backup onto the server.
func (g GameServer) RestoreBackup(ctx context.Context, name string) error {
	return g.Provider.RestoreBackup(ctx, g.ID, name)
}

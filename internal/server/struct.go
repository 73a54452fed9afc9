package server

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/woozymasta/nidibot/internal/models"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Lister returns the servers currently known to the bot.
type Lister interface {
	Servers(ctx context.Context) []provider.GameServer
}

// Catalog is the read side of the backup catalog and command journal.
type Catalog interface {
	AllBackups(ctx context.Context) ([]models.BackupRecord, error)
	ListBackups(ctx context.Context, provider, serverID string) ([]models.BackupRecord, error)
	RecentCommands(ctx context.Context, limit int) ([]models.CommandRecord, error)
}

// Locator resolves the country of a server address.
type Locator interface {
	CountryCode(address string) string
}

// Server holds the dependencies and configuration of the HTTP API.
type Server struct {
	// servers lists game servers from the notification engine caches.
	servers Lister

	// catalog provides access to persisted backups and journaled commands.
	// It can be nil when the database is not opened, the related endpoints then answer 503.
	catalog Catalog

	// geoip resolves server addresses to country codes.
	// It can be nil if the GeoIP database is not initialized.
	geoip Locator

	// clients keeps one rate limiter per client IP. Idle entries expire on their own.
	clients *cache.Cache

	// authToken is the secret token required to access the /api endpoints.
	authToken string

	// address is the listen address of the HTTP server.
	address string

	// limitCount is the maximum number of requests allowed per IP address
	// within the limitWin duration.
	limitCount int

	// limitWin is the time window duration for the rate limiter.
	limitWin time.Duration

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// serverView is one game server as served by /api/servers.
type serverView struct {
	Provider string           `json:"provider"`
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Title    string           `json:"title"`
	Country  string           `json:"country,omitempty"`
	Status   provider.Snapshot `json:"status"`
}

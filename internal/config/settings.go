package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bot type tags.
const (
	BotDiscord  = "discord"
	BotTelegram = "telegram"
)

// Server provider type tags.
const (
	ProviderNitrado = "nitrado"
	ProviderA2S     = "a2s"
	ProviderFake    = "fake"
)

// Defaults applied to zero values of the configuration file.
const (
	DefaultTimeoutSeconds       = 10
	DefaultPollingSeconds       = 5
	DefaultNotifyPollingSeconds = 5
	DefaultQueueSize            = 100
	DefaultBackupTimeoutSeconds = 1800
)

// Settings is the bot configuration file.
type Settings struct {
	General         General          `json:"general" yaml:"general"`
	Bots            []Bot            `json:"bots" yaml:"bots"`
	ServerProviders []ServerProvider `json:"server_providers" yaml:"server_providers"`
}

// General holds process-wide paths.
type General struct {
	BackupsFolderPath string `json:"backups_folder_path" yaml:"backups_folder_path"`
	LogsFolderPath    string `json:"logs_folder_path" yaml:"logs_folder_path"`
}

// Bot configures one chat bot.
type Bot struct {
	Type                 string   `json:"type" yaml:"type"`
	Token                string   `json:"token" yaml:"token"`
	PrivilegedUsers      []string `json:"privileged_users" yaml:"privileged_users"`
	AllowedChannels      []string `json:"allowed_channels" yaml:"allowed_channels"`
	NotifyPollingSeconds int      `json:"notify_polling_seconds" yaml:"notify_polling_seconds"`
	QueueSize            int      `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// NotifyInterval returns the notification flush cadence.
func (b Bot) NotifyInterval() time.Duration {
	return time.Duration(b.NotifyPollingSeconds) * time.Second
}

// ServerProvider configures one game server provider.
type ServerProvider struct {
	Type           string         `json:"type" yaml:"type"`
	Token          string         `json:"token" yaml:"token"`
	Name           string         `json:"name,omitempty" yaml:"name,omitempty"`
	BaseURL        string         `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Servers        []StaticServer `json:"servers,omitempty" yaml:"servers,omitempty"`
	Notifications  Notifications  `json:"notifications" yaml:"notifications"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"`
	PollingSeconds int            `json:"polling_seconds" yaml:"polling_seconds"`

	BackupTimeoutSeconds int `json:"backup_timeout_seconds,omitempty" yaml:"backup_timeout_seconds,omitempty"`
}

// Timeout returns the bound of a single provider network call.
func (p ServerProvider) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// BackupTimeout returns the bound of a whole backup create or restore operation.
func (p ServerProvider) BackupTimeout() time.Duration {
	return time.Duration(p.BackupTimeoutSeconds) * time.Second
}

// PollInterval returns the notification engine cadence.
func (p ServerProvider) PollInterval() time.Duration {
	return time.Duration(p.PollingSeconds) * time.Second
}

// Notifications toggles every change category independently.
type Notifications struct {
	OnNewServer             bool `json:"on_new_server" yaml:"on_new_server"`
	OnStatusChange          bool `json:"on_status_change" yaml:"on_status_change"`
	OnAddressChange         bool `json:"on_address_change" yaml:"on_address_change"`
	OnVersionChange         bool `json:"on_version_change" yaml:"on_version_change"`
	OnUpdateAvailableChange bool `json:"on_update_available_change" yaml:"on_update_available_change"`
	OnServerRemoved         bool `json:"on_server_removed,omitempty" yaml:"on_server_removed,omitempty"`
}

// StaticServer is a self-hosted server listed explicitly in configuration.
type StaticServer struct {
	Name string `json:"name" yaml:"name"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// LoadSettings reads the bot configuration file at path.
// A missing file falls back to settings synthesized from getenv.
func LoadSettings(path string, getenv func(string) string) (*Settings, error) {
	var settings Settings

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		settings = FromEnv(getenv)
	case err != nil:
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrConfiguration, path, err)
	default:
		if err := decode(path, content, &settings); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrConfiguration, path, err)
		}
	}

	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func decode(path string, content []byte, dst *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, dst)
	default:
		return json.Unmarshal(content, dst)
	}
}

// FromEnv builds settings from the environment variables used by container deployments.
// A bot or provider entry exists only when its token variable is set.
func FromEnv(getenv func(string) string) Settings {
	settings := Settings{
		General: General{
			BackupsFolderPath: getenv("BACKUPS_FOLDER_PATH"),
			LogsFolderPath:    getenv("LOGS_FOLDER_PATH"),
		},
	}

	for _, kind := range []string{BotDiscord, BotTelegram} {
		prefix := strings.ToUpper(kind) + "_"
		token := getenv(prefix + "TOKEN")
		if token == "" {
			continue
		}

		settings.Bots = append(settings.Bots, Bot{
			Type:            kind,
			Token:           token,
			PrivilegedUsers: splitList(getenv(prefix + "PRIVILEGED_USERS")),
			AllowedChannels: splitList(getenv(prefix + "ALLOWED_CHANNELS")),
		})
	}

	if token := getenv("NITRADO_TOKEN"); token != "" {
		settings.ServerProviders = append(settings.ServerProviders, ServerProvider{
			Type:  ProviderNitrado,
			Token: token,
			Notifications: Notifications{
				OnNewServer:             true,
				OnStatusChange:          true,
				OnAddressChange:         true,
				OnVersionChange:         true,
				OnUpdateAvailableChange: true,
			},
		})
	}

	return settings
}

// ApplyDefaults fills zero-valued intervals, timeouts and queue sizes.
func (s *Settings) ApplyDefaults() {
	if s.General.BackupsFolderPath == "" {
		s.General.BackupsFolderPath = "backups"
	}

	for i := range s.Bots {
		b := &s.Bots[i]
		b.Type = strings.ToLower(strings.TrimSpace(b.Type))
		if b.NotifyPollingSeconds == 0 {
			b.NotifyPollingSeconds = DefaultNotifyPollingSeconds
		}
		if b.QueueSize == 0 {
			b.QueueSize = DefaultQueueSize
		}
	}

	for i := range s.ServerProviders {
		p := &s.ServerProviders[i]
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if p.PollingSeconds == 0 {
			p.PollingSeconds = DefaultPollingSeconds
		}
		if p.BackupTimeoutSeconds == 0 {
			p.BackupTimeoutSeconds = DefaultBackupTimeoutSeconds
		}
	}
}

// Validate reports the first problem found, wrapped in ErrConfiguration.
func (s *Settings) Validate() error {
	if len(s.Bots) == 0 {
		return fmt.Errorf("%w: no bots configured", ErrConfiguration)
	}
	if len(s.ServerProviders) == 0 {
		return fmt.Errorf("%w: no server providers configured", ErrConfiguration)
	}

	for i, b := range s.Bots {
		switch b.Type {
		case BotDiscord, BotTelegram:
		default:
			return fmt.Errorf("%w: bots[%d]: unknown type %q", ErrConfiguration, i, b.Type)
		}
		if b.Token == "" {
			return fmt.Errorf("%w: bots[%d]: missing token", ErrConfiguration, i)
		}
		if b.NotifyPollingSeconds < 0 || b.QueueSize < 0 {
			return fmt.Errorf("%w: bots[%d]: negative interval or queue size", ErrConfiguration, i)
		}
	}

	for i, p := range s.ServerProviders {
		switch p.Type {
		case ProviderNitrado:
			if p.Token == "" {
				return fmt.Errorf("%w: server_providers[%d]: missing token", ErrConfiguration, i)
			}
		case ProviderA2S:
			if len(p.Servers) == 0 {
				return fmt.Errorf("%w: server_providers[%d]: a2s provider needs servers", ErrConfiguration, i)
			}
			for j, srv := range p.Servers {
				if srv.Host == "" || srv.Port <= 0 || srv.Port > 65535 {
					return fmt.Errorf("%w: server_providers[%d].servers[%d]: invalid host or port", ErrConfiguration, i, j)
				}
			}
		case ProviderFake:
		default:
			return fmt.Errorf("%w: server_providers[%d]: unknown type %q", ErrConfiguration, i, p.Type)
		}
		if p.TimeoutSeconds < 0 || p.PollingSeconds < 0 || p.BackupTimeoutSeconds < 0 {
			return fmt.Errorf("%w: server_providers[%d]: negative interval", ErrConfiguration, i)
		}
	}

	return nil
}

// splitList splits a comma-separated list, trimming blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Package config handles the parsing and validation of application configuration
// from command-line arguments, environment variables and the bot configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/woozymasta/nidibot/internal/logger"
	"github.com/woozymasta/nidibot/internal/vars"
)

// ErrConfiguration marks every error caused by malformed or incomplete configuration.
var ErrConfiguration = errors.New("configuration error")

// Config represents the complete application configuration:
// process flags plus the loaded bot configuration file.
type Config struct {
	// betteralign:ignore

	File    string `short:"c" long:"config" env:"NIDIBOT_CONFIG" description:"Path to bot configuration file (json or yaml)" default:"bot_configuration.json"`
	EnvFile string `short:"e" long:"env-file" env:"NIDIBOT_ENV_FILE" description:"Path to .env file loaded before reading configuration" default:".env"`

	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"NIDIBOT_DB"`
	HTTP      HTTP          `group:"HTTP Options" namespace:"http" env-namespace:"NIDIBOT_HTTP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"NIDIBOT_RATE_LIMIT"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"NIDIBOT_GEOIP"`
	A2S       A2S           `group:"A2S Options" namespace:"a2s" env-namespace:"NIDIBOT_A2S"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"NIDIBOT_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`

	// Settings is the content of the bot configuration file.
	Settings Settings `no-flag:"true"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Path         string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"nidibot.db"`
	PruneBackups string `long:"prune-backups" description:"Keep only the N newest backups per server, then exit. Optional arg: N." optional:"true" optional-value:"10"`
	Reindex      bool   `long:"reindex" description:"Reconcile backup catalog with archives on disk, then exit"`
}

// HTTP holds the optional status API configuration.
type HTTP struct {
	// betteralign:ignore

	Address    string `short:"l" long:"address" env:"ADDRESS" description:"HTTP API listen address, empty disables the API"`
	AuthToken  string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token for the HTTP API"`
	TrustProxy bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, empty disables country lookup"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// A2S holds Source Query protocol configuration.
type A2S struct {
	// betteralign:ignore

	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
}

// RateLimit holds HTTP API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	Count  int           `long:"count" env:"COUNT" description:"Requests allowed per IP within the window" default:"30"`
	Window time.Duration `long:"window" env:"WINDOW" description:"Rate limit window duration" default:"1m"`
}

// Parse reads the configuration from flags, environment variables and the bot configuration file.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := ParseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	return cfg
}

// ParseArgs parses args and loads the bot configuration file.
// Flag errors are returned as *flags.Error, everything else wraps ErrConfiguration.
func ParseArgs(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.Version {
		return &cfg, nil
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to load env file %s: %w", ErrConfiguration, cfg.EnvFile, err)
		}
	}

	settings, err := LoadSettings(cfg.File, os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg.Settings = *settings

	if cfg.HTTP.Address != "" && cfg.HTTP.AuthToken == "" {
		return nil, fmt.Errorf(
			"%w: flag `-t, --http-auth-token' or environment variable `NIDIBOT_HTTP_AUTH_TOKEN` is required when the HTTP API is enabled",
			ErrConfiguration)
	}

	return &cfg, nil
}

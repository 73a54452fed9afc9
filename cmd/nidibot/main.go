// main is the entry point of the nidibot application.
// It initializes the configuration, logger, database, GeoIP provider, and starts the bots.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/geoip"
	"github.com/woozymasta/nidibot/internal/logger"
	"github.com/woozymasta/nidibot/internal/maintenance"
	"github.com/woozymasta/nidibot/internal/nidibot"
	"github.com/woozymasta/nidibot/internal/storage"
	"github.com/woozymasta/nidibot/internal/vars"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger, cfg.Settings.General.LogsFolderPath)
	log.Info().Str("version", vars.Version).Msg("Starting nidibot...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// GeoIP is optional, status replies just lose the country code
	var locator dispatch.Locator
	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		} else {
			locator = geoProvider
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(ctx, cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	backups := backup.NewStore(cfg.Settings.General.BackupsFolderPath, store)

	if maintenance.Run(ctx, cfg, backups, store) {
		return
	}

	app, err := nidibot.New(cfg, nidibot.Deps{
		Backups:       backups,
		Journal:       store,
		Locator:       locator,
		Catalog:       store,
		BackupsFolder: cfg.Settings.General.BackupsFolderPath,
		A2S:           cfg.A2S,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure application")
	}

	if err := app.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Application failed")
	}

	log.Info().Msg("Nidibot exited")
}

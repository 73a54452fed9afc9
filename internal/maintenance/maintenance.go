// Package maintenance provides one-shot tools for backup retention and catalog repair.
package maintenance

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/models"
)

const workers = 4

// Catalog is the backup catalog; *storage.Repository implements it.
type Catalog interface {
	InsertBackup(ctx context.Context, b models.BackupRecord) (models.BackupRecord, error)
	AllBackups(ctx context.Context) ([]models.BackupRecord, error)
	DeleteBackup(ctx context.Context, id string) error
}

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg *config.Config, store *backup.Store, catalog Catalog) bool {
	ran := false

	if cfg.Storage.PruneBackups != "" {
		ran = true
		keep, err := strconv.Atoi(cfg.Storage.PruneBackups)
		if err != nil || keep < 0 {
			log.Error().Str("value", cfg.Storage.PruneBackups).Msg("Invalid number of backups to keep")
		} else {
			log.Info().Int("keep", keep).Msg("Pruning backups...")
			removed, err := Prune(ctx, store, keep)
			if err != nil {
				log.Error().Err(err).Msg("Failed to prune backups")
			}
			log.Info().Int("deleted", removed).Msg("Prune finished")
		}
	}

	if cfg.Storage.Reindex {
		ran = true
		log.Info().Str("root", store.Root()).Msg("Reindexing backup catalog...")
		added, dropped, err := Reindex(ctx, store, catalog)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reindex backup catalog")
		}
		log.Info().Int("registered", added).Int("dropped", dropped).Msg("Reindex finished")
	}

	return ran
}

// Prune keeps the keep newest archives of every server and returns how many were removed.
func Prune(ctx context.Context, store *backup.Store, keep int) (int, error) {
	keys, err := store.Keys()
	if err != nil {
		return 0, err
	}

	var removed atomic.Int64
	err = runWorkerPool(keys, func(key backup.Key) error {
		n, err := store.Prune(ctx, key, keep)
		removed.Add(int64(n))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Debug().
				Str("provider", key.Provider).
				Str("server", key.ServerID).
				Int("deleted", n).
				Msg("Old backups removed")
		}
		return nil
	})

	return int(removed.Load()), err
}

// Reindex registers every archive on disk in the catalog and drops records whose
// archive is gone. It returns the number of registered and dropped records.
func Reindex(ctx context.Context, store *backup.Store, catalog Catalog) (int, int, error) {
	keys, err := store.Keys()
	if err != nil {
		return 0, 0, err
	}

	var (
		added atomic.Int64
		bytes atomic.Int64
	)
	err = runWorkerPool(keys, func(key backup.Key) error {
		backups, err := store.List(key)
		if err != nil {
			return err
		}

		for _, b := range backups {
			if _, err := catalog.InsertBackup(ctx, backup.Record(key, b)); err != nil {
				return err
			}
			added.Add(1)
			bytes.Add(b.Size)
		}
		return nil
	})
	if err != nil {
		return int(added.Load()), 0, err
	}

	records, err := catalog.AllBackups(ctx)
	if err != nil {
		return int(added.Load()), 0, err
	}

	dropped := 0
	for _, rec := range records {
		if _, err := os.Stat(rec.Path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := catalog.DeleteBackup(ctx, rec.ID); err != nil {
			return int(added.Load()), dropped, err
		}
		dropped++
	}

	log.Info().
		Int("servers", len(keys)).
		Str("size", humanize.IBytes(uint64(bytes.Load()))).
		Msg("Archives on disk")

	return int(added.Load()), dropped, nil
}

func runWorkerPool(keys []backup.Key, fn func(backup.Key) error) error {
	jobs := make(chan backup.Key, len(keys))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				if err := fn(key); err != nil {
					log.Error().Err(err).Str("provider", key.Provider).Str("server", key.ServerID).Msg("Maintenance failed")
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

	for _, k := range keys {
		jobs <- k
	}
	close(jobs)

	wg.Wait()
	return errors.Join(errs...)
}

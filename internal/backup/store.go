// Package backup stores game server backups as gzip-compressed tar archives
// under <root>/<provider>/<game>/<server_id>/<YYYYMMDD_HHMMSS>.tar.gz
// and mirrors them into the SQLite catalog.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/models"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Extension of every archive written by the store.
const Extension = ".tar.gz"

// Catalog records archives; *storage.Repository implements it.
type Catalog interface {
	InsertBackup(ctx context.Context, b models.BackupRecord) (models.BackupRecord, error)
	ListBackups(ctx context.Context, provider, serverID string) ([]models.BackupRecord, error)
	DeleteBackup(ctx context.Context, id string) error
}

// Key addresses the backups of one server.
type Key struct {
	Provider string
	Game     string
	ServerID string
}

// Store manages archives on disk. Catalog is optional.
type Store struct {
	catalog Catalog
	now     func() time.Time
	root    string
}

// NewStore returns a store rooted at root.
func NewStore(root string, catalog Catalog) *Store {
	return &Store{root: root, catalog: catalog, now: time.Now}
}

// Root returns the store root folder.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the folder holding the archives of key.
func (s *Store) Dir(key Key) string {
	return filepath.Join(s.root, segment(key.Provider), segment(key.Game), segment(key.ServerID))
}

// Archive packs srcDir into a new archive and registers it in the catalog.
func (s *Store) Archive(ctx context.Context, key Key, srcDir string) (provider.Backup, error) {
	dir := s.Dir(key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return provider.Backup{}, fmt.Errorf("failed to create backup folder: %w", err)
	}

	stamp := s.now()
	name := provider.FormatBackupName(stamp)
	for {
		if _, err := os.Stat(filepath.Join(dir, name+Extension)); errors.Is(err, os.ErrNotExist) {
			break
		}
		stamp = stamp.Add(time.Second)
		name = provider.FormatBackupName(stamp)
	}

	path := filepath.Join(dir, name+Extension)
	size, err := writeArchive(ctx, path, srcDir)
	if err != nil {
		return provider.Backup{}, err
	}

	b, _ := provider.NewBackup(name, path, size)

	if s.catalog != nil {
		if _, err := s.catalog.InsertBackup(ctx, Record(key, b)); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to register backup in catalog")
		}
	}

	log.Info().
		Str("provider", key.Provider).
		Str("server", key.ServerID).
		Str("backup", name).
		Int64("size", size).
		Msg("Backup archive created")

	return b, nil
}

// List returns the archives of key found on disk, most recent first.
func (s *Store) List(key Key) ([]provider.Backup, error) {
	entries, err := os.ReadDir(s.Dir(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup folder: %w", err)
	}

	var backups []provider.Backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		b, ok := provider.NewBackup(entry.Name(), filepath.Join(s.Dir(key), entry.Name()), info.Size())
		if !ok {
			continue
		}
		backups = append(backups, b)
	}

	provider.SortBackups(backups)
	return backups, nil
}

// Find returns the archive of key matching name or display name.
func (s *Store) Find(key Key, name string) (provider.Backup, error) {
	backups, err := s.List(key)
	if err != nil {
		return provider.Backup{}, err
	}

	b, ok := provider.FindBackup(backups, name)
	if !ok {
		return provider.Backup{}, fmt.Errorf("%w: %s", provider.ErrBackupNotFound, name)
	}

	return b, nil
}

// Extract unpacks the named archive of key into dstDir.
func (s *Store) Extract(ctx context.Context, key Key, name, dstDir string) error {
	b, err := s.Find(key, name)
	if err != nil {
		return err
	}

	return extractArchive(ctx, b.Location, dstDir)
}

// Prune removes all but the keep most recent archives of key and returns how many were removed.
func (s *Store) Prune(ctx context.Context, key Key, keep int) (int, error) {
	backups, err := s.List(key)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(backups) <= keep {
		return 0, nil
	}

	var records []models.BackupRecord
	if s.catalog != nil {
		records, err = s.catalog.ListBackups(ctx, key.Provider, key.ServerID)
		if err != nil {
			return 0, err
		}
	}

	removed := 0
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Location); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove %s: %w", b.Location, err)
		}
		removed++

		for _, rec := range records {
			if rec.Name == b.Name {
				_ = s.catalog.DeleteBackup(ctx, rec.ID)
			}
		}
	}

	return removed, nil
}

// Keys walks the store and returns the key of every server folder.
func (s *Store) Keys() ([]Key, error) {
	var keys []Key

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) == 3 {
			keys = append(keys, Key{Provider: parts[0], Game: parts[1], ServerID: parts[2]})
			return filepath.SkipDir
		}

		return nil
	})

	return keys, err
}

// Record converts a descriptor into a catalog record.
func Record(key Key, b provider.Backup) models.BackupRecord {
	return models.BackupRecord{
		Provider:  key.Provider,
		Game:      key.Game,
		ServerID:  key.ServerID,
		Name:      b.Name,
		Path:      b.Location,
		Size:      b.Size,
		CreatedAt: b.CreatedAt,
	}
}

// segment makes a value safe to use as a single path element.
func segment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == "." || value == ".." {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, value)
}

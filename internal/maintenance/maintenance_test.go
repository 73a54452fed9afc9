package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/models"
)

type memCatalog struct {
	records map[string]models.BackupRecord
	mu      sync.Mutex
}

func newCatalog() *memCatalog {
	return &memCatalog{records: make(map[string]models.BackupRecord)}
}

func (m *memCatalog) InsertBackup(_ context.Context, b models.BackupRecord) (models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.Provider == b.Provider && rec.ServerID == b.ServerID && rec.Name == b.Name {
			b.ID = id
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.records[b.ID] = b
	return b, nil
}

func (m *memCatalog) ListBackups(_ context.Context, p, serverID string) ([]models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BackupRecord
	for _, rec := range m.records {
		if rec.Provider == p && rec.ServerID == serverID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memCatalog) AllBackups(context.Context) ([]models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BackupRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memCatalog) DeleteBackup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memCatalog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func seed(t *testing.T, store *backup.Store, key backup.Key, count int) {
	t.Helper()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "storage.bin"), []byte("player data"), 0o600); err != nil {
		t.Fatal(err)
	}

	for range count {
		if _, err := store.Archive(context.Background(), key, src); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPrune(t *testing.T) {
	catalog := newCatalog()
	store := backup.NewStore(t.TempDir(), catalog)

	alpha := backup.Key{Provider: "nitrado", Game: "dayzxb", ServerID: "42"}
	beta := backup.Key{Provider: "nitrado", Game: "dayzps", ServerID: "7"}
	seed(t, store, alpha, 3)
	seed(t, store, beta, 1)

	removed, err := Prune(context.Background(), store, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d", removed)
	}

	for _, key := range []backup.Key{alpha, beta} {
		backups, err := store.List(key)
		if err != nil {
			t.Fatal(err)
		}
		if len(backups) != 1 {
			t.Errorf("%s: %d backups left", key.ServerID, len(backups))
		}
	}
	if catalog.Len() != 2 {
		t.Errorf("catalog has %d records", catalog.Len())
	}
}

func TestReindex(t *testing.T) {
	store := backup.NewStore(t.TempDir(), nil)
	key := backup.Key{Provider: "nitrado", Game: "dayzxb", ServerID: "42"}
	seed(t, store, key, 2)

	catalog := newCatalog()
	stale := models.BackupRecord{ID: "stale", Provider: "nitrado", ServerID: "42", Name: "20200101_000000", Path: filepath.Join(store.Dir(key), "20200101_000000.tar.gz")}
	catalog.records[stale.ID] = stale

	added, dropped, err := Reindex(context.Background(), store, catalog)
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || dropped != 1 {
		t.Errorf("added = %d, dropped = %d", added, dropped)
	}
	if catalog.Len() != 2 {
		t.Errorf("catalog has %d records", catalog.Len())
	}

	// a second pass only refreshes
	if added, dropped, _ = Reindex(context.Background(), store, catalog); added != 2 || dropped != 0 || catalog.Len() != 2 {
		t.Errorf("second pass: added = %d, dropped = %d, records = %d", added, dropped, catalog.Len())
	}
}

func TestRunWithoutFlags(t *testing.T) {
	store := backup.NewStore(t.TempDir(), nil)
	if Run(context.Background(), &config.Config{}, store, newCatalog()) {
		t.Error("Run reported a task without flags")
	}
}

func TestRunPruneFlag(t *testing.T) {
	store := backup.NewStore(t.TempDir(), nil)
	key := backup.Key{Provider: "fake", Game: "dayz", ServerID: "1"}
	seed(t, store, key, 2)

	cfg := &config.Config{}
	cfg.Storage.PruneBackups = "0"
	if !Run(context.Background(), cfg, store, newCatalog()) {
		t.Fatal("Run skipped the prune task")
	}

	backups, _ := store.List(key)
	if len(backups) != 0 {
		t.Errorf("%d backups left", len(backups))
	}
}

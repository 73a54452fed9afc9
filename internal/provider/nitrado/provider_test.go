package nitrado

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/provider"
)

type fakeAPI struct {
	status   string
	database string
	actions  []string
	failures int
	mu       sync.Mutex
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, code int, body map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"status": "success", "message": "nitrapi-1471-abcdef"})
	})

	mux.HandleFunc("GET /services", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			reply(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "unauthorized"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]any{
			"services": []map[string]any{
				{"id": 42, "type": "gameserver", "suspend_date": "2024-05-01T10:00:00", "details": map[string]any{"folder_short": "dayzxb", "game": "dayz"}},
				{"id": 7, "type": "webspace", "details": map[string]any{"folder_short": "web"}},
			},
		}})
	})

	mux.HandleFunc("GET /services/{id}/gameservers", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "42" {
			reply(w, http.StatusNotFound, map[string]any{"status": "error", "message": "not found"})
			return
		}

		f.mu.Lock()
		status := f.status
		database := f.database
		fail := f.failures > 0
		if fail {
			f.failures--
		}
		f.mu.Unlock()

		if fail {
			reply(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "maintenance"})
			return
		}

		q := any([]any{})
		if status == "started" {
			q = map[string]any{
				"version":        "1.25",
				"connect_ip":     "203.0.113.5:2302",
				"player_max":     60,
				"player_current": 2,
				"players":        []map[string]any{{"name": "Alice"}, {"name": "Bob"}},
			}
		}

		reply(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]any{
			"gameserver": map[string]any{
				"status":        status,
				"game_human":    "DayZ (Xbox)",
				"ip":            "203.0.113.5",
				"query_port":    "27016",
				"slots":         60,
				"query":         q,
				"game_specific": map[string]any{"update_status": "up_to_date"},
				"credentials": map[string]any{
					"ftp": map[string]any{
						"hostname": "ftp.example.net", "port": 21, "username": "ni42", "password": "pw",
					},
					"mysql": map[string]any{
						"hostname": "db.example.net", "port": "3306", "username": "ni42_db", "password": "dbpw", "database": database,
					},
				},
			},
		}})
	})

	mux.HandleFunc("POST /services/{id}/gameservers/{action}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.actions = append(f.actions, r.PathValue("action"))
		switch r.PathValue("action") {
		case "stop":
			f.status = "stopped"
		case "restart":
			f.status = "started"
		}
		f.mu.Unlock()

		reply(w, http.StatusOK, map[string]any{"status": "success", "message": "ok"})
	})

	return mux
}

func (f *fakeAPI) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

type memTransfer struct {
	uploaded map[string]string
	files    map[string]string
}

func (m *memTransfer) Download(_ context.Context, _ Credentials, dstDir string) error {
	for name, content := range m.files {
		path := filepath.Join(dstDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func (m *memTransfer) Upload(_ context.Context, _ Credentials, srcDir string) error {
	m.uploaded = make(map[string]string)
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(srcDir, path)
		content, err := os.ReadFile(path)
		m.uploaded[filepath.ToSlash(rel)] = string(content)
		return err
	})
}

func newTestProvider(t *testing.T, api *fakeAPI, transfer Transfer) *Provider {
	t.Helper()

	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	store := backup.NewStore(t.TempDir(), nil)
	p := New(config.ServerProvider{
		Type:                 config.ProviderNitrado,
		Token:                "secret",
		BaseURL:              srv.URL,
		TimeoutSeconds:       5,
		BackupTimeoutSeconds: 30,
	}, store)

	return p.WithTransfer(transfer).WithWait(2*time.Second, 10*time.Millisecond)
}

func TestListServers(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{status: "started"}, &memTransfer{})

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	servers, err := p.ListServers(context.Background())
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("servers = %+v", servers)
	}

	s := servers[0]
	if s.ID != "42" || s.Name != "dayzxb-203.0.113.5:2302" {
		t.Errorf("id/name = %s/%s", s.ID, s.Name)
	}
	if s.Snapshot.State != provider.StateRunning || s.Snapshot.Version != "1.25" || s.Snapshot.PlayersConnected != 2 {
		t.Errorf("snapshot = %+v", s.Snapshot)
	}
	if !reflect.DeepEqual(s.Snapshot.PlayerNames, []string{"Alice", "Bob"}) {
		t.Errorf("players = %v", s.Snapshot.PlayerNames)
	}
	if s.Snapshot.AvailableUntil.IsZero() {
		t.Error("suspend date not parsed")
	}
}

func TestOfflineSnapshotFallsBackToServerAddress(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{status: "stopped"}, &memTransfer{})

	s, err := p.GetStatus(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if s.State != provider.StateStopped || s.Address != "203.0.113.5:27016" || s.PlayersLimit != 60 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestErrors(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{status: "started"}, &memTransfer{})

	if _, err := p.GetStatus(context.Background(), "999"); !errors.Is(err, provider.ErrServerNotFound) {
		t.Errorf("unknown server err = %v", err)
	}

	p.client.token = "Bearer wrong"
	if _, err := p.ListServers(context.Background()); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Errorf("bad token err = %v", err)
	}
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{status: "started"}
	transfer := &memTransfer{files: map[string]string{
		"dayzxb/storage_1/data.bin": "state",
		"dayzxb/config.cfg":         "hostname=test",
	}}
	p := newTestProvider(t, api, transfer)

	b, err := p.CreateBackup(ctx, "42")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	list, err := p.ListBackups(ctx, "42")
	if err != nil || len(list) != 1 || list[0].Name != b.Name {
		t.Fatalf("ListBackups = %+v, %v", list, err)
	}
	if dir := filepath.Dir(list[0].Location); filepath.Base(filepath.Dir(dir)) != "dayzxb" {
		t.Errorf("archive stored under %s", list[0].Location)
	}

	if err := p.RestoreBackup(ctx, "42", "19990101_000000"); !errors.Is(err, provider.ErrBackupNotFound) {
		t.Fatalf("restore unknown err = %v", err)
	}
	if len(api.Actions()) != 0 {
		t.Fatalf("actions before valid restore = %v", api.Actions())
	}

	if err := p.RestoreBackup(ctx, "42", b.DisplayName); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	if want := []string{"stop", "restart"}; !reflect.DeepEqual(api.Actions(), want) {
		t.Errorf("actions = %v, want %v", api.Actions(), want)
	}
	if !reflect.DeepEqual(transfer.uploaded, transfer.files) {
		t.Errorf("uploaded = %v", transfer.uploaded)
	}
}

func TestRestoreKeepsStoppedServerStopped(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{status: "stopped"}
	p := newTestProvider(t, api, &memTransfer{files: map[string]string{"a.txt": "a"}})

	b, err := p.CreateBackup(ctx, "42")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if err := p.RestoreBackup(ctx, "42", b.Name); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if got := api.Actions(); len(got) != 0 {
		t.Errorf("actions = %v, want none", got)
	}
}

func TestListServersFailsOnUnavailableGameserver(t *testing.T) {
	api := &fakeAPI{status: "started", failures: 1}
	p := newTestProvider(t, api, &memTransfer{})

	if _, err := p.ListServers(context.Background()); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want provider unavailable", err)
	}

	servers, err := p.ListServers(context.Background())
	if err != nil || len(servers) != 1 {
		t.Fatalf("after recovery: servers = %+v, err = %v", servers, err)
	}
}

func TestRestoreStartsRestartingServer(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{status: "stopped"}
	p := newTestProvider(t, api, &memTransfer{files: map[string]string{"a.txt": "a"}})

	b, err := p.CreateBackup(ctx, "42")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	api.mu.Lock()
	api.status = "restarting"
	api.mu.Unlock()

	if err := p.RestoreBackup(ctx, "42", b.Name); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if want := []string{"stop", "restart"}; !reflect.DeepEqual(api.Actions(), want) {
		t.Errorf("actions = %v, want %v", api.Actions(), want)
	}
}

type memDatabase struct {
	dumped MySQL
	loaded string
	fail   bool
}

func (m *memDatabase) Dump(_ context.Context, db MySQL, dst string) error {
	if m.fail {
		return ErrToolMissing
	}
	m.dumped = db
	return os.WriteFile(dst, []byte("CREATE TABLE players;"), 0o600)
}

func (m *memDatabase) Load(_ context.Context, _ MySQL, src string) error {
	content, err := os.ReadFile(src)
	m.loaded = string(content)
	return err
}

func TestBackupIncludesDatabase(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{status: "stopped", database: "ni42_mysql"}
	db := &memDatabase{}
	transfer := &memTransfer{files: map[string]string{"a.txt": "a"}}
	p := newTestProvider(t, api, transfer).WithDatabase(db)

	b, err := p.CreateBackup(ctx, "42")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if db.dumped.Hostname != "db.example.net" || db.dumped.Port != 3306 || db.dumped.Password != "dbpw" {
		t.Errorf("dumped with %+v", db.dumped)
	}

	if err := p.RestoreBackup(ctx, "42", b.Name); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if db.loaded != "CREATE TABLE players;" {
		t.Errorf("loaded = %q", db.loaded)
	}
	if _, ok := transfer.uploaded["a.txt"]; !ok || len(transfer.uploaded) != 1 {
		t.Errorf("uploaded = %v", transfer.uploaded)
	}
}

func TestBackupWithoutDatabaseTools(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{status: "stopped", database: "ni42_mysql"}
	db := &memDatabase{fail: true}
	p := newTestProvider(t, api, &memTransfer{files: map[string]string{"a.txt": "a"}}).WithDatabase(db)

	b, err := p.CreateBackup(ctx, "42")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if err := p.RestoreBackup(ctx, "42", b.Name); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if db.loaded != "" {
		t.Errorf("loaded = %q from a backup without dump", db.loaded)
	}
}

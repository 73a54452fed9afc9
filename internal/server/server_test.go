package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/fake"
	"github.com/woozymasta/nidibot/internal/models"
	"github.com/woozymasta/nidibot/internal/provider"
)

const testToken = "secret"

type listerFunc func(ctx context.Context) []provider.GameServer

func (f listerFunc) Servers(ctx context.Context) []provider.GameServer {
	return f(ctx)
}

type memCatalog struct {
	backups  []models.BackupRecord
	commands []models.CommandRecord
	limit    int
}

func (m *memCatalog) AllBackups(context.Context) ([]models.BackupRecord, error) {
	return m.backups, nil
}

func (m *memCatalog) ListBackups(_ context.Context, p, serverID string) ([]models.BackupRecord, error) {
	var out []models.BackupRecord
	for _, b := range m.backups {
		if b.Provider == p && b.ServerID == serverID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memCatalog) RecentCommands(_ context.Context, limit int) ([]models.CommandRecord, error) {
	m.limit = limit
	return m.commands, nil
}

type staticLocator string

func (l staticLocator) CountryCode(string) string {
	return string(l)
}

func newTestServer(catalog Catalog, count int) *Server {
	p := fake.NewEmpty("Fake")
	servers := listerFunc(func(context.Context) []provider.GameServer {
		return []provider.GameServer{{
			Provider: p,
			ID:       "1",
			Name:     "Alpha",
			Snapshot: provider.Snapshot{State: provider.StateRunning, GameName: "DayZ", Address: "192.0.2.1:2302"},
		}}
	})

	cfg := &config.Config{}
	cfg.HTTP.AuthToken = testToken
	cfg.RateLimit.Count = count
	cfg.RateLimit.Window = time.Minute

	return New(servers, catalog, staticLocator("DE"), cfg)
}

func request(h http.Handler, target string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(nil, 10).Handler()

	rec := request(h, "/healthz", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("request id = %q", got)
	}
}

func TestMetrics(t *testing.T) {
	rec := request(newTestServer(nil, 10).Handler(), "/metrics", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestServers(t *testing.T) {
	h := newTestServer(nil, 10).Handler()

	if rec := request(h, "/api/servers", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthorized status = %d", rec.Code)
	}

	rec := request(h, "/api/servers", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var views []serverView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %+v", views)
	}
	v := views[0]
	if v.Provider != "Fake" || v.Name != "Alpha" || v.Country != "DE" || v.Title != "DayZ - 192.0.2.1:2302" || v.Status.State != provider.StateRunning {
		t.Errorf("view = %+v", v)
	}
}

func TestBackups(t *testing.T) {
	catalog := &memCatalog{backups: []models.BackupRecord{
		{ID: "a", Provider: "nitrado", ServerID: "42", Name: "20240301_120000"},
		{ID: "b", Provider: "nitrado", ServerID: "7", Name: "20240302_120000"},
	}}
	h := newTestServer(catalog, 10).Handler()

	tests := []struct {
		target string
		code   int
		count  int
	}{
		{"/api/backups", http.StatusOK, 2},
		{"/api/backups?provider=nitrado&server_id=42", http.StatusOK, 1},
		{"/api/backups?provider=nitrado&server_id=1", http.StatusOK, 0},
		{"/api/backups?provider=nitrado", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		rec := request(h, tt.target, true)
		if rec.Code != tt.code {
			t.Errorf("%s: status = %d", tt.target, rec.Code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}

		var records []models.BackupRecord
		if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
			t.Fatal(err)
		}
		if len(records) != tt.count {
			t.Errorf("%s: got %d records", tt.target, len(records))
		}
	}
}

func TestBackupsWithoutCatalog(t *testing.T) {
	rec := request(newTestServer(nil, 10).Handler(), "/api/backups", true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCommands(t *testing.T) {
	catalog := &memCatalog{commands: []models.CommandRecord{{ID: "1", Command: "status", Outcome: "ok"}}}
	h := newTestServer(catalog, 10).Handler()

	if rec := request(h, "/api/commands?limit=0", true); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", rec.Code)
	}

	rec := request(h, "/api/commands?limit=10000", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if catalog.limit != maxCommandsLimit {
		t.Errorf("limit = %d", catalog.limit)
	}

	request(h, "/api/commands", true)
	if catalog.limit != 50 {
		t.Errorf("default limit = %d", catalog.limit)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(nil, 2).Handler()

	for i := range 2 {
		if rec := request(h, "/api/servers", true); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	if rec := request(h, "/api/servers", true); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", rec.Code)
	}

	// health is not limited
	if rec := request(h, "/healthz", false); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := GetRealIP(req, false); got != "198.51.100.7" {
		t.Errorf("untrusted = %q", got)
	}
	if got := GetRealIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted = %q", got)
	}
}

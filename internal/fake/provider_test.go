package fake

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/provider"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(3, 42)
	b := Generate(3, 42)

	if len(a) != 3 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name || a[i].Snapshot.Address != b[i].Snapshot.Address {
			t.Errorf("server %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	p := New(config.ServerProvider{
		Type:    config.ProviderFake,
		Servers: []config.StaticServer{{Name: "Alpha", Host: "192.0.2.1", Port: 2302}},
	})

	servers, err := p.ListServers(context.Background())
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "Alpha" || servers[0].Snapshot.Address != "192.0.2.1:2302" {
		t.Errorf("servers = %+v", servers)
	}
	if servers[0].Provider != p {
		t.Error("back-reference not set")
	}

	if generated, _ := New(config.ServerProvider{}).ListServers(context.Background()); len(generated) != 2 {
		t.Errorf("generated %d servers, want 2", len(generated))
	}
}

func TestControlOperations(t *testing.T) {
	ctx := context.Background()
	p := NewEmpty("Fake")
	p.Add("1", "Alpha", provider.Snapshot{State: provider.StateStopped})

	if err := p.Start(ctx, "1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s, _ := p.GetStatus(ctx, "1"); s.State != provider.StateRunning {
		t.Errorf("state after start = %s", s.State)
	}

	if err := p.Stop(ctx, "1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s, _ := p.GetStatus(ctx, "1"); s.State != provider.StateStopped {
		t.Errorf("state after stop = %s", s.State)
	}

	if err := p.Restart(ctx, "missing"); !errors.Is(err, provider.ErrServerNotFound) {
		t.Errorf("Restart missing err = %v", err)
	}

	want := []string{"start 1", "stop 1"}
	if got := p.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestBackups(t *testing.T) {
	ctx := context.Background()
	p := NewEmpty("Fake")
	p.Add("1", "Alpha", provider.Snapshot{State: provider.StateRunning})

	stamp := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	p.SetClock(func() time.Time { return stamp })

	first, err := p.CreateBackup(ctx, "1")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	second, _ := p.CreateBackup(ctx, "1")
	if first.Name != "20240203_040506" || second.Name != "20240203_040507" {
		t.Errorf("names = %s, %s", first.Name, second.Name)
	}

	list, err := p.ListBackups(ctx, "1")
	if err != nil || len(list) != 2 || list[0].Name != second.Name {
		t.Fatalf("ListBackups = %+v, %v", list, err)
	}

	if err := p.RestoreBackup(ctx, "1", "nope"); !errors.Is(err, provider.ErrBackupNotFound) {
		t.Errorf("restore unknown err = %v", err)
	}
	if err := p.RestoreBackup(ctx, "1", first.DisplayName); err != nil {
		t.Errorf("restore by display name: %v", err)
	}
}

func TestFail(t *testing.T) {
	p := NewEmpty("Fake")
	p.Fail(errors.New("connection refused"))

	if _, err := p.ListServers(context.Background()); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Errorf("err = %v", err)
	}

	p.Fail(nil)
	if _, err := p.ListServers(context.Background()); err != nil {
		t.Errorf("err after recovery = %v", err)
	}
}

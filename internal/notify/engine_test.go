package notify

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/fake"
	"github.com/woozymasta/nidibot/internal/provider"
)

type recorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

var allToggles = config.Notifications{
	OnNewServer:             true,
	OnStatusChange:          true,
	OnAddressChange:         true,
	OnVersionChange:         true,
	OnUpdateAvailableChange: true,
}

func running(address, version string) provider.Snapshot {
	return provider.Snapshot{
		State:    provider.StateRunning,
		Address:  address,
		Version:  version,
		GameName: "DayZ",
	}
}

func newEngine(t *testing.T, toggles config.Notifications) (*Engine, *fake.Provider, *recorder) {
	t.Helper()

	p := fake.NewEmpty("Fake")
	p.Add("1", "Alpha", running("192.0.2.1:2302", "1.25"))
	rec := &recorder{}
	e := New(p, config.ServerProvider{Notifications: toggles, PollingSeconds: 1}, rec)

	if _, err := e.Poll(context.Background()); err != nil {
		t.Fatalf("priming poll: %v", err)
	}

	return e, p, rec
}

func categories(events []Event) []Category {
	out := make([]Category, 0, len(events))
	for _, e := range events {
		out = append(out, e.Category)
	}
	return out
}

func TestFirstPollPrimesSilently(t *testing.T) {
	e, _, rec := newEngine(t, allToggles)

	if !e.Primed() {
		t.Fatal("engine not primed")
	}
	if len(rec.Events()) != 0 {
		t.Errorf("events on first poll = %+v", rec.Events())
	}
	if servers := e.Servers(); len(servers) != 1 || servers[0].Name != "Alpha" {
		t.Errorf("cache = %+v", servers)
	}
}

func TestNoChangeEmitsNothing(t *testing.T) {
	e, _, _ := newEngine(t, allToggles)

	for range 3 {
		events, err := e.Poll(context.Background())
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(events) != 0 {
			t.Fatalf("events = %+v", events)
		}
	}
}

func TestFieldChangesInOrder(t *testing.T) {
	e, p, _ := newEngine(t, allToggles)

	p.Update("1", func(s *provider.Snapshot) {
		s.UpdateAvailable = true
		s.Version = "1.26"
		s.Address = "192.0.2.9:2302"
		s.State = provider.StateStopped
	})

	events, err := e.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	want := []Category{CategoryStatus, CategoryAddress, CategoryVersion, CategoryUpdateAvailable}
	if got := categories(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}

	if events[0].Message != "Status changed from 'running' to 'stopped'." {
		t.Errorf("status message = %q", events[0].Message)
	}
	if events[1].Message != "Address from '192.0.2.1:2302' to '192.0.2.9:2302'." {
		t.Errorf("address message = %q", events[1].Message)
	}
	if events[3].Message != "Update is available, please restart server." {
		t.Errorf("update message = %q", events[3].Message)
	}
	if events[0].Title != "DayZ (1.26) - 192.0.2.9:2302" || events[0].Provider != "Fake" || events[0].ServerID != "1" {
		t.Errorf("event = %+v", events[0])
	}

	p.Update("1", func(s *provider.Snapshot) { s.UpdateAvailable = false })
	events, _ = e.Poll(context.Background())
	if len(events) != 1 || events[0].Message != "Update was installed." {
		t.Errorf("events = %+v", events)
	}
}

func TestDisabledToggleStillUpdatesCache(t *testing.T) {
	e, p, _ := newEngine(t, config.Notifications{})

	p.Update("1", func(s *provider.Snapshot) { s.Version = "1.26" })
	if events, _ := e.Poll(context.Background()); len(events) != 0 {
		t.Fatalf("events with toggles off = %+v", events)
	}
	if v := e.Servers()[0].Snapshot.Version; v != "1.26" {
		t.Fatalf("cached version = %s", v)
	}

	e.toggles.OnVersionChange = true
	if events, _ := e.Poll(context.Background()); len(events) != 0 {
		t.Fatalf("stale comparison emitted %+v", events)
	}

	p.Update("1", func(s *provider.Snapshot) { s.Version = "1.27" })
	events, _ := e.Poll(context.Background())
	if len(events) != 1 || events[0].Old != "1.26" || events[0].New != "1.27" {
		t.Errorf("events = %+v", events)
	}
}

func TestNewServerAnnouncedOnce(t *testing.T) {
	e, p, rec := newEngine(t, allToggles)

	p.Add("2", "Beta", running("192.0.2.2:2302", "1.25"))
	for range 2 {
		if _, err := e.Poll(context.Background()); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Category != CategoryNewServer || events[0].ServerName != "Beta" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Message != "New game server appeared, please configure it." {
		t.Errorf("message = %q", events[0].Message)
	}
}

func TestEventsFollowEnumerationOrder(t *testing.T) {
	e, p, _ := newEngine(t, allToggles)
	p.Add("2", "Beta", running("192.0.2.2:2302", "1.25"))
	_, _ = e.Poll(context.Background())

	p.Update("2", func(s *provider.Snapshot) { s.State = provider.StateStopped })
	p.Update("1", func(s *provider.Snapshot) { s.Version = "1.30" })

	events, _ := e.Poll(context.Background())
	if len(events) != 2 || events[0].ServerID != "1" || events[1].ServerID != "2" {
		t.Errorf("events = %+v", events)
	}
}

func TestRemovalPolicy(t *testing.T) {
	t.Run("silent", func(t *testing.T) {
		e, p, _ := newEngine(t, allToggles)
		p.Remove("1")

		events, err := e.Poll(context.Background())
		if err != nil || len(events) != 0 {
			t.Fatalf("events = %+v, err = %v", events, err)
		}
		if len(e.Servers()) != 0 {
			t.Errorf("removed server still cached")
		}
	})

	t.Run("announced", func(t *testing.T) {
		toggles := allToggles
		toggles.OnServerRemoved = true
		e, p, _ := newEngine(t, toggles)
		p.Remove("1")

		events, _ := e.Poll(context.Background())
		if len(events) != 1 || events[0].Category != CategoryServerRemoved || events[0].ServerName != "Alpha" {
			t.Fatalf("events = %+v", events)
		}
	})
}

func TestUnavailableProviderSkipsCycle(t *testing.T) {
	e, p, rec := newEngine(t, allToggles)

	p.Fail(errors.New("connection reset"))
	p.Update("1", func(s *provider.Snapshot) { s.State = provider.StateStopped })

	if _, err := e.Poll(context.Background()); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if len(e.Servers()) != 1 || e.Servers()[0].Snapshot.State != provider.StateRunning {
		t.Errorf("cache changed by failed cycle: %+v", e.Servers())
	}

	p.Fail(nil)
	events, _ := e.Poll(context.Background())
	if len(events) != 1 || events[0].Category != CategoryStatus {
		t.Errorf("events after recovery = %+v", events)
	}
	if len(rec.Events()) != 1 {
		t.Errorf("published = %+v", rec.Events())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := fake.NewEmpty("Fake")
	e := New(p, config.ServerProvider{PollingSeconds: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !e.Primed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !e.Primed() {
		t.Fatal("first cycle did not run immediately")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

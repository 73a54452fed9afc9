package game

import (
	"testing"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/nidibot/internal/provider"
)

func TestSnapshot(t *testing.T) {
	info := &a2s.Info{
		Name:       "Home DayZ",
		Game:       "DayZ",
		Version:    "1.26.159040",
		Players:    3,
		MaxPlayers: 60,
	}

	got := Snapshot("192.0.2.10", 27016, info)
	if got.State != provider.StateRunning {
		t.Errorf("state = %s", got.State)
	}
	if got.Address != "192.0.2.10:27016" {
		t.Errorf("address = %s", got.Address)
	}
	if got.PlayersConnected != 3 || got.PlayersLimit != 60 {
		t.Errorf("players = %d/%d", got.PlayersConnected, got.PlayersLimit)
	}
	if got.Title() != "DayZ (1.26.159040) - 192.0.2.10:27016" {
		t.Errorf("title = %q", got.Title())
	}
}

func TestSnapshotIPv6(t *testing.T) {
	if got := Snapshot("2001:db8::1", 2302, nil).Address; got != "[2001:db8::1]:2302" {
		t.Errorf("address = %s", got)
	}
}

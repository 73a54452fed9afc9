// Package game queries self-hosted game servers using the Source Engine Query (A2S) protocol.
package game

import (
	"net"
	"strconv"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/provider"
)

// QueryServer connects to a game server via UDP and requests A2S_INFO.
// It returns server details (such as name, map, players) or an error if the server is unreachable.
func QueryServer(host string, port int, options config.A2S) (*a2s.Info, error) {
	client, err := a2s.New(host, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = options.BufferSize
	client.Timeout = options.Timeout

	return client.GetInfo()
}

// Snapshot converts an A2S_INFO answer into a running server snapshot.
func Snapshot(host string, port int, info *a2s.Info) provider.Snapshot {
	snapshot := provider.Snapshot{
		State:   provider.StateRunning,
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if info == nil {
		return snapshot
	}

	snapshot.GameName = info.Game
	snapshot.Version = info.Version
	snapshot.PlayersConnected = int(info.Players)
	snapshot.PlayersLimit = int(info.MaxPlayers)

	return snapshot
}

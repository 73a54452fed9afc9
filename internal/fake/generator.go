// Package fake provides an in-memory server provider used for demos, local development and tests.
package fake

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/woozymasta/nidibot/internal/provider"
)

// Generate returns count pseudo-random DayZ server snapshots.
// The same seed always yields the same servers.
func Generate(count int, seed int64) []provider.GameServer {
	maps := []string{"chernarusplus", "livonia", "namalsk", "takistan", "enoch", "sakhal", "deerisle"}
	gameVers := []string{"1.23.150000", "1.24.160000", "1.25.170000", "1.26.159040"}
	games := []string{"DayZ (PS4)", "DayZ (Xbox)", "DayZ"}

	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec

	servers := make([]provider.GameServer, 0, count)
	for i := 0; i < count; i++ {
		ip := fmt.Sprintf("%d.%d.%d.%d", rnd.Intn(220)+1, rnd.Intn(255), rnd.Intn(255), rnd.Intn(255))
		port := 2302 + rnd.Intn(100)
		mapName := maps[rnd.Intn(len(maps))]

		limit := 60
		connected := rnd.Intn(limit)
		names := make([]string, 0, min(connected, 3))
		for j := 0; j < cap(names); j++ {
			names = append(names, "Survivor"+strconv.Itoa(rnd.Intn(1000)))
		}

		state := provider.StateRunning
		if rnd.Float32() < 0.3 {
			state = provider.StateStopped
			connected = 0
			names = nil
		}

		id := strconv.Itoa(10000000 + rnd.Intn(9000000))
		servers = append(servers, provider.GameServer{
			ID:   id,
			Name: mapName + "-" + ip + ":" + strconv.Itoa(port),
			Snapshot: provider.Snapshot{
				State:            state,
				Address:          ip + ":" + strconv.Itoa(port),
				Version:          gameVers[rnd.Intn(len(gameVers))],
				GameName:         games[rnd.Intn(len(games))],
				AvailableUntil:   time.Now().Add(time.Duration(rnd.Intn(60)+1) * 24 * time.Hour).Truncate(time.Hour),
				PlayersConnected: connected,
				PlayersLimit:     limit,
				PlayerNames:      names,
				UpdateAvailable:  rnd.Float32() < 0.1,
			},
		})
	}

	return servers
}

package nitrado

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/nidibot/internal/provider"
)

// envelope is the common shape of every Nitrapi response.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type servicesData struct {
	Services []service `json:"services"`
}

type service struct {
	Details     serviceDetails `json:"details"`
	Type        string         `json:"type"`
	SuspendDate string         `json:"suspend_date"`
	ID          int64          `json:"id"`
}

type serviceDetails struct {
	FolderShort string `json:"folder_short"`
	Game        string `json:"game"`
}

type gameserverData struct {
	Gameserver gameserver `json:"gameserver"`
}

type gameserver struct {
	Query        json.RawMessage `json:"query"`
	Status       string          `json:"status"`
	GameHuman    string          `json:"game_human"`
	IP           string          `json:"ip"`
	GameSpecific gameSpecific    `json:"game_specific"`
	Credentials  credentials     `json:"credentials"`
	QueryPort    flexInt         `json:"query_port"`
	Slots        flexInt         `json:"slots"`
}

type gameSpecific struct {
	UpdateStatus string `json:"update_status"`
}

type credentials struct {
	FTP   Credentials `json:"ftp"`
	MySQL MySQL       `json:"mysql"`
}

// Credentials of the FTP account of one game server.
type Credentials struct {
	Hostname string  `json:"hostname"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Port     flexInt `json:"port"`
}

// MySQL is the database account bundled with a game server.
type MySQL struct {
	Hostname string  `json:"hostname"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Database string  `json:"database"`
	Port     flexInt `json:"port"`
}

type query struct {
	Version       string            `json:"version"`
	ConnectIP     string            `json:"connect_ip"`
	Players       []json.RawMessage `json:"players"`
	PlayerMax     flexInt           `json:"player_max"`
	PlayerCurrent flexInt           `json:"player_current"`
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}

	*f = flexInt(n)
	return nil
}

// parseQuery decodes the query block, which is an empty array when the server is offline.
func parseQuery(raw json.RawMessage) (query, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return query{}, false
	}

	var q query
	if err := json.Unmarshal(raw, &q); err != nil {
		return query{}, false
	}

	return q, true
}

// playerNames accepts player entries given either as objects with a name or as plain strings.
func playerNames(players []json.RawMessage) []string {
	names := make([]string, 0, len(players))
	for _, raw := range players {
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &named); err == nil && named.Name != "" {
			names = append(names, named.Name)
			continue
		}

		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
			names = append(names, plain)
		}
	}

	return names
}

func mapState(status string) provider.State {
	switch status {
	case "started":
		return provider.StateRunning
	case "stopped":
		return provider.StateStopped
	case "restarting":
		return provider.StateRestarting
	default:
		return provider.StateUnknown
	}
}

// parseSuspendDate accepts the date formats seen in the services listing.
func parseSuspendDate(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}

	return time.Time{}
}

// snapshot converts a gameserver document into a provider snapshot.
func (g gameserver) snapshot(svc service) provider.Snapshot {
	s := provider.Snapshot{
		State:           mapState(g.Status),
		RawStatus:       g.Status,
		GameName:        g.GameHuman,
		UpdateAvailable: g.GameSpecific.UpdateStatus != "" && g.GameSpecific.UpdateStatus != "up_to_date",
		AvailableUntil:  parseSuspendDate(svc.SuspendDate),
	}

	if q, ok := parseQuery(g.Query); ok {
		s.Version = q.Version
		s.Address = q.ConnectIP
		s.PlayersLimit = int(q.PlayerMax)
		s.PlayersConnected = int(q.PlayerCurrent)
		s.PlayerNames = playerNames(q.Players)
	}

	if s.Address == "" {
		s.Address = g.IP + ":" + strconv.Itoa(int(g.QueryPort))
	}
	if s.PlayersLimit == 0 {
		s.PlayersLimit = int(g.Slots)
	}

	return s
}

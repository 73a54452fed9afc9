package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/models"
	"github.com/woozymasta/nidibot/internal/vars"
)

const maxCommandsLimit = 500

// handleHealth reports liveness and build information.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  vars.Info(),
	})
}

// handleServers returns the cached snapshot of every game server, in provider order.
// This endpoint is protected by AdminAuthMiddleware.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers := s.servers.Servers(r.Context())

	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		view := serverView{
			Provider: srv.ProviderName(),
			ID:       srv.ID,
			Name:     srv.Name,
			Title:    srv.Title(),
			Status:   srv.Snapshot,
		}
		if s.geoip != nil {
			view.Country = s.geoip.CountryCode(srv.Snapshot.Address)
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

// handleBackups returns catalog records, newest first.
// Query params: ?provider=nitrado&server_id=42 narrows to one server.
func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "Catalog unavailable", http.StatusServiceUnavailable)
		return
	}

	providerName := r.URL.Query().Get("provider")
	serverID := r.URL.Query().Get("server_id")
	if (providerName == "") != (serverID == "") {
		http.Error(w, "Both provider and server_id are required to filter", http.StatusBadRequest)
		return
	}

	var (
		records []models.BackupRecord
		err     error
	)
	if providerName != "" {
		records, err = s.catalog.ListBackups(r.Context(), providerName, serverID)
	} else {
		records, err = s.catalog.AllBackups(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch backups")
		http.Error(w, "Database Error", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []models.BackupRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// handleCommands returns the newest journaled commands.
// Query params: ?limit=50
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "Catalog unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxCommandsLimit)
	}

	commands, err := s.catalog.RecentCommands(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch commands")
		http.Error(w, "Database Error", http.StatusInternalServerError)
		return
	}

	if commands == nil {
		commands = []models.CommandRecord{}
	}

	writeJSON(w, http.StatusOK, commands)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

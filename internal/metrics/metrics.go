// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/woozymasta/nidibot/internal/provider"
)

var (
	// Polling
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nidibot_poll_duration_seconds",
			Help:    "Duration of one poll cycle of a server provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	PollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidibot_poll_failures_total",
			Help: "Poll cycles skipped because the provider was unavailable",
		},
		[]string{"provider"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidibot_notifications_total",
			Help: "Notification events emitted by category",
		},
		[]string{"provider", "category"},
	)

	Servers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nidibot_servers",
			Help: "Known game servers by state",
		},
		[]string{"provider", "state"},
	)

	// Bots
	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidibot_bot_queue_dropped_total",
			Help: "Notifications dropped because the bot queue was full or sending failed",
		},
		[]string{"bot"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidibot_bot_messages_sent_total",
			Help: "Notification messages delivered to chat",
		},
		[]string{"bot"},
	)

	// Commands
	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nidibot_commands_total",
			Help: "Dispatched chat commands by outcome",
		},
		[]string{"command", "outcome"},
	)
)

// knownStates are reset on every update so vanished states drop to zero.
var knownStates = []provider.State{
	provider.StateRunning,
	provider.StateStopped,
	provider.StateRestarting,
	provider.StateUnknown,
}

// SetServers publishes the per-state server count of one provider.
func SetServers(providerName string, servers []provider.GameServer) {
	counts := make(map[provider.State]int, len(knownStates))
	for _, s := range servers {
		state := s.Snapshot.State
		if state == "" {
			state = provider.StateUnknown
		}
		counts[state]++
	}

	for _, state := range knownStates {
		Servers.WithLabelValues(providerName, string(state)).Set(float64(counts[state]))
	}
}

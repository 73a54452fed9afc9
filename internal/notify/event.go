package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/woozymasta/nidibot/internal/provider"
)

// Category of a detected change.
type Category string

// Change categories in field-check order.
const (
	CategoryNewServer       Category = "new_server"
	CategoryStatus          Category = "status"
	CategoryAddress         Category = "address"
	CategoryVersion         Category = "version"
	CategoryUpdateAvailable Category = "update_available"
	CategoryServerRemoved   Category = "server_removed"
)

// Event is one detected change of one game server.
type Event struct {
	At         time.Time `json:"at"`
	Provider   string    `json:"provider"`
	ServerID   string    `json:"server_id"`
	ServerName string    `json:"server_name"`
	Category   Category  `json:"category"`
	Old        string    `json:"old,omitempty"`
	New        string    `json:"new,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
}

// Text renders the event as a two line chat message.
func (e Event) Text() string {
	return e.Title + "\n" + e.Message
}

// Publisher receives the events of every poll cycle in emission order.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(e Event) {
	f(e)
}

func newEvent(server provider.GameServer, category Category, old, value string) Event {
	e := Event{
		Provider:   server.ProviderName(),
		ServerID:   server.ID,
		ServerName: server.Name,
		Category:   category,
		Old:        old,
		New:        value,
		Title:      server.Title(),
	}

	switch category {
	case CategoryNewServer:
		e.Message = "New game server appeared, please configure it."
	case CategoryStatus:
		e.Message = fmt.Sprintf("Status changed from '%s' to '%s'.", old, value)
	case CategoryAddress:
		e.Message = fmt.Sprintf("Address from '%s' to '%s'.", old, value)
	case CategoryVersion:
		e.Message = fmt.Sprintf("Version from '%s' to '%s'.", old, value)
	case CategoryUpdateAvailable:
		if available, _ := strconv.ParseBool(value); available {
			e.Message = "Update is available, please restart server."
		} else {
			e.Message = "Update was installed."
		}
	case CategoryServerRemoved:
		e.Message = "Game server disappeared."
	}

	return e
}

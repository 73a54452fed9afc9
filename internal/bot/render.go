package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Emoji used in replies.
const (
	EmojiNoAccess  = "\U0001F925"
	EmojiOK        = "✅"
	EmojiAttention = "⚠"
	EmojiBad       = "⛔"
	EmojiUnknown   = "⁉️"
)

// Level tells adapters how to color a reply.
type Level int

// Reply levels.
const (
	LevelInfo Level = iota
	LevelOK
	LevelAttention
	LevelBad
)

// Field is one labelled value of a status reply.
type Field struct {
	Name  string
	Value string
}

// Reply is a platform-neutral rendering of a command result or notification.
type Reply struct {
	Title   string
	Text    string
	Server  string
	Fields  []Field
	Backups []provider.Backup
	Level   Level
}

// String renders the reply as plain text.
func (r Reply) String() string {
	var sb strings.Builder
	if r.Title != "" {
		sb.WriteString(r.Title)
		sb.WriteString("\n")
	}
	for _, f := range r.Fields {
		sb.WriteString(f.Name)
		sb.WriteString(" ")
		sb.WriteString(f.Value)
		sb.WriteString("\n")
	}
	if r.Text != "" {
		sb.WriteString(r.Text)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// StateEmoji returns the emoji shown next to a server state.
func StateEmoji(state provider.State) string {
	switch state {
	case provider.StateRunning:
		return EmojiOK
	case provider.StateStopped:
		return EmojiBad
	case provider.StateRestarting:
		return EmojiAttention
	default:
		return EmojiUnknown
	}
}

func stateLevel(state provider.State) Level {
	switch state {
	case provider.StateRunning:
		return LevelOK
	case provider.StateStopped:
		return LevelBad
	default:
		return LevelAttention
	}
}

// RenderNotification renders an engine event.
func RenderNotification(e notify.Event) Reply {
	return Reply{
		Title:  e.Title,
		Text:   EmojiAttention + " " + e.Message,
		Server: e.ServerName,
		Level:  LevelAttention,
	}
}

// Render renders a dispatch result. now is used for the days left until suspension.
func Render(res dispatch.Result, now time.Time) Reply {
	r := Reply{Server: res.Server.Name}
	if res.Server.ID != "" {
		r.Title = res.Server.Title()
	}

	if res.Failure != nil {
		r.Level = LevelBad
		if res.Failure.Kind == dispatch.KindUnauthorized {
			r.Text = res.Failure.Message
		} else {
			r.Text = EmojiBad + " " + res.Failure.Message
		}
		return r
	}

	switch res.Command {
	case dispatch.CommandStatus:
		return renderStatus(r, res, now)

	case dispatch.CommandStart:
		r.Level, r.Text = LevelAttention, EmojiAttention+" Starting server!"

	case dispatch.CommandStop:
		r.Level, r.Text = LevelAttention, EmojiAttention+" Stopping server!"

	case dispatch.CommandRestart:
		r.Level, r.Text = LevelAttention, EmojiAttention+" Restarting server!"

	case dispatch.CommandBackupCreate:
		r.Level = LevelOK
		r.Text = fmt.Sprintf("%s Backup was created successfully! (%s, %s)",
			EmojiOK, res.Backup.DisplayName, humanize.IBytes(uint64(max(res.Backup.Size, 0))))

	case dispatch.CommandBackupList:
		if len(res.Backups) == 0 {
			r.Level, r.Text = LevelBad, EmojiBad+" No backups available!"
			break
		}
		r.Backups = res.Backups
		lines := make([]string, 0, len(res.Backups)+1)
		lines = append(lines, "Available backups:")
		for _, b := range res.Backups {
			lines = append(lines, "- "+b.DisplayName+" ("+humanize.IBytes(uint64(max(b.Size, 0)))+")")
		}
		r.Text = strings.Join(lines, "\n")

	case dispatch.CommandBackupRestore:
		r.Level = LevelOK
		r.Text = fmt.Sprintf("%s Backup from %s was restored successfully!", EmojiOK, res.Backup.DisplayName)

	default:
		r.Text = res.Message
	}

	return r
}

func renderStatus(r Reply, res dispatch.Result, now time.Time) Reply {
	s := res.Status
	r.Title = s.Title()
	r.Level = stateLevel(s.State)

	players := fmt.Sprintf("%d / %d", s.PlayersConnected, s.PlayersLimit)
	if len(s.PlayerNames) > 0 {
		players += " (" + strings.Join(s.PlayerNames, ", ") + ")"
	}

	address := s.Address
	if res.Country != "" {
		address += " [" + res.Country + "]"
	}

	r.Fields = []Field{
		{Name: "Address:", Value: address},
		{Name: "Status:", Value: StateEmoji(s.State) + " " + s.StateText()},
		{Name: "Players:", Value: players},
	}

	if !s.AvailableUntil.IsZero() {
		r.Fields = append(r.Fields, Field{Name: "Available until:", Value: fmt.Sprintf("%s (%d days left)",
			s.AvailableUntil.Format(time.DateTime), daysBetween(now, s.AvailableUntil))})
	}

	update := EmojiOK + " no"
	if s.UpdateAvailable {
		update = EmojiAttention + " yes"
	}
	r.Fields = append(r.Fields, Field{Name: "Update available:", Value: update})

	return r
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

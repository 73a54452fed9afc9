package dispatch

import (
	"errors"
	"strings"

	"github.com/woozymasta/nidibot/internal/provider"
)

// Command is a chat command name.
type Command string

// Supported commands.
const (
	CommandStatus        Command = "status"
	CommandStart         Command = "start"
	CommandStop          Command = "stop"
	CommandRestart       Command = "restart"
	CommandBackupCreate  Command = "backup_create"
	CommandBackupList    Command = "backup_list"
	CommandBackupRestore Command = "backup_restore"
)

// Commands lists every command in help order.
var Commands = []Command{
	CommandStatus,
	CommandStart,
	CommandStop,
	CommandRestart,
	CommandBackupCreate,
	CommandBackupList,
	CommandBackupRestore,
}

// ParseCommand accepts a command name with an optional leading slash and bot mention.
func ParseCommand(value string) (Command, bool) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "/")
	value, _, _ = strings.Cut(value, "@")
	value = strings.ToLower(value)

	for _, c := range Commands {
		if string(c) == value {
			return c, true
		}
	}

	return Command(value), false
}

// Kind classifies a failed dispatch.
type Kind string

// Failure kinds.
const (
	KindProviderUnavailable Kind = "provider_unavailable"
	KindServerNotFound      Kind = "server_not_found"
	KindBackupNotFound      Kind = "backup_not_found"
	KindNoServersConfigured Kind = "no_servers_configured"
	KindMissingArgument     Kind = "missing_argument"
	KindUnsupported         Kind = "unsupported"
	KindUnknownCommand      Kind = "unknown_command"
	KindOperationFailed     Kind = "operation_failed"

	// KindUnauthorized is set by bots and never by the dispatcher.
	KindUnauthorized Kind = "unauthorized"
)

// Failure is a structured dispatch error rendered by bots as is.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// classify maps provider errors onto failure kinds.
func classify(err error) Kind {
	switch {
	case errors.Is(err, provider.ErrServerNotFound):
		return KindServerNotFound
	case errors.Is(err, provider.ErrBackupNotFound):
		return KindBackupNotFound
	case errors.Is(err, provider.ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, provider.ErrProviderUnavailable):
		return KindProviderUnavailable
	default:
		return KindOperationFailed
	}
}

// Invocation is one parsed chat command.
type Invocation struct {
	// Notice, when set, receives progress lines of long operations.
	Notice func(string) `json:"-"`

	Bot        string  `json:"bot"`
	Command    Command `json:"command"`
	ServerName string  `json:"server,omitempty"`
	BackupName string  `json:"backup,omitempty"`
	UserID     string  `json:"user_id"`
	UserName   string  `json:"user_name,omitempty"`
	ChannelID  string  `json:"channel_id"`
}

func (inv Invocation) notice(text string) {
	if inv.Notice != nil {
		inv.Notice(text)
	}
}

// Result is the outcome of one dispatch. Failure is nil on success.
type Result struct {
	Failure *Failure            `json:"failure,omitempty"`
	Server  provider.GameServer `json:"server"`
	Status  provider.Snapshot   `json:"status"`
	Backup  provider.Backup     `json:"backup"`
	Command Command             `json:"command"`
	Country string              `json:"country,omitempty"`
	Message string              `json:"message,omitempty"`
	Backups []provider.Backup   `json:"backups,omitempty"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Outcome returns "ok" or the failure kind.
func (r Result) Outcome() string {
	if r.Failure == nil {
		return "ok"
	}

	return string(r.Failure.Kind)
}

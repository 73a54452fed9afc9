package bot

import (
	"strings"
	"time"
	"unicode"

	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/provider"
)

// ParseArgs splits text on white space. Single or double quotes group words,
// so server names with spaces can be passed as one argument.
func ParseArgs(text string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
		started bool
	)

	for _, r := range text {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			started = true
		case unicode.IsSpace(r):
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if started {
		args = append(args, current.String())
	}

	return args
}

// ParseCommandLine turns "/backup_restore Alpha 20240301_120000" into an invocation.
// For backup_restore a single argument that looks like a backup name targets the default server.
func ParseCommandLine(text string) (dispatch.Invocation, bool) {
	args := ParseArgs(text)
	if len(args) == 0 {
		return dispatch.Invocation{}, false
	}

	command, ok := dispatch.ParseCommand(args[0])
	if !ok {
		return dispatch.Invocation{Command: command}, false
	}

	inv := dispatch.Invocation{Command: command}
	args = args[1:]

	switch {
	case command == dispatch.CommandBackupRestore && len(args) == 1 && looksLikeBackup(args[0]):
		inv.BackupName = args[0]
	case command == dispatch.CommandBackupRestore && len(args) > 1:
		inv.ServerName = args[0]
		inv.BackupName = strings.Join(args[1:], " ")
	case len(args) > 0:
		inv.ServerName = strings.Join(args, " ")
	}

	return inv, true
}

func looksLikeBackup(arg string) bool {
	if _, ok := provider.ParseBackupName(arg); ok {
		return true
	}
	_, err := time.Parse(time.DateTime, arg)
	return err == nil
}

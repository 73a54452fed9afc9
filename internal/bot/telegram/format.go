package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/dispatch"
)

var descriptions = map[dispatch.Command]string{
	dispatch.CommandStatus:        "Show server status",
	dispatch.CommandStart:         "Start server",
	dispatch.CommandStop:          "Stop server",
	dispatch.CommandRestart:       "Restart server",
	dispatch.CommandBackupCreate:  "Create a backup of the server files",
	dispatch.CommandBackupList:    "List server backups",
	dispatch.CommandBackupRestore: "Restore server files from a backup",
}

func commandMenu() []tgbotapi.BotCommand {
	menu := make([]tgbotapi.BotCommand, 0, len(dispatch.Commands))
	for _, c := range dispatch.Commands {
		menu = append(menu, tgbotapi.BotCommand{Command: string(c), Description: descriptions[c]})
	}

	return menu
}

// markdown renders a reply as MarkdownV2 with an underlined bold title
// and bold field names.
func markdown(r bot.Reply) string {
	var sb strings.Builder

	if r.Title != "" {
		sb.WriteString("__*")
		sb.WriteString(escape(r.Title))
		sb.WriteString("*__\n")
	}

	for _, f := range r.Fields {
		sb.WriteString("*")
		sb.WriteString(escape(f.Name))
		sb.WriteString("* ")
		sb.WriteString(escape(f.Value))
		sb.WriteString("\n")
	}

	if r.Text != "" {
		sb.WriteString(escape(r.Text))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

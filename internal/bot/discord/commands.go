package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/dispatch"
)

// Discord limits.
const (
	maxChoices       = 25
	maxButtonsPerRow = 5
	maxButtonRows    = 5
	maxLabelLength   = 80
)

// Embed colors.
const (
	colorInfo      = 0x3498db
	colorOK        = 0x2ecc71
	colorAttention = 0xe67e22
	colorBad       = 0xe74c3c
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

func applicationCommands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(dispatch.Commands))

	for _, c := range dispatch.Commands {
		options := []*discordgo.ApplicationCommandOption{{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "server",
			Description:  "Server name",
			Autocomplete: true,
		}}

		if c == dispatch.CommandBackupRestore {
			options = append(options, &discordgo.ApplicationCommandOption{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         "backup",
				Description:  "Backup name, pick from a list when empty",
				Autocomplete: true,
			})
		}

		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:        string(c),
			Description: descriptions[c],
			Options:     options,
		})
	}

	return cmds
}

func optionValues(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	values := make(map[string]string, len(options))
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			values[opt.Name] = strings.TrimSpace(opt.StringValue())
		}
	}

	return values
}

// choices keeps names containing typed, case-insensitively.
func choices(names []string, typed string) []*discordgo.ApplicationCommandOptionChoice {
	typed = strings.ToLower(strings.TrimSpace(typed))
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, min(len(names), maxChoices))

	for _, name := range names {
		if len(out) == maxChoices {
			break
		}
		if typed != "" && !strings.Contains(strings.ToLower(name), typed) {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}

	return out
}

// buttonRows lays out one button per label, five per row, at most five rows.
func buttonRows(labels, ids []string) []discordgo.MessageComponent {
	var (
		rows []discordgo.MessageComponent
		row  discordgo.ActionsRow
	)

	for i := range labels {
		if len(rows) == maxButtonRows {
			break
		}

		label := labels[i]
		if len(label) > maxLabelLength {
			label = label[:maxLabelLength]
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    label,
			Style:    discordgo.PrimaryButton,
			CustomID: ids[i],
		})

		if len(row.Components) == maxButtonsPerRow {
			rows = append(rows, row)
			row = discordgo.ActionsRow{}
		}
	}

	if len(row.Components) > 0 && len(rows) < maxButtonRows {
		rows = append(rows, row)
	}

	return rows
}

func embedOf(r bot.Reply) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       r.Title,
		Description: r.Text,
		Color:       colorOf(r.Level),
	}

	for _, f := range r.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}

	return embed
}

func colorOf(level bot.Level) int {
	switch level {
	case bot.LevelOK:
		return colorOK
	case bot.LevelAttention:
		return colorAttention
	case bot.LevelBad:
		return colorBad
	default:
		return colorInfo
	}
}

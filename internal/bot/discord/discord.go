// Package discord connects the bot to Discord with slash commands,
// autocompleted options and restore buttons.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
)

const (
	restorePrefix = "restore|"
	selectionTTL  = 10 * time.Minute
)

// restoreTarget is the backup behind a restore button.
type restoreTarget struct {
	Server string
	Backup string
}

// Bot is a Discord adapter.
type Bot struct {
	*bot.Base

	ctx      context.Context
	session  *discordgo.Session
	buttons  *cache.Cache
	channels []string
	running  sync.WaitGroup
	stopping bool
	mu       sync.RWMutex
}

// New creates a Discord bot. The gateway connection is opened by Start.
func New(name string, cfg config.Bot, d bot.Dispatcher) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		Base:     bot.NewBase(name, cfg, d),
		ctx:      context.Background(),
		session:  session,
		buttons:  cache.New(selectionTTL, 2*selectionTTL),
		channels: cfg.AllowedChannels,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)

	return b, nil
}

// Start opens the gateway connection and the notification flush loop.
// Interactions run on a context that is not canceled with ctx.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = context.WithoutCancel(ctx)
	b.stopping = false
	b.mu.Unlock()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}

	b.StartFlush(ctx, b.send)
	log.Info().Str("bot", b.Name()).Msg("Discord bot started")
	return nil
}

// Stop refuses new interactions, waits for running ones, drains the
// notification queue and closes the session.
func (b *Bot) Stop() {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()
	b.running.Wait()

	b.StopFlush()

	if err := b.session.Close(); err != nil {
		log.Error().Err(err).Str("bot", b.Name()).Msg("Failed to close discord session")
	}
	log.Info().Str("bot", b.Name()).Msg("Discord bot stopped")
}

func (b *Bot) runContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().
		Str("bot", b.Name()).
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Discord session ready")

	if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", applicationCommands()); err != nil {
		log.Error().Err(err).Str("bot", b.Name()).Msg("Failed to register slash commands")
	}
}

// track registers a running interaction; false once Stop was called.
func (b *Bot) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return false
	}
	b.running.Add(1)
	return true
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.track() {
		return
	}
	defer b.running.Done()

	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.autocomplete(s, i)
	case discordgo.InteractionApplicationCommand:
		b.command(s, i)
	case discordgo.InteractionMessageComponent:
		b.component(s, i)
	}
}

func (b *Bot) command(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	options := optionValues(data.Options)
	inv := dispatch.Invocation{
		Command:    dispatch.Command(data.Name),
		ServerName: options["server"],
		BackupName: options["backup"],
	}

	if !b.acknowledge(s, i) {
		return
	}

	ctx := b.runContext()
	caller := callerOf(s, i)

	// without a backup name the user picks one from buttons
	if inv.Command == dispatch.CommandBackupRestore && inv.BackupName == "" {
		res := b.Handle(ctx, caller, dispatch.Invocation{Command: dispatch.CommandBackupList, ServerName: inv.ServerName})
		reply := bot.Render(res, time.Now())
		if res.OK() && len(res.Backups) > 0 {
			reply.Text = "Select a backup to restore:"
			b.followup(s, i, reply, b.restoreButtons(res))
			return
		}
		b.followup(s, i, reply, nil)
		return
	}

	inv.Notice = func(text string) {
		b.followup(s, i, bot.Reply{Text: bot.EmojiAttention + " " + text, Level: bot.LevelAttention}, nil)
	}

	res := b.Handle(ctx, caller, inv)
	b.followup(s, i, bot.Render(res, time.Now()), nil)
}

func (b *Bot) component(s *discordgo.Session, i *discordgo.InteractionCreate) {
	id := i.MessageComponentData().CustomID
	token, ok := strings.CutPrefix(id, restorePrefix)
	if !ok {
		return
	}

	value, found := b.buttons.Get(token)
	if !b.acknowledge(s, i) {
		return
	}
	if !found {
		b.followup(s, i, bot.Reply{Text: bot.EmojiBad + " Selection expired, please run the command again.", Level: bot.LevelBad}, nil)
		return
	}
	b.buttons.Delete(token)

	target := value.(restoreTarget)
	inv := dispatch.Invocation{
		Command:    dispatch.CommandBackupRestore,
		ServerName: target.Server,
		BackupName: target.Backup,
		Notice: func(text string) {
			b.followup(s, i, bot.Reply{Text: bot.EmojiAttention + " " + text, Level: bot.LevelAttention}, nil)
		},
	}

	res := b.Handle(b.runContext(), callerOf(s, i), inv)
	b.followup(s, i, bot.Render(res, time.Now()), nil)
}

func (b *Bot) autocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	ctx := b.runContext()

	var focused *discordgo.ApplicationCommandInteractionDataOption
	for _, opt := range data.Options {
		if opt.Focused {
			focused = opt
		}
	}

	var names []string
	if focused != nil && b.Authorize(callerOf(s, i)) == nil {
		switch focused.Name {
		case "server":
			for _, srv := range b.Servers(ctx) {
				names = append(names, srv.Name)
			}
		case "backup":
			names = b.backupNames(ctx, optionValues(data.Options)["server"])
		}
	}

	typed := ""
	if focused != nil {
		typed = focused.StringValue()
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices(names, typed)},
	})
	if err != nil {
		log.Debug().Err(err).Str("bot", b.Name()).Msg("Failed to answer autocomplete")
	}
}

// backupNames lists the backups of the named server, or of the first server.
func (b *Bot) backupNames(ctx context.Context, server string) []string {
	for _, srv := range b.Servers(ctx) {
		if server != "" && srv.Name != server {
			continue
		}

		backups, err := srv.ListBackups(ctx)
		if err != nil {
			return nil
		}

		names := make([]string, 0, len(backups))
		for _, bk := range backups {
			names = append(names, bk.DisplayName)
		}
		return names
	}

	return nil
}

func (b *Bot) restoreButtons(res dispatch.Result) []discordgo.MessageComponent {
	labels := make([]string, 0, len(res.Backups))
	ids := make([]string, 0, len(res.Backups))
	for _, bk := range res.Backups {
		token := uuid.NewString()
		b.buttons.SetDefault(token, restoreTarget{Server: res.Server.Name, Backup: bk.Name})
		labels = append(labels, bk.DisplayName)
		ids = append(ids, restorePrefix+token)
	}

	return buttonRows(labels, ids)
}

// acknowledge defers the interaction so follow-ups may arrive after three seconds.
func (b *Bot) acknowledge(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Error().Err(err).Str("bot", b.Name()).Msg("Failed to acknowledge interaction")
		return false
	}

	return true
}

func (b *Bot) followup(s *discordgo.Session, i *discordgo.InteractionCreate, reply bot.Reply, components []discordgo.MessageComponent) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds:     []*discordgo.MessageEmbed{embedOf(reply)},
		Components: components,
	})
	if err != nil {
		log.Error().Err(err).Str("bot", b.Name()).Msg("Failed to send reply")
	}
}

// send posts a notification to the allowed channels, or to every text channel
// of every guild when no channel is configured.
func (b *Bot) send(_ context.Context, e notify.Event) error {
	targets := b.targets()
	if len(targets) == 0 {
		return nil
	}

	embed := embedOf(bot.RenderNotification(e))
	var errs []error
	for _, channelID := range targets {
		if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
			log.Warn().Err(err).Str("bot", b.Name()).Str("channel", channelID).Msg("Failed to post notification")
			errs = append(errs, err)
		}
	}

	// retrying would repeat the message in channels that got it
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}

	return nil
}

func (b *Bot) targets() []string {
	if len(b.channels) > 0 {
		return b.channels
	}

	return textChannels(b.session.State)
}

// textChannels lists the text channels of every guild in the state cache.
func textChannels(state *discordgo.State) []string {
	if state == nil {
		return nil
	}

	state.RLock()
	defer state.RUnlock()

	var ids []string
	for _, g := range state.Guilds {
		for _, ch := range g.Channels {
			if ch.Type == discordgo.ChannelTypeGuildText {
				ids = append(ids, ch.ID)
			}
		}
	}

	return ids
}

func callerOf(s *discordgo.Session, i *discordgo.InteractionCreate) bot.Caller {
	c := bot.Caller{ChannelID: i.ChannelID}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		c.UserID = user.ID
		c.UserName = user.Username
	}

	if s != nil && s.State != nil {
		if ch, err := s.State.Channel(i.ChannelID); err == nil {
			c.ChannelName = ch.Name
		}
	}

	return c
}

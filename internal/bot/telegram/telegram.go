// Package telegram connects the bot to Telegram through long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
)

const (
	restorePrefix  = "restore:"
	selectionTTL   = 10 * time.Minute
	pollingTimeout = 60
)

// client is the part of the Bot API used to talk to chats.
type client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type restoreTarget struct {
	Server string
	Backup string
}

// Bot is a Telegram adapter.
type Bot struct {
	*bot.Base

	api      *tgbotapi.BotAPI
	client   client
	pending  *cache.Cache
	token    string
	channels []string
	wg       sync.WaitGroup
}

// New creates a Telegram bot. The token is verified by Start.
func New(name string, cfg config.Bot, d bot.Dispatcher) *Bot {
	return &Bot{
		Base:     bot.NewBase(name, cfg, d),
		pending:  cache.New(selectionTTL, 2*selectionTTL),
		token:    cfg.Token,
		channels: cfg.AllowedChannels,
	}
}

// Start verifies the token, registers the command menu and starts long polling.
func (b *Bot) Start(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	b.api = api
	b.client = api

	if _, err := api.Request(tgbotapi.NewSetMyCommands(commandMenu()...)); err != nil {
		log.Warn().Err(err).Str("bot", b.Name()).Msg("Failed to register command menu")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollingTimeout
	b.receive(ctx, api.GetUpdatesChan(u))

	b.StartFlush(ctx, b.send)
	log.Info().Str("bot", b.Name()).Str("user", api.Self.UserName).Msg("Telegram bot started")
	return nil
}

// receive handles updates until ctx is canceled. Commands run on a context
// that outlives ctx, so a restore is never cut off halfway by shutdown.
func (b *Bot) receive(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	commandCtx := context.WithoutCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					b.handle(commandCtx, update)
				}()
			}
		}
	}()
}

// Stop stops polling, waits for running commands and drains the notification queue.
func (b *Bot) Stop() {
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
	b.wg.Wait()
	b.StopFlush()
	log.Info().Str("bot", b.Name()).Msg("Telegram bot stopped")
}

func (b *Bot) handle(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.callback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		b.message(ctx, u.Message)
	}
}

func (b *Bot) message(ctx context.Context, m *tgbotapi.Message) {
	inv, ok := bot.ParseCommandLine(m.Text)
	if !ok && !m.Chat.IsPrivate() {
		// commands of other bots in a group
		return
	}

	caller := callerOf(m.From, m.Chat)
	chatID := m.Chat.ID

	if inv.Command == dispatch.CommandBackupRestore && inv.BackupName == "" {
		b.offerBackups(ctx, caller, m, inv.ServerName)
		return
	}

	inv.Notice = func(text string) {
		b.reply(chatID, m.MessageID, bot.Reply{Text: bot.EmojiAttention + " " + text}, nil)
	}

	res := b.Handle(ctx, caller, inv)
	b.reply(chatID, m.MessageID, bot.Render(res, time.Now()), nil)
}

// offerBackups answers a restore without a backup name with a keyboard of backups.
func (b *Bot) offerBackups(ctx context.Context, caller bot.Caller, m *tgbotapi.Message, server string) {
	res := b.Handle(ctx, caller, dispatch.Invocation{Command: dispatch.CommandBackupList, ServerName: server})
	reply := bot.Render(res, time.Now())
	if !res.OK() || len(res.Backups) == 0 {
		b.reply(m.Chat.ID, m.MessageID, reply, nil)
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(res.Backups))
	for _, bk := range res.Backups {
		token := uuid.NewString()
		b.pending.SetDefault(token, restoreTarget{Server: res.Server.Name, Backup: bk.Name})
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(bk.DisplayName, restorePrefix+token),
		))
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	reply.Text = "Select a backup to restore:"
	b.reply(m.Chat.ID, m.MessageID, reply, &keyboard)
}

func (b *Bot) callback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.client.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Debug().Err(err).Str("bot", b.Name()).Msg("Failed to answer callback")
	}

	token, ok := strings.CutPrefix(q.Data, restorePrefix)
	if !ok || q.Message == nil {
		return
	}

	chatID := q.Message.Chat.ID
	value, found := b.pending.Get(token)
	if !found {
		b.reply(chatID, 0, bot.Reply{Text: bot.EmojiBad + " Selection expired, please run the command again.", Level: bot.LevelBad}, nil)
		return
	}
	b.pending.Delete(token)

	target := value.(restoreTarget)
	inv := dispatch.Invocation{
		Command:    dispatch.CommandBackupRestore,
		ServerName: target.Server,
		BackupName: target.Backup,
		Notice: func(text string) {
			b.reply(chatID, 0, bot.Reply{Text: bot.EmojiAttention + " " + text}, nil)
		},
	}

	res := b.Handle(ctx, callerOf(q.From, q.Message.Chat), inv)
	b.reply(chatID, 0, bot.Render(res, time.Now()), nil)
}

func (b *Bot) reply(chatID int64, replyTo int, r bot.Reply, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, markdown(r))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyTo
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}

	if _, err := b.client.Send(msg); err != nil {
		log.Error().Err(err).Str("bot", b.Name()).Int64("chat", chatID).Msg("Failed to send reply")
	}
}

// send posts a notification to every allowed channel.
func (b *Bot) send(_ context.Context, e notify.Event) error {
	if len(b.channels) == 0 {
		return nil
	}

	text := markdown(bot.RenderNotification(e))
	var errs []error
	for _, channel := range b.channels {
		msg, err := notification(channel, text)
		if err != nil {
			log.Warn().Err(err).Str("bot", b.Name()).Str("channel", channel).Msg("Skipping channel")
			continue
		}

		if _, err := b.client.Send(msg); err != nil {
			log.Warn().Err(err).Str("bot", b.Name()).Str("channel", channel).Msg("Failed to post notification")
			errs = append(errs, err)
		}
	}

	// retrying would repeat the message in chats that got it
	if len(errs) == len(b.channels) {
		return errors.Join(errs...)
	}

	return nil
}

// notification addresses a chat by numeric id or by @channel name.
func notification(channel, text string) (tgbotapi.MessageConfig, error) {
	var msg tgbotapi.MessageConfig

	switch {
	case strings.HasPrefix(channel, "@"):
		msg = tgbotapi.NewMessageToChannel(channel, text)
	default:
		id, err := strconv.ParseInt(channel, 10, 64)
		if err != nil {
			return msg, fmt.Errorf("invalid chat id %q: %w", channel, err)
		}
		msg = tgbotapi.NewMessage(id, text)
	}

	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return msg, nil
}

func callerOf(user *tgbotapi.User, chat *tgbotapi.Chat) bot.Caller {
	var c bot.Caller

	if user != nil {
		c.UserID = strconv.FormatInt(user.ID, 10)
		c.UserName = user.UserName
	}

	if chat != nil {
		c.ChannelID = strconv.FormatInt(chat.ID, 10)
		if chat.UserName != "" {
			c.ChannelName = "@" + chat.UserName
		} else {
			c.ChannelName = chat.Title
		}
	}

	return c
}

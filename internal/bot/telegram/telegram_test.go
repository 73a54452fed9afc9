package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/provider"
)

type fakeClient struct {
	sent     []tgbotapi.MessageConfig
	requests int
	mu       sync.Mutex
}

func (c *fakeClient) Send(m tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg, ok := m.(tgbotapi.MessageConfig); ok {
		c.sent = append(c.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (c *fakeClient) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeDispatcher struct {
	calls []dispatch.Invocation
}

func (d *fakeDispatcher) Dispatch(_ context.Context, inv dispatch.Invocation) dispatch.Result {
	d.calls = append(d.calls, inv)
	res := dispatch.Result{Command: inv.Command, Server: provider.GameServer{ID: "1", Name: "Alpha"}}
	if inv.Command == dispatch.CommandBackupList {
		bk, _ := provider.NewBackup("20240301_120000", "", 1024)
		res.Backups = []provider.Backup{bk}
	}
	return res
}

func (d *fakeDispatcher) Servers(context.Context) []provider.GameServer {
	return nil
}

func newTestBot(cfg config.Bot) (*Bot, *fakeClient, *fakeDispatcher) {
	d := &fakeDispatcher{}
	c := &fakeClient{}
	b := New("telegram", cfg, d)
	b.client = c
	return b, c, d
}

func command(text string, chat *tgbotapi.Chat) *tgbotapi.Message {
	length := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		length = i
	}

	return &tgbotapi.Message{
		MessageID: 5,
		Text:      text,
		From:      &tgbotapi.User{ID: 1, UserName: "alice"},
		Chat:      chat,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}
}

func TestCommandMessage(t *testing.T) {
	b, c, d := newTestBot(config.Bot{PrivilegedUsers: []string{"alice"}})
	chat := &tgbotapi.Chat{ID: -100, Type: "group", Title: "admins"}

	b.handle(context.Background(), tgbotapi.Update{Message: command("/stop Alpha", chat)})

	if len(d.calls) != 1 {
		t.Fatalf("dispatched %d times", len(d.calls))
	}
	inv := d.calls[0]
	if inv.Command != dispatch.CommandStop || inv.ServerName != "Alpha" || inv.UserID != "1" || inv.ChannelID != "-100" {
		t.Errorf("invocation = %+v", inv)
	}

	if len(c.sent) != 1 {
		t.Fatalf("sent %d messages", len(c.sent))
	}
	msg := c.sent[0]
	if msg.ChatID != -100 || msg.ReplyToMessageID != 5 || msg.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Text, "Stopping server") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestForeignCommandInGroupIgnored(t *testing.T) {
	b, c, d := newTestBot(config.Bot{})

	b.handle(context.Background(), tgbotapi.Update{Message: command("/weather", &tgbotapi.Chat{ID: -100, Type: "group"})})
	if len(d.calls) != 0 || len(c.sent) != 0 {
		t.Errorf("calls = %d, sent = %d", len(d.calls), len(c.sent))
	}

	b.handle(context.Background(), tgbotapi.Update{Message: command("/weather", &tgbotapi.Chat{ID: 1, Type: "private"})})
	if len(d.calls) != 1 || len(c.sent) != 1 {
		t.Errorf("private chat: calls = %d, sent = %d", len(d.calls), len(c.sent))
	}
}

func TestRestoreKeyboard(t *testing.T) {
	b, c, d := newTestBot(config.Bot{})
	chat := &tgbotapi.Chat{ID: 7, Type: "private"}

	b.handle(context.Background(), tgbotapi.Update{Message: command("/backup_restore Alpha", chat)})

	if len(d.calls) != 1 || d.calls[0].Command != dispatch.CommandBackupList {
		t.Fatalf("calls = %+v", d.calls)
	}
	if len(c.sent) != 1 {
		t.Fatalf("sent %d messages", len(c.sent))
	}
	keyboard, ok := c.sent[0].ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup)
	if !ok || len(keyboard.InlineKeyboard) != 1 {
		t.Fatalf("markup = %#v", c.sent[0].ReplyMarkup)
	}
	button := keyboard.InlineKeyboard[0][0]
	if button.Text != "2024-03-01 12:00:00" || button.CallbackData == nil || len(*button.CallbackData) > 64 {
		t.Fatalf("button = %+v", button)
	}

	query := &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 1, UserName: "alice"},
		Message: &tgbotapi.Message{Chat: chat},
		Data:    *button.CallbackData,
	}
	b.handle(context.Background(), tgbotapi.Update{CallbackQuery: query})

	if len(d.calls) != 2 {
		t.Fatalf("calls = %+v", d.calls)
	}
	restore := d.calls[1]
	if restore.Command != dispatch.CommandBackupRestore || restore.ServerName != "Alpha" || restore.BackupName != "20240301_120000" {
		t.Errorf("restore = %+v", restore)
	}

	// buttons are single use
	b.handle(context.Background(), tgbotapi.Update{CallbackQuery: query})
	if len(d.calls) != 2 {
		t.Errorf("button reused")
	}
	if !strings.Contains(c.sent[len(c.sent)-1].Text, "expired") {
		t.Errorf("last text = %q", c.sent[len(c.sent)-1].Text)
	}
}

func TestSendNotification(t *testing.T) {
	b, c, _ := newTestBot(config.Bot{AllowedChannels: []string{"-100", "@nidibot_news", "not-a-chat"}})

	err := b.send(context.Background(), notify.Event{Title: "DayZ - 192.0.2.1:2302", Message: "Server status changed to running."})
	if err != nil {
		t.Fatal(err)
	}

	if len(c.sent) != 2 {
		t.Fatalf("sent %d messages", len(c.sent))
	}
	if c.sent[0].ChatID != -100 || c.sent[1].ChannelUsername != "@nidibot_news" {
		t.Errorf("targets = %d, %q", c.sent[0].ChatID, c.sent[1].ChannelUsername)
	}
}

func TestMarkdown(t *testing.T) {
	got := markdown(bot.Reply{
		Title:  "DayZ - 1.25",
		Fields: []bot.Field{{Name: "Status:", Value: "running"}},
		Text:   "Done!",
	})

	want := "__*DayZ \\- 1\\.25*__\n*Status:* running\nDone\\!"
	if got != want {
		t.Errorf("markdown = %q, want %q", got, want)
	}
}

type blockingDispatcher struct {
	fakeDispatcher
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, inv dispatch.Invocation) dispatch.Result {
	close(d.started)
	<-d.release
	d.ctxErr = ctx.Err()
	return d.fakeDispatcher.Dispatch(ctx, inv)
}

func TestStopWaitsForRunningCommand(t *testing.T) {
	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	c := &fakeClient{}
	b := New("telegram", config.Bot{}, d)
	b.client = c

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update, 1)
	b.receive(ctx, updates)

	updates <- tgbotapi.Update{Message: command("/backup_restore Alpha 20240301_120000", &tgbotapi.Chat{ID: 7, Type: "private"})}
	<-d.started
	cancel()

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a command was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	<-stopped

	if d.ctxErr != nil {
		t.Errorf("command context canceled: %v", d.ctxErr)
	}
	if len(c.sent) == 0 {
		t.Error("no reply sent")
	}
}

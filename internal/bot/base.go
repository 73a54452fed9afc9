package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/metrics"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/provider"
	"golang.org/x/time/rate"
)

const (
	sendAttempts = 3
	drainTimeout = 10 * time.Second
)

// Base is embedded by platform adapters.
type Base struct {
	// dispatcher runs authorized commands.
	dispatcher Dispatcher

	// send delivers one queued notification; set by StartFlush.
	send Sender

	// limiter paces outbound notifications below platform limits.
	limiter *rate.Limiter

	// queue buffers notifications between flushes.
	queue chan notify.Event

	// users and channels are xxhash sets of allowed ids and names.
	// An empty set allows everyone.
	users    map[uint64]struct{}
	channels map[uint64]struct{}

	cancel context.CancelFunc
	done   chan struct{}

	name       string
	interval   time.Duration
	retryDelay time.Duration

	mu sync.Mutex
}

// NewBase builds the shared state of a bot named name.
func NewBase(name string, cfg config.Bot, d Dispatcher) *Base {
	size := cfg.QueueSize
	if size <= 0 {
		size = config.DefaultQueueSize
	}
	interval := cfg.NotifyInterval()
	if interval <= 0 {
		interval = config.DefaultNotifyPollingSeconds * time.Second
	}

	return &Base{
		name:       name,
		dispatcher: d,
		queue:      make(chan notify.Event, size),
		users:      hashSet(cfg.PrivilegedUsers),
		channels:   hashSet(cfg.AllowedChannels),
		interval:   interval,
		retryDelay: time.Second,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

func hashSet(values []string) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(values))
	for _, v := range values {
		set[xxhash.Sum64String(v)] = struct{}{}
	}

	return set
}

func contains(set map[uint64]struct{}, values ...string) bool {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := set[xxhash.Sum64String(v)]; ok {
			return true
		}
	}

	return false
}

// Name returns the bot name used in logs and metrics.
func (b *Base) Name() string {
	return b.name
}

// Dispatcher returns the command dispatcher.
func (b *Base) Dispatcher() Dispatcher {
	return b.dispatcher
}

// Servers lists the servers known to the dispatcher.
func (b *Base) Servers(ctx context.Context) []provider.GameServer {
	return b.dispatcher.Servers(ctx)
}

// ChannelAllowed reports whether commands and notifications may use the channel.
func (b *Base) ChannelAllowed(ids ...string) bool {
	return len(b.channels) == 0 || contains(b.channels, ids...)
}

// Authorize checks the caller against the privileged users and allowed channels.
func (b *Base) Authorize(c Caller) *dispatch.Failure {
	if len(b.channels) > 0 && !contains(b.channels, c.ChannelID, c.ChannelName) {
		return &dispatch.Failure{
			Kind:    dispatch.KindUnauthorized,
			Message: "Commands are not accepted in this channel.",
		}
	}

	if len(b.users) > 0 && !contains(b.users, c.UserID, c.UserName) {
		return &dispatch.Failure{
			Kind:    dispatch.KindUnauthorized,
			Message: "Sorry but you don't have rights to call this command! " + EmojiNoAccess,
		}
	}

	return nil
}

// Handle authorizes the caller and dispatches the command.
// Rejected commands never reach the dispatcher.
func (b *Base) Handle(ctx context.Context, c Caller, inv dispatch.Invocation) dispatch.Result {
	inv.Bot = b.name
	inv.UserID = c.UserID
	inv.UserName = c.UserName
	inv.ChannelID = c.ChannelID

	if failure := b.Authorize(c); failure != nil {
		log.Warn().
			Str("bot", b.name).
			Str("command", string(inv.Command)).
			Str("user", c.UserID).
			Str("channel", c.ChannelID).
			Msg("Command rejected")
		metrics.Commands.WithLabelValues(string(inv.Command), string(failure.Kind)).Inc()

		return dispatch.Result{Command: inv.Command, Failure: failure}
	}

	return b.dispatcher.Dispatch(ctx, inv)
}

// DeliverNotification implements Bot. A full queue drops the event.
func (b *Base) DeliverNotification(e notify.Event) {
	select {
	case b.queue <- e:
	default:
		metrics.QueueDropped.WithLabelValues(b.name).Inc()
		log.Warn().
			Str("bot", b.name).
			Str("server", e.ServerID).
			Str("category", string(e.Category)).
			Msg("Notification queue is full, event dropped")
	}
}

// StartFlush starts the loop delivering queued notifications through send.
func (b *Base) StartFlush(ctx context.Context, send Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.send = send
	b.done = make(chan struct{})

	go b.run(ctx, b.done)
}

// StopFlush stops the loop after a final drain of the queue.
func (b *Base) StopFlush() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if done == nil {
		return
	}

	cancel()
	<-done
}

func (b *Base) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			b.Flush(drainCtx)
			cancel()
			log.Debug().Str("bot", b.name).Msg("Notification queue drained")
			return

		case <-ticker.C:
			b.Flush(context.WithoutCancel(ctx))
		}
	}
}

// Flush delivers the events queued so far.
func (b *Base) Flush(ctx context.Context) {
	for n := len(b.queue); n > 0; n-- {
		select {
		case e := <-b.queue:
			b.deliver(ctx, e)
		default:
			return
		}
	}
}

func (b *Base) deliver(ctx context.Context, e notify.Event) {
	if b.send == nil {
		return
	}

	var err error
retry:
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = b.limiter.Wait(ctx); err != nil {
			break
		}

		if err = b.send(ctx, e); err == nil {
			metrics.MessagesSent.WithLabelValues(b.name).Inc()
			return
		}

		log.Debug().Err(err).Str("bot", b.name).Int("attempt", attempt).Msg("Failed to send notification")

		if attempt < sendAttempts {
			select {
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				break retry
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}

	metrics.QueueDropped.WithLabelValues(b.name).Inc()
	log.Error().
		Err(err).
		Str("bot", b.name).
		Str("server", e.ServerID).
		Str("category", string(e.Category)).
		Msg("Notification dropped")
}

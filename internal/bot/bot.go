// Package bot holds the platform-neutral part of every chat bot:
// authorization, the outbound notification queue and reply rendering.
package bot

import (
	"context"

	"github.com/woozymasta/nidibot/internal/dispatch"
	"github.com/woozymasta/nidibot/internal/notify"
	"github.com/woozymasta/nidibot/internal/provider"
)

// Bot is implemented by every chat platform adapter.
type Bot interface {
	Name() string

	// DeliverNotification queues an event for the next flush and never blocks.
	DeliverNotification(e notify.Event)

	// Start connects to the platform and starts the flush loop.
	Start(ctx context.Context) error

	// Stop flushes the queue and disconnects.
	Stop()
}

// Dispatcher runs commands for bots; *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv dispatch.Invocation) dispatch.Result
	Servers(ctx context.Context) []provider.GameServer
}

// Caller identifies who sent a command and from where.
// Names are optional and matched as well as ids.
type Caller struct {
	UserID      string
	UserName    string
	ChannelID   string
	ChannelName string
}

// Sender delivers one notification to every chat the bot notifies.
type Sender func(ctx context.Context, e notify.Event) error

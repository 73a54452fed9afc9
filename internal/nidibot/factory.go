package nidibot

import (
	"fmt"

	"github.com/woozymasta/nidibot/internal/backup"
	"github.com/woozymasta/nidibot/internal/bot"
	"github.com/woozymasta/nidibot/internal/bot/discord"
	"github.com/woozymasta/nidibot/internal/bot/telegram"
	"github.com/woozymasta/nidibot/internal/config"
	"github.com/woozymasta/nidibot/internal/fake"
	"github.com/woozymasta/nidibot/internal/provider"
	"github.com/woozymasta/nidibot/internal/provider/nitrado"
	"github.com/woozymasta/nidibot/internal/provider/query"
)

// ProviderFactory builds a server provider from one server_providers entry.
type ProviderFactory func(cfg config.ServerProvider, deps Deps) (provider.ServerProvider, error)

// BotFactory builds a bot from one bots entry.
type BotFactory func(name string, cfg config.Bot, d bot.Dispatcher) (bot.Bot, error)

func defaultProviders() map[string]ProviderFactory {
	return map[string]ProviderFactory{
		config.ProviderNitrado: func(cfg config.ServerProvider, deps Deps) (provider.ServerProvider, error) {
			store := deps.Backups
			if store == nil {
				store = backup.NewStore(deps.BackupsFolder, nil)
			}
			return nitrado.New(cfg, store), nil
		},
		config.ProviderA2S: func(cfg config.ServerProvider, deps Deps) (provider.ServerProvider, error) {
			return query.New(cfg, deps.A2S), nil
		},
		config.ProviderFake: func(cfg config.ServerProvider, _ Deps) (provider.ServerProvider, error) {
			return fake.New(cfg), nil
		},
	}
}

func defaultBots() map[string]BotFactory {
	return map[string]BotFactory{
		config.BotDiscord: func(name string, cfg config.Bot, d bot.Dispatcher) (bot.Bot, error) {
			return discord.New(name, cfg, d)
		},
		config.BotTelegram: func(name string, cfg config.Bot, d bot.Dispatcher) (bot.Bot, error) {
			return telegram.New(name, cfg, d), nil
		},
	}
}

// botName keeps names unique when a platform is configured more than once.
func botName(kind string, seen map[string]int) string {
	seen[kind]++
	if n := seen[kind]; n > 1 {
		return fmt.Sprintf("%s-%d", kind, n)
	}

	return kind
}

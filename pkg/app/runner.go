// Package app bootstraps the two binaries: the bot process and the
// management API process.
package app

import (
	"context"
	"fmt"

	"github.com/small-frappuccino/galactica/pkg/botconfig"
	"github.com/small-frappuccino/galactica/pkg/discord"
	"github.com/small-frappuccino/galactica/pkg/guildconfig"
	"github.com/small-frappuccino/galactica/pkg/leveling"
	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/service"
	"github.com/small-frappuccino/galactica/pkg/storage"
	"github.com/small-frappuccino/galactica/pkg/syncclient"
	"github.com/small-frappuccino/galactica/pkg/util"
)

// Run bootstraps the bot process and blocks until an interrupt.
func Run() error {
	cfg, loadErr := LoadConfig()

	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	if loadErr != nil {
		log.ApplicationLogger().Warn("Env fallback file not loaded", "err", loadErr)
	}
	if cfg.BotToken == "" {
		return fmt.Errorf("%s not set in environment or .env file", EnvBotToken)
	}

	log.ApplicationLogger().Info("Starting galactica", "db", cfg.DatabasePath)

	store := storage.NewStore(cfg.DatabasePath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer store.Close()

	session, err := discord.NewSession(cfg.BotToken)
	if err != nil {
		return err
	}

	cache := botconfig.NewCache(store)
	ledger := leveling.NewLedger(store)
	guilds := guildconfig.NewService(store, nil)

	handlers := discord.NewHandlers(cache, guilds, ledger)
	handlers.Register(session)

	sync := syncclient.New(syncclient.Config{
		APIBaseURL:    cfg.APIBaseURL,
		Secret:        cfg.JWTSecret,
		BotID:         cfg.BotID,
		TokenLifetime: cfg.TokenLifetime,
	}, cache, func(c storage.BotConfiguration) error {
		return botconfig.ApplyPresence(session, c)
	})

	manager := service.NewManager()
	manager.Register(service.Wrap("discord-gateway",
		func() error { return discord.Connect(session) },
		func(ctx context.Context) error { return discord.Disconnect(session) },
	), service.PriorityHigh)
	manager.Register(service.Wrap("config-sync", sync.Start, sync.Stop), service.PriorityNormal)

	if err := manager.StartAll(); err != nil {
		return err
	}

	log.ApplicationLogger().Info("Galactica is running; press Ctrl+C to stop")
	util.WaitForInterrupt()

	log.ApplicationLogger().Info("Shutting down")
	return manager.StopAll()
}

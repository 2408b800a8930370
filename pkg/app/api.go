package app

import (
	"context"
	"fmt"
	"time"

	"github.com/small-frappuccino/galactica/pkg/apiserver"
	"github.com/small-frappuccino/galactica/pkg/auth"
	"github.com/small-frappuccino/galactica/pkg/guildconfig"
	"github.com/small-frappuccino/galactica/pkg/hub"
	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/storage"
	"github.com/small-frappuccino/galactica/pkg/util"
)

// RunAPI bootstraps the management API process and blocks until an interrupt.
// Unlike the bot, the API refuses to start without valid signing material:
// its hubs are useless without it.
func RunAPI() error {
	cfg, loadErr := LoadConfig()

	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	if loadErr != nil {
		log.ApplicationLogger().Warn("Env fallback file not loaded", "err", loadErr)
	}
	if err := auth.ValidateSecret(cfg.JWTSecret); err != nil {
		return fmt.Errorf("%s: %w", EnvJWTSecret, err)
	}

	log.ApplicationLogger().Info("Starting galactica API", "addr", cfg.ListenAddr, "db", cfg.DatabasePath)

	store := storage.NewStore(cfg.DatabasePath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer store.Close()

	h := hub.NewHub(cfg.JWTSecret)
	guilds := guildconfig.NewService(store, h)

	server := apiserver.NewServer(cfg.ListenAddr, store, guilds, h)
	if server == nil {
		return fmt.Errorf("%s must not be empty", EnvListenAddr)
	}
	if err := server.Start(); err != nil {
		return err
	}

	util.WaitForInterrupt()

	log.ApplicationLogger().Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

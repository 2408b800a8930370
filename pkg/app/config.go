package app

import (
	"time"

	"github.com/small-frappuccino/galactica/pkg/util"
)

// Environment variables read at startup.
const (
	EnvBotToken    = "GALACTICA_BOT_TOKEN"
	EnvDBPath      = "DATABASE_PATH"
	EnvAPIBaseURL  = "BOT_API_URL"
	EnvJWTSecret   = "JWT_SECRET"
	EnvBotID       = "BOT_ID"
	EnvListenAddr  = "API_LISTEN_ADDR"
	EnvJWTLifetime = "JWT_LIFETIME"
)

// Config is the process configuration shared by both binaries.
type Config struct {
	BotToken      string
	DatabasePath  string
	APIBaseURL    string
	JWTSecret     []byte
	BotID         string
	ListenAddr    string
	TokenLifetime time.Duration
}

// LoadConfig reads the environment, consulting the $HOME/.local/bin/.env
// fallback for the bot token. The returned error only reports a fallback-file
// problem; callers decide which variables are mandatory.
func LoadConfig() (Config, error) {
	token, loadErr := util.LoadEnvWithLocalBinFallback(EnvBotToken)

	cfg := Config{
		BotToken:      token,
		DatabasePath:  util.EnvString(EnvDBPath, "galactica.db"),
		APIBaseURL:    util.EnvString(EnvAPIBaseURL, ""),
		JWTSecret:     []byte(util.EnvString(EnvJWTSecret, "")),
		BotID:         util.EnvString(EnvBotID, "galactica-bot"),
		ListenAddr:    util.EnvString(EnvListenAddr, ":8080"),
		TokenLifetime: util.EnvDuration(EnvJWTLifetime, time.Hour),
	}
	return cfg, loadErr
}

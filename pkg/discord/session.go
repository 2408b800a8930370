// Package discord owns the gateway session and the event handlers that feed
// guild lifecycle, presence and XP awards.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/galactica/pkg/log"
)

// Indirection over the gateway calls so handler tests run without a network.
var (
	newSession   = discordgo.New
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewSession builds a configured but unconnected gateway session.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}

	s, err := newSession("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	return s, nil
}

// Connect opens the gateway connection.
func Connect(s *discordgo.Session) error {
	log.DiscordLogger().Info("Connecting to Discord gateway")
	if err := openSession(s); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	log.DiscordLogger().Info("Connected to Discord gateway")
	return nil
}

// Disconnect closes the gateway connection.
func Disconnect(s *discordgo.Session) error {
	if s == nil {
		return nil
	}
	if err := closeSession(s); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	log.DiscordLogger().Info("Disconnected from Discord gateway")
	return nil
}

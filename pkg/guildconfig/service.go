// Package guildconfig owns per-guild moderation settings: transactional
// updates under optimistic concurrency control, guild join/leave lifecycle,
// and post-commit broadcasting to the guild's subscriber group.
package guildconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/storage"
)

// Store is the slice of the config store the service needs.
type Store interface {
	GetGuildConfiguration(ctx context.Context, guildID string) (storage.GuildConfiguration, error)
	CreateGuildConfiguration(ctx context.Context, guildID, guildName string) (bool, error)
	DeleteGuildConfiguration(ctx context.Context, guildID string) error
	UpdateGuildModeration(ctx context.Context, guildID string, enabled bool, channelID *string, expectedToken int64) (storage.GuildConfiguration, error)
}

// Broadcaster fans a committed update out to the guild's subscriber group.
type Broadcaster interface {
	BroadcastGuildConfig(guildID string, payload any)
}

// Payload is the broadcast body carried by guild-config-updated events.
type Payload struct {
	GuildID          string    `json:"guildId"`
	ModLogsEnabled   bool      `json:"modLogsEnabled"`
	ModLogsChannelID *string   `json:"modLogsChannelId,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated"`
	ConcurrencyToken string    `json:"concurrencyToken"`
}

// NewPayload converts a stored configuration into its broadcast form.
func NewPayload(cfg storage.GuildConfiguration) Payload {
	return Payload{
		GuildID:          cfg.GuildID,
		ModLogsEnabled:   cfg.ModLogsEnabled,
		ModLogsChannelID: cfg.ModLogsChannelID,
		LastUpdated:      cfg.LastUpdated,
		ConcurrencyToken: fmt.Sprintf("%d", cfg.RowVersion),
	}
}

// Service coordinates guild configuration reads, updates and broadcasts.
// broadcaster may be nil (the bot process updates nothing that needs fan-out).
type Service struct {
	store       Store
	broadcaster Broadcaster
}

// NewService returns a service over store. broadcaster is optional.
func NewService(store Store, broadcaster Broadcaster) *Service {
	return &Service{store: store, broadcaster: broadcaster}
}

// Get returns the guild's configuration or storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, guildID string) (storage.GuildConfiguration, error) {
	return s.store.GetGuildConfiguration(ctx, guildID)
}

// UpdateModLogs applies the moderation settings when expectedToken still
// matches the stored concurrency token. The broadcast happens strictly after
// the commit: a committed write is never lost to a failed broadcast, and no
// broadcast ever fires for a rolled-back write. Conflicts surface as
// storage.ErrConcurrencyConflict and are not retried here.
func (s *Service) UpdateModLogs(ctx context.Context, guildID string, enabled bool, channelID *string, expectedToken int64) (storage.GuildConfiguration, error) {
	cfg, err := s.store.UpdateGuildModeration(ctx, guildID, enabled, channelID, expectedToken)
	if err != nil {
		return storage.GuildConfiguration{}, err
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastGuildConfig(guildID, NewPayload(cfg))
	}
	return cfg, nil
}

// HandleGuildJoin creates the default configuration row when the bot joins a
// guild. Idempotent for guilds already known.
func (s *Service) HandleGuildJoin(ctx context.Context, guildID, guildName string) error {
	created, err := s.store.CreateGuildConfiguration(ctx, guildID, guildName)
	if err != nil {
		return fmt.Errorf("create guild config: %w", err)
	}
	if created {
		log.DiscordLogger().Info("Added guild configuration", "guild_id", guildID, "guild_name", guildName)
	}
	return nil
}

// HandleGuildLeave removes the configuration row when the bot leaves a guild.
func (s *Service) HandleGuildLeave(ctx context.Context, guildID string) error {
	if err := s.store.DeleteGuildConfiguration(ctx, guildID); err != nil {
		return fmt.Errorf("delete guild config: %w", err)
	}
	log.DiscordLogger().Info("Removed guild configuration", "guild_id", guildID)
	return nil
}

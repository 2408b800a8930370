package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GuildConfiguration holds per-guild moderation settings. RowVersion is the
// opaque concurrency token compared-and-swapped on every update.
type GuildConfiguration struct {
	GuildID          string
	GuildName        string
	DateJoined       time.Time
	ModLogsEnabled   bool
	ModLogsChannelID *string
	LastUpdated      time.Time
	RowVersion       int64
}

// GetGuildConfiguration returns the configuration for guildID or ErrNotFound.
func (s *Store) GetGuildConfiguration(ctx context.Context, guildID string) (GuildConfiguration, error) {
	if s.db == nil {
		return GuildConfiguration{}, fmt.Errorf("store not initialized")
	}
	return scanGuildConfig(s.db.QueryRowContext(ctx,
		`SELECT guild_id, guild_name, date_joined, mod_logs_enabled, mod_logs_channel_id, last_updated, row_version
         FROM guild_configs WHERE guild_id=?`, guildID))
}

// CreateGuildConfiguration inserts a default configuration row when the bot
// joins a guild. It is idempotent; re-joining an already known guild is a
// no-op. Returns whether a new row was created.
func (s *Store) CreateGuildConfiguration(ctx context.Context, guildID, guildName string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("store not initialized")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_configs (guild_id, guild_name, date_joined, mod_logs_enabled, mod_logs_channel_id, last_updated, row_version)
         VALUES (?, ?, ?, 0, NULL, ?, 1)
         ON CONFLICT(guild_id) DO NOTHING`,
		guildID, guildName, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteGuildConfiguration removes the row when the bot leaves a guild.
// Deleting an unknown guild is a no-op.
func (s *Store) DeleteGuildConfiguration(ctx context.Context, guildID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM guild_configs WHERE guild_id=?`, guildID)
	return err
}

// UpdateGuildModeration applies the moderation settings under optimistic
// concurrency control: the write commits only when expectedToken still matches
// the stored row version, and the committed row carries a new token. A stale
// token yields ErrConcurrencyConflict with no write; an unknown guild yields
// ErrNotFound.
func (s *Store) UpdateGuildModeration(ctx context.Context, guildID string, enabled bool, channelID *string, expectedToken int64) (GuildConfiguration, error) {
	if s.db == nil {
		return GuildConfiguration{}, fmt.Errorf("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GuildConfiguration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var channel sql.NullString
	if channelID != nil {
		channel = sql.NullString{String: *channelID, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE guild_configs
         SET mod_logs_enabled=?, mod_logs_channel_id=?, last_updated=?, row_version=row_version+1
         WHERE guild_id=? AND row_version=?`,
		enabled, channel, time.Now().UTC(), guildID, expectedToken,
	)
	if err != nil {
		return GuildConfiguration{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return GuildConfiguration{}, err
	}
	if n == 0 {
		// Distinguish a missing row from a stale token.
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM guild_configs WHERE guild_id=?`, guildID).Scan(&exists)
		if err == sql.ErrNoRows {
			return GuildConfiguration{}, ErrNotFound
		}
		if err != nil {
			return GuildConfiguration{}, err
		}
		return GuildConfiguration{}, ErrConcurrencyConflict
	}

	cfg, err := scanGuildConfig(tx.QueryRowContext(ctx,
		`SELECT guild_id, guild_name, date_joined, mod_logs_enabled, mod_logs_channel_id, last_updated, row_version
         FROM guild_configs WHERE guild_id=?`, guildID))
	if err != nil {
		return GuildConfiguration{}, err
	}
	if err := tx.Commit(); err != nil {
		return GuildConfiguration{}, err
	}
	return cfg, nil
}

func scanGuildConfig(row rowScanner) (GuildConfiguration, error) {
	var cfg GuildConfiguration
	var channel sql.NullString
	if err := row.Scan(&cfg.GuildID, &cfg.GuildName, &cfg.DateJoined, &cfg.ModLogsEnabled, &channel, &cfg.LastUpdated, &cfg.RowVersion); err != nil {
		if err == sql.ErrNoRows {
			return GuildConfiguration{}, ErrNotFound
		}
		return GuildConfiguration{}, err
	}
	if channel.Valid {
		cfg.ModLogsChannelID = &channel.String
	}
	return cfg, nil
}

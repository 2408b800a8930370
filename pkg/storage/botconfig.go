package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PresenceStatus is the bot's gateway status.
type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusIdle      PresenceStatus = "idle"
	StatusDND       PresenceStatus = "dnd"
	StatusInvisible PresenceStatus = "invisible"
)

// ValidPresenceStatus reports whether s is one of the known statuses.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return true
	}
	return false
}

// ActivityKind is the type of activity shown alongside the presence text.
type ActivityKind string

const (
	ActivityPlaying   ActivityKind = "playing"
	ActivityStreaming ActivityKind = "streaming"
	ActivityListening ActivityKind = "listening"
	ActivityWatching  ActivityKind = "watching"
	ActivityCompeting ActivityKind = "competing"
)

// ValidActivityKind reports whether k is one of the known activity kinds.
func ValidActivityKind(k ActivityKind) bool {
	switch k {
	case ActivityPlaying, ActivityStreaming, ActivityListening, ActivityWatching, ActivityCompeting:
		return true
	}
	return false
}

// MaxActivityTextLen bounds the presence text length.
const MaxActivityTextLen = 256

// BotConfiguration is the singleton presence configuration. Exactly one row
// exists at any time; it is created lazily with defaults on first read.
type BotConfiguration struct {
	Status       PresenceStatus
	ActivityText string
	ActivityKind ActivityKind
	LastUpdated  time.Time
}

// DefaultBotConfiguration is the row created on first access.
func DefaultBotConfiguration() BotConfiguration {
	return BotConfiguration{
		Status:       StatusOnline,
		ActivityText: "Ready",
		ActivityKind: ActivityPlaying,
	}
}

// GetBotConfiguration returns the singleton configuration, creating the
// default row when absent. Creation is guarded by the fixed id=1 constraint,
// so concurrent first reads cannot produce duplicates.
func (s *Store) GetBotConfiguration(ctx context.Context) (BotConfiguration, error) {
	if s.db == nil {
		return BotConfiguration{}, fmt.Errorf("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BotConfiguration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cfg, err := scanBotConfig(tx.QueryRowContext(ctx,
		`SELECT status, activity_text, activity_kind, last_updated FROM bot_config WHERE id = 1`))
	if err == nil {
		return cfg, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return BotConfiguration{}, err
	}

	cfg = DefaultBotConfiguration()
	cfg.LastUpdated = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bot_config (id, status, activity_text, activity_kind, last_updated)
         VALUES (1, ?, ?, ?, ?)
         ON CONFLICT(id) DO NOTHING`,
		string(cfg.Status), cfg.ActivityText, string(cfg.ActivityKind), cfg.LastUpdated,
	); err != nil {
		return BotConfiguration{}, err
	}

	// Re-read in case a concurrent creator won the insert.
	cfg, err = scanBotConfig(tx.QueryRowContext(ctx,
		`SELECT status, activity_text, activity_kind, last_updated FROM bot_config WHERE id = 1`))
	if err != nil {
		return BotConfiguration{}, err
	}
	return cfg, tx.Commit()
}

// ReplaceBotConfiguration upserts the singleton row and returns the stored value.
func (s *Store) ReplaceBotConfiguration(ctx context.Context, cfg BotConfiguration) (BotConfiguration, error) {
	if s.db == nil {
		return BotConfiguration{}, fmt.Errorf("store not initialized")
	}
	if !ValidPresenceStatus(cfg.Status) {
		return BotConfiguration{}, fmt.Errorf("%w: unknown presence status %q", ErrInvalidConfig, cfg.Status)
	}
	if !ValidActivityKind(cfg.ActivityKind) {
		return BotConfiguration{}, fmt.Errorf("%w: unknown activity kind %q", ErrInvalidConfig, cfg.ActivityKind)
	}
	if len(cfg.ActivityText) > MaxActivityTextLen {
		return BotConfiguration{}, fmt.Errorf("%w: activity text exceeds %d characters", ErrInvalidConfig, MaxActivityTextLen)
	}

	cfg.LastUpdated = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_config (id, status, activity_text, activity_kind, last_updated)
         VALUES (1, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
           status=excluded.status,
           activity_text=excluded.activity_text,
           activity_kind=excluded.activity_kind,
           last_updated=excluded.last_updated`,
		string(cfg.Status), cfg.ActivityText, string(cfg.ActivityKind), cfg.LastUpdated,
	)
	if err != nil {
		return BotConfiguration{}, err
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBotConfig(row rowScanner) (BotConfiguration, error) {
	var cfg BotConfiguration
	var status, kind string
	if err := row.Scan(&status, &cfg.ActivityText, &kind, &cfg.LastUpdated); err != nil {
		return BotConfiguration{}, err
	}
	cfg.Status = PresenceStatus(status)
	cfg.ActivityKind = ActivityKind(kind)
	return cfg, nil
}

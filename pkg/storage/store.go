package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Sentinel errors for the store's failure taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound indicates no row exists for the requested key.
	ErrNotFound = errors.New("storage: not found")

	// ErrConcurrencyConflict indicates the supplied concurrency token no longer
	// matches the stored row version. The caller decides whether to retry.
	ErrConcurrencyConflict = errors.New("storage: concurrency conflict")

	// ErrInsertRace indicates an insert lost a uniqueness race to a concurrent
	// writer. The existing row is authoritative.
	ErrInsertRace = errors.New("storage: insert race")

	// ErrInvalidConfig indicates a configuration value failed validation and
	// nothing was written.
	ErrInvalidConfig = errors.New("storage: invalid configuration")
)

// Store wraps an embedded SQLite database holding the bot configuration
// singleton, per-guild moderation configuration and per-(user,guild) XP rows.
// It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ensureSchema creates required tables and indexes if they don't exist.
func ensureSchema(db *sql.DB) error {
	const createBotConfig = `
CREATE TABLE IF NOT EXISTS bot_config (
  id            INTEGER PRIMARY KEY CHECK (id = 1),
  status        TEXT NOT NULL,
  activity_text TEXT NOT NULL,
  activity_kind TEXT NOT NULL,
  last_updated  TIMESTAMP NOT NULL
);`

	const createGuildConfigs = `
CREATE TABLE IF NOT EXISTS guild_configs (
  guild_id            TEXT PRIMARY KEY,
  guild_name          TEXT NOT NULL,
  date_joined         TIMESTAMP NOT NULL,
  mod_logs_enabled    INTEGER NOT NULL DEFAULT 0,
  mod_logs_channel_id TEXT,
  last_updated        TIMESTAMP NOT NULL,
  row_version         INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_guild_configs_modlogs_channel
  ON guild_configs(mod_logs_channel_id) WHERE mod_logs_channel_id IS NOT NULL;`

	const createLevels = `
CREATE TABLE IF NOT EXISTS levels (
  id            TEXT PRIMARY KEY,
  user_id       TEXT NOT NULL,
  guild_id      TEXT NOT NULL,
  xp            INTEGER NOT NULL DEFAULT 0,
  level         INTEGER NOT NULL DEFAULT 0,
  last_xp_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_levels_user_guild ON levels(user_id, guild_id);`

	for _, sqlText := range []string{createBotConfig, createGuildConfigs, createLevels} {
		if _, err := db.Exec(sqlText); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

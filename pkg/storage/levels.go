package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LevelEntry is the XP row for one (user, guild) pair.
type LevelEntry struct {
	ID       string
	UserID   string
	GuildID  string
	XP       int64
	Level    int
	LastXPAt time.Time
}

// GetLevelEntry returns the XP row for the pair or ErrNotFound.
func (s *Store) GetLevelEntry(ctx context.Context, userID, guildID string) (LevelEntry, error) {
	if s.db == nil {
		return LevelEntry{}, fmt.Errorf("store not initialized")
	}
	var e LevelEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, guild_id, xp, level, last_xp_at FROM levels WHERE user_id=? AND guild_id=?`,
		userID, guildID,
	).Scan(&e.ID, &e.UserID, &e.GuildID, &e.XP, &e.Level, &e.LastXPAt)
	if err == sql.ErrNoRows {
		return LevelEntry{}, ErrNotFound
	}
	if err != nil {
		return LevelEntry{}, err
	}
	return e, nil
}

// InsertLevelEntry inserts a fresh XP row. When a concurrent writer already
// created the (user, guild) row, the insert is discarded and ErrInsertRace is
// returned; the existing row is authoritative.
func (s *Store) InsertLevelEntry(ctx context.Context, e LevelEntry) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO levels (id, user_id, guild_id, xp, level, last_xp_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(user_id, guild_id) DO NOTHING`,
		e.ID, e.UserID, e.GuildID, e.XP, e.Level, e.LastXPAt.UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsertRace
	}
	return nil
}

// UpdateLevelEntry persists a new xp/level pair and award timestamp for an
// existing row.
func (s *Store) UpdateLevelEntry(ctx context.Context, id string, xp int64, level int, lastXPAt time.Time) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE levels SET xp=?, level=?, last_xp_at=? WHERE id=?`,
		xp, level, lastXPAt.UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

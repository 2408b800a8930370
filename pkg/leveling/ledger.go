// Package leveling implements the experience-point ledger: a pure award
// function plus a race-tolerant upsert against the durable store.
package leveling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/storage"
)

// MaxAwardPerMessage caps the XP earned by a single message.
const MaxAwardPerMessage = 50

// Store is the slice of the config store the ledger needs.
type Store interface {
	GetLevelEntry(ctx context.Context, userID, guildID string) (storage.LevelEntry, error)
	InsertLevelEntry(ctx context.Context, e storage.LevelEntry) error
	UpdateLevelEntry(ctx context.Context, id string, xp int64, level int, lastXPAt time.Time) error
}

// Ledger performs monotonic XP awards. It is stateless between calls apart
// from the soft-failure counter.
type Ledger struct {
	store   Store
	dropped atomic.Int64
}

// NewLedger returns a ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// ComputeAward derives the XP amount for a message. Empty text yields 0;
// otherwise half the character count, capped at MaxAwardPerMessage. Counting
// characters rather than bytes keeps multibyte text from out-earning ASCII.
func ComputeAward(messageText string) int {
	if messageText == "" {
		return 0
	}
	xp := utf8.RuneCountInString(messageText) / 2
	if xp > MaxAwardPerMessage {
		return MaxAwardPerMessage
	}
	return xp
}

// Threshold returns the cumulative XP needed to leave the given level.
func Threshold(level int) int64 {
	l := int64(level)
	return 5*l*l + 50*l + 100
}

// AwardXp adds xpAmount to the (userID, guildID) row, creating it on first
// award. A concurrent first-write race is recovered by re-fetching the
// winner's row. Levels advance by at most one per award.
func (l *Ledger) AwardXp(ctx context.Context, userID, guildID string, xpAmount int) (leveledUp bool, newLevel int, err error) {
	if xpAmount <= 0 {
		return false, 0, nil
	}

	entry, err := l.store.GetLevelEntry(ctx, userID, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		fresh := storage.LevelEntry{
			ID:       uuid.NewString(),
			UserID:   userID,
			GuildID:  guildID,
			XP:       int64(xpAmount),
			Level:    0,
			LastXPAt: time.Now().UTC(),
		}
		insertErr := l.store.InsertLevelEntry(ctx, fresh)
		if insertErr == nil {
			return false, 0, nil
		}
		if !errors.Is(insertErr, storage.ErrInsertRace) {
			return false, 0, fmt.Errorf("insert level entry: %w", insertErr)
		}

		// Another writer created the row first; theirs is authoritative.
		entry, err = l.store.GetLevelEntry(ctx, userID, guildID)
		if errors.Is(err, storage.ErrNotFound) {
			// The row vanished between the failed insert and the re-fetch.
			// Abandon this award; chat messages are frequent enough that the
			// loss is acceptable, but keep it visible to operators.
			l.dropped.Add(1)
			log.ApplicationLogger().Warn("Dropped XP award after insert race re-fetch miss",
				"user_id", userID, "guild_id", guildID, "xp", xpAmount)
			return false, 0, nil
		}
		if err != nil {
			return false, 0, fmt.Errorf("re-fetch level entry: %w", err)
		}
	} else if err != nil {
		return false, 0, fmt.Errorf("fetch level entry: %w", err)
	}

	newXP := entry.XP + int64(xpAmount)
	level := entry.Level
	if newXP >= Threshold(level) {
		level++
		leveledUp = true
	}

	if err := l.store.UpdateLevelEntry(ctx, entry.ID, newXP, level, time.Now().UTC()); err != nil {
		return false, 0, fmt.Errorf("persist award: %w", err)
	}
	return leveledUp, level, nil
}

// GetStats returns the current level and XP for the pair; a missing entry
// yields (0, 0).
func (l *Ledger) GetStats(ctx context.Context, userID, guildID string) (level int, xp int64, err error) {
	entry, err := l.store.GetLevelEntry(ctx, userID, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return entry.Level, entry.XP, nil
}

// DroppedAwards reports how many awards were silently abandoned after an
// unrecoverable insert race.
func (l *Ledger) DroppedAwards() int64 {
	return l.dropped.Load()
}

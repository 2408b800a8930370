package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "galactica.db"))
	if err := s.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetBotConfigurationCreatesDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetBotConfiguration(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Status != StatusOnline || cfg.ActivityText != "Ready" || cfg.ActivityKind != ActivityPlaying {
		t.Fatalf("unexpected default config: %+v", cfg)
	}
	if cfg.LastUpdated.IsZero() {
		t.Fatalf("expected last_updated to be set")
	}

	// Second read returns the same row, not a new one.
	again, err := s.GetBotConfiguration(ctx)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !again.LastUpdated.Equal(cfg.LastUpdated) {
		t.Fatalf("expected stable singleton row, got %v vs %v", again.LastUpdated, cfg.LastUpdated)
	}
}

func TestReplaceBotConfiguration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	updated, err := s.ReplaceBotConfiguration(ctx, BotConfiguration{
		Status:       StatusIdle,
		ActivityText: "Custom",
		ActivityKind: ActivityWatching,
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if updated.ActivityText != "Custom" {
		t.Fatalf("expected updated text, got %q", updated.ActivityText)
	}

	got, err := s.GetBotConfiguration(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusIdle || got.ActivityText != "Custom" || got.ActivityKind != ActivityWatching {
		t.Fatalf("replace not persisted: %+v", got)
	}
}

func TestReplaceBotConfigurationValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ReplaceBotConfiguration(ctx, BotConfiguration{Status: "offline", ActivityKind: ActivityPlaying}); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
	if _, err := s.ReplaceBotConfiguration(ctx, BotConfiguration{Status: StatusOnline, ActivityKind: "sleeping"}); err == nil {
		t.Fatalf("expected invalid activity kind to be rejected")
	}
	long := make([]byte, MaxActivityTextLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := s.ReplaceBotConfiguration(ctx, BotConfiguration{Status: StatusOnline, ActivityKind: ActivityPlaying, ActivityText: string(long)}); err == nil {
		t.Fatalf("expected oversize activity text to be rejected")
	}
}

func TestGuildConfigurationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetGuildConfiguration(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := s.CreateGuildConfiguration(ctx, "42", "Test Guild")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected row to be created")
	}

	// Re-join is idempotent.
	created, err = s.CreateGuildConfiguration(ctx, "42", "Renamed")
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if created {
		t.Fatalf("expected idempotent create")
	}

	cfg, err := s.GetGuildConfiguration(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.GuildName != "Test Guild" || cfg.ModLogsEnabled || cfg.ModLogsChannelID != nil {
		t.Fatalf("unexpected default guild config: %+v", cfg)
	}
	if cfg.RowVersion != 1 {
		t.Fatalf("expected initial row version 1, got %d", cfg.RowVersion)
	}

	if err := s.DeleteGuildConfiguration(ctx, "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetGuildConfiguration(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateGuildModerationTokenRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateGuildConfiguration(ctx, "42", "Test Guild"); err != nil {
		t.Fatalf("create: %v", err)
	}
	cfg, err := s.GetGuildConfiguration(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	channel := "9001"
	updated, err := s.UpdateGuildModeration(ctx, "42", true, &channel, cfg.RowVersion)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.ModLogsEnabled || updated.ModLogsChannelID == nil || *updated.ModLogsChannelID != "9001" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.RowVersion == cfg.RowVersion {
		t.Fatalf("expected new concurrency token, got same %d", updated.RowVersion)
	}

	// The stale token must fail and leave the row untouched.
	_, err = s.UpdateGuildModeration(ctx, "42", false, nil, cfg.RowVersion)
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	after, err := s.GetGuildConfiguration(ctx, "42")
	if err != nil {
		t.Fatalf("get after conflict: %v", err)
	}
	if !after.ModLogsEnabled || after.RowVersion != updated.RowVersion {
		t.Fatalf("conflicting update must not write: %+v", after)
	}

	// Unknown guilds surface NotFound, not a conflict.
	if _, err := s.UpdateGuildModeration(ctx, "404", true, nil, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertLevelEntryRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := LevelEntry{ID: "a", UserID: "u1", GuildID: "g1", XP: 10, Level: 0, LastXPAt: now}
	if err := s.InsertLevelEntry(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A second first-write for the same pair loses the race.
	second := LevelEntry{ID: "b", UserID: "u1", GuildID: "g1", XP: 25, Level: 0, LastXPAt: now}
	if err := s.InsertLevelEntry(ctx, second); !errors.Is(err, ErrInsertRace) {
		t.Fatalf("expected ErrInsertRace, got %v", err)
	}

	// Exactly one row survives and it is the winner's.
	got, err := s.GetLevelEntry(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "a" || got.XP != 10 {
		t.Fatalf("expected winner row to survive, got %+v", got)
	}
}

func TestUpdateLevelEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := LevelEntry{ID: "a", UserID: "u1", GuildID: "g1", XP: 90, Level: 0, LastXPAt: now}
	if err := s.InsertLevelEntry(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpdateLevelEntry(ctx, "a", 150, 1, now.Add(time.Second)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetLevelEntry(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.XP != 150 || got.Level != 1 {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := s.UpdateLevelEntry(ctx, "missing", 1, 1, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

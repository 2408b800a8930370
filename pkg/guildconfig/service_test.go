package guildconfig

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/small-frappuccino/galactica/pkg/storage"
)

type recordingBroadcaster struct {
	calls []Payload
}

func (r *recordingBroadcaster) BroadcastGuildConfig(guildID string, payload any) {
	r.calls = append(r.calls, payload.(Payload))
}

func newTestService(t *testing.T) (*Service, *storage.Store, *recordingBroadcaster) {
	t.Helper()
	s := storage.NewStore(filepath.Join(t.TempDir(), "galactica.db"))
	if err := s.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	b := &recordingBroadcaster{}
	return NewService(s, b), s, b
}

func TestUpdateBroadcastsAfterCommit(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := context.Background()

	if err := svc.HandleGuildJoin(ctx, "42", "Test Guild"); err != nil {
		t.Fatalf("join: %v", err)
	}
	cfg, err := svc.Get(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	channel := "9001"
	updated, err := svc.UpdateModLogs(ctx, "42", true, &channel, cfg.RowVersion)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(b.calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(b.calls))
	}
	got := b.calls[0]
	if got.GuildID != "42" || !got.ModLogsEnabled || got.ModLogsChannelID == nil || *got.ModLogsChannelID != "9001" {
		t.Fatalf("unexpected broadcast payload: %+v", got)
	}

	// The broadcast carries the post-commit token.
	if got.ConcurrencyToken == "" || got.ConcurrencyToken == "0" {
		t.Fatalf("broadcast must carry the new token, got %q", got.ConcurrencyToken)
	}
	stored, err := svc.Get(ctx, "42")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if stored.RowVersion != updated.RowVersion {
		t.Fatalf("returned row must match committed row")
	}
}

func TestConflictDoesNotBroadcast(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := context.Background()

	if err := svc.HandleGuildJoin(ctx, "42", "Test Guild"); err != nil {
		t.Fatalf("join: %v", err)
	}
	cfg, err := svc.Get(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.UpdateModLogs(ctx, "42", true, nil, cfg.RowVersion); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Replay with the now-stale token.
	_, err = svc.UpdateModLogs(ctx, "42", false, nil, cfg.RowVersion)
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if len(b.calls) != 1 {
		t.Fatalf("conflicting update must not broadcast, got %d calls", len(b.calls))
	}
}

func TestGuildLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.HandleGuildJoin(ctx, "42", "Test Guild"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Re-join is a no-op.
	if err := svc.HandleGuildJoin(ctx, "42", "Renamed"); err != nil {
		t.Fatalf("re-join: %v", err)
	}
	cfg, err := svc.Get(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.GuildName != "Test Guild" {
		t.Fatalf("re-join must not rewrite the row: %+v", cfg)
	}

	if err := svc.HandleGuildLeave(ctx, "42"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := svc.Get(ctx, "42"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after leave, got %v", err)
	}
}

package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Append(ctx, TranscriptEvent{SessionID: "s", Kind: "append"}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
	events, err := es.List(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events in ephemeral mode, got %v %v", events, err)
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.Append(ctx, TranscriptEvent{SessionID: "session-1", Kind: "append", Text: "hola", Fragment: "hola", Confidence: 0.8, Language: "es", Revision: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := es.Append(ctx, TranscriptEvent{SessionID: "session-1", Kind: "append", Text: "hola mundo", Fragment: "mundo", Confidence: 0.6, Language: "es", Revision: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := es.List(ctx, "session-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Fragment != "hola" || events[1].Text != "hola mundo" || events[1].Revision != 2 {
		t.Fatalf("unexpected events %+v", events)
	}

	latest, ok, err := es.Latest(ctx, "session-1")
	if err != nil || !ok {
		t.Fatalf("latest: %v %v", ok, err)
	}
	if latest.Text != "hola mundo" || latest.Confidence != 0.6 {
		t.Fatalf("unexpected latest %+v", latest)
	}
	if _, ok, _ := es.Latest(ctx, "missing"); ok {
		t.Fatal("expected no event for unknown session")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, TranscriptEvent{SessionID: "old-session", Kind: "append", Text: "viejo"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, TranscriptEvent{SessionID: "new-session", Kind: "append", Text: "nuevo"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.List(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned, got %d events", len(events))
	}
	events, err = es.List(ctx, "new-session", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected new session kept, got %d events (%v)", len(events), err)
	}
}

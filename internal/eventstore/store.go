package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	_ "modernc.org/sqlite"
)

// TranscriptEvent is one recorded mutation of a session transcript.
type TranscriptEvent struct {
	ID         int64
	SessionID  string
	Kind       string
	Text       string
	Fragment   string
	Confidence float64
	Language   string
	Generation uint64
	Revision   uint64
	CreatedAt  time.Time
}

// Store keeps the transcript timeline in SQLite. In ephemeral mode every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    language TEXT,
    created_at TIMESTAMP NOT NULL,
    last_seen_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT,
    fragment TEXT,
    confidence REAL,
    language TEXT,
    generation INTEGER,
    revision INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcript_events_session ON transcript_events(session_id, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != "ephemeral"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TouchSession creates the session row or refreshes its language and last activity.
func (s *Store) TouchSession(ctx context.Context, sessionID, language string) error {
	if !s.enabled() {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, language, created_at, last_seen_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET language=excluded.language, last_seen_at=excluded.last_seen_at`,
		sessionID, language, now, now)
	return err
}

// Append records evt, creating the session row if needed.
func (s *Store) Append(ctx context.Context, evt TranscriptEvent) error {
	if !s.enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	if err := s.TouchSession(ctx, evt.SessionID, evt.Language); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_events(session_id, kind, text, fragment, confidence, language, generation, revision, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SessionID, evt.Kind, evt.Text, evt.Fragment, evt.Confidence, evt.Language,
		int64(evt.Generation), int64(evt.Revision), evt.CreatedAt.UTC())
	return err
}

// List returns up to limit events for a session, oldest first.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]TranscriptEvent, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, text, fragment, confidence, language, generation, revision, created_at
		 FROM transcript_events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TranscriptEvent
	for rows.Next() {
		var (
			e        TranscriptEvent
			gen, rev int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Text, &e.Fragment, &e.Confidence, &e.Language, &gen, &rev, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Generation = uint64(gen)
		e.Revision = uint64(rev)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Latest returns the most recent event for a session, or false when there is none.
func (s *Store) Latest(ctx context.Context, sessionID string) (TranscriptEvent, bool, error) {
	if !s.enabled() {
		return TranscriptEvent{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, text, fragment, confidence, language, generation, revision, created_at
		 FROM transcript_events WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	var (
		e        TranscriptEvent
		gen, rev int64
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Text, &e.Fragment, &e.Confidence, &e.Language, &gen, &rev, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return TranscriptEvent{}, false, nil
	}
	if err != nil {
		return TranscriptEvent{}, false, err
	}
	e.Generation = uint64(gen)
	e.Revision = uint64(rev)
	return e, true, nil
}

// Prune applies retention_days and max_sessions.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcript_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY last_seen_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

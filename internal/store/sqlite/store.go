// Package sqlite persists sessions, transcripts and assistant turns.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	status TEXT NOT NULL,
	ai_mode TEXT NOT NULL,
	started_at REAL NOT NULL,
	paused_at REAL,
	ended_at REAL,
	end_reason TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_open_meeting
	ON sessions(meeting_id) WHERE status != 'ended';

CREATE TABLE IF NOT EXISTS transcripts (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	speaker TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	ts REAL NOT NULL,
	start_time REAL,
	confidence REAL,
	PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS ai_messages (
	id TEXT PRIMARY KEY,
	turn_id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	meeting_id TEXT NOT NULL,
	content TEXT NOT NULL,
	provider TEXT NOT NULL,
	mode TEXT NOT NULL,
	created_at REAL NOT NULL
);
`

var _ ports.SessionGateway = (*Store)(nil)

// Store is the SQLite session gateway.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Debug("sqlite store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession inserts an active session. A meeting that already has a
// session which has not ended yields a *domain.ConflictError.
func (s *Store) StartSession(ctx context.Context, session domain.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE meeting_id = ? AND status != 'ended'
		LIMIT 1
	`, session.MeetingID).Scan(&existing)
	switch {
	case err == nil:
		return &domain.ConflictError{MeetingID: session.MeetingID, SessionID: existing}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("query open session: %w", err)
	}

	status := session.Status
	if status == "" || status == domain.SessionStatusIdle {
		status = domain.SessionStatusActive
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, meeting_id, status, ai_mode, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.MeetingID, string(status), string(session.AIMode), unixFromTime(session.StartedAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) PauseSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'paused', paused_at = ?
		WHERE id = ? AND status = 'active'
	`, unixFromTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("pause session: %w", err)
	}
	return nil
}

func (s *Store) ResumeSession(ctx context.Context, sessionID string, _ time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'active', paused_at = NULL
		WHERE id = ? AND status = 'paused'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	return nil
}

// EndSession closes the session once; later calls keep the first end time.
func (s *Store) EndSession(ctx context.Context, sessionID string, reason domain.EndReason, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = ?, end_reason = ?, paused_at = NULL
		WHERE id = ? AND status != 'ended'
	`, unixFromTime(at), string(reason), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// InsertTranscript stores a final line. Replays of the same id are ignored.
func (s *Store) InsertTranscript(ctx context.Context, sessionID string, event domain.TranscriptEvent) error {
	var startTime sql.NullFloat64
	if event.StartTime != nil {
		startTime = sql.NullFloat64{Float64: *event.StartTime, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transcripts (session_id, id, seq, speaker, text, ts, start_time, confidence)
		VALUES (?, ?, (SELECT COUNT(*) FROM transcripts WHERE session_id = ?), ?, ?, ?, ?, ?)
	`, sessionID, event.ID, sessionID, event.Speaker, event.Text, unixFromTime(event.Timestamp), startTime, event.Confidence)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// InsertAIMessage stores a completed assistant turn, once per turn id.
func (s *Store) InsertAIMessage(ctx context.Context, record domain.AIResponseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ai_messages (id, turn_id, session_id, meeting_id, content, provider, mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.TurnID, record.SessionID, record.MeetingID, record.Content,
		record.Provider, string(record.Mode), unixFromTime(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ai message: %w", err)
	}
	return nil
}

// Session returns a stored session, or domain.ErrSessionNotFound.
func (s *Store) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, meeting_id, status, ai_mode, started_at, ended_at
		FROM sessions WHERE id = ?
	`, sessionID)

	var sess domain.Session
	var status, mode string
	var startedAt float64
	var endedAt sql.NullFloat64
	if err := row.Scan(&sess.ID, &sess.MeetingID, &status, &mode, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.AIMode = domain.AIMode(mode)
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return sess, nil
}

// Transcript returns a session's final lines in arrival order.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]domain.TranscriptEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker, text, ts, start_time, confidence
		FROM transcripts
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var events []domain.TranscriptEvent
	for rows.Next() {
		var e domain.TranscriptEvent
		var ts float64
		var startTime, confidence sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.Speaker, &e.Text, &ts, &startTime, &confidence); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.Timestamp = timeFromUnix(ts)
		e.IsFinal = true
		if startTime.Valid {
			v := startTime.Float64
			e.StartTime = &v
		}
		e.Confidence = confidence.Float64
		events = append(events, e)
	}
	return events, rows.Err()
}

// AIMessages returns a session's assistant turns, oldest first.
func (s *Store) AIMessages(ctx context.Context, sessionID string) ([]domain.AIResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, session_id, meeting_id, content, provider, mode, created_at
		FROM ai_messages
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query ai messages: %w", err)
	}
	defer rows.Close()

	var records []domain.AIResponseRecord
	for rows.Next() {
		var r domain.AIResponseRecord
		var mode string
		var createdAt float64
		if err := rows.Scan(&r.ID, &r.TurnID, &r.SessionID, &r.MeetingID, &r.Content, &r.Provider, &mode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ai message: %w", err)
		}
		r.Mode = domain.AIMode(mode)
		r.CreatedAt = timeFromUnix(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

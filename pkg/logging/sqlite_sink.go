package logging

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jingkaihe/layerhook/internal/errx"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  run_id TEXT NOT NULL,
  process TEXT NOT NULL,
  event_type TEXT NOT NULL,
  summary TEXT NOT NULL,
  symbol TEXT,
  tags TEXT,
  data TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_run_type ON events(run_id, event_type);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON events(symbol);
`

// SQLiteSink stores events in a SQLite database so bypass reasons can be
// queried after a run.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and ensures the
// events table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errx.Wrap(ErrOpenEventsDB, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, errx.Wrap(ErrOpenEventsDB, err)
	}
	if _, err := db.Exec(eventsSchema); err != nil {
		db.Close()
		return nil, errx.Wrap(ErrOpenEventsDB, err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO events(ts, run_id, process, event_type, summary, symbol, tags, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.RunID,
		event.Process,
		event.EventType,
		event.Summary,
		nullString(event.Symbol),
		nullString(strings.Join(event.Tags, ",")),
		nullString(string(event.Data)),
	)
	if err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// CountByType returns how many events of eventType were stored for runID.
func (s *SQLiteSink) CountByType(runID, eventType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE run_id = ? AND event_type = ?`,
		runID, eventType,
	).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

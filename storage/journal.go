package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Event names recorded over a session's life
const (
	EventRunStarted        = "run_started"
	EventLoginAttempt      = "login_attempt"
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventManualInteraction = "manual_interaction"
	EventArtifactsRestored = "artifacts_restored"
	EventArtifactsSaved    = "artifacts_saved"
	EventCycleError        = "cycle_error"
)

// Journal records session lifecycle events in SQLite. Each process gets its
// own run ID so overlapping histories stay distinguishable. A nil Journal is
// valid and records nothing.
type Journal struct {
	db    *sql.DB
	runID string
	log   *logrus.Logger
}

// Event is one recorded session lifecycle event
type Event struct {
	ID        int       `json:"id"`
	RunID     string    `json:"run_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenJournal opens or creates the journal database
func OpenJournal(dbPath string, log *logrus.Logger) (*Journal, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{
		db:    db,
		runID: uuid.NewString(),
		log:   log,
	}

	if err := j.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.WithField("run_id", j.runID).Debug("Journal opened")
	return j, nil
}

// initTables creates all necessary tables
func (j *Journal) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_run_id ON session_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_event ON session_events(event)`,
	}

	for _, query := range queries {
		if _, err := j.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

// RunID returns this process's run identifier
func (j *Journal) RunID() string {
	if j == nil {
		return ""
	}
	return j.runID
}

// Record stores one event. Bookkeeping must never fail an operation, so
// errors are logged and swallowed.
func (j *Journal) Record(event, detail string) {
	if j == nil {
		return
	}

	_, err := j.db.Exec(
		`INSERT INTO session_events (run_id, event, detail) VALUES (?, ?, ?)`,
		j.runID, event, detail,
	)
	if err != nil {
		j.log.WithError(err).WithField("event", event).Warn("Failed to record session event")
		return
	}

	j.log.WithFields(logrus.Fields{
		"event":  event,
		"detail": detail,
	}).Debug("Session event recorded")
}

// Recent returns the latest n events, newest first
func (j *Journal) Recent(n int) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, run_id, event, COALESCE(detail, ''), created_at
		 FROM session_events ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountsSince returns per-event counts recorded at or after the given time
func (j *Journal) CountsSince(since time.Time) (map[string]int, error) {
	rows, err := j.db.Query(
		`SELECT event, COUNT(*) FROM session_events
		 WHERE created_at >= datetime(?) GROUP BY event`, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var count int
		if err := rows.Scan(&event, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[event] = count
	}
	return counts, rows.Err()
}

// Close closes the journal database
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

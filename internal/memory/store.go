// Package memory provides persistent run history for codechat using SQLite.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunStatus is the terminal state of a recorded run.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Run is one recorded CLI execution.
type Run struct {
	ID          string
	ChannelID   string
	ProjectPath string
	SessionID   string
	Prompt      string
	Status      string
	CostUSD     float64
	DurationMS  int64
	NumTurns    int
	CreatedAt   time.Time
}

// Store records completed runs in a SQLite database. It runs its migrations
// on initialization.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database under dataPath.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "codechat.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			project_path TEXT NOT NULL,
			session_id TEXT,
			prompt TEXT,
			status TEXT NOT NULL,
			cost_usd REAL DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			num_turns INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_channel ON runs(channel_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records a finished run.
func (s *Store) SaveRun(run *Run) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, channel_id, project_path, session_id, prompt, status, cost_usd, duration_ms, num_turns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ChannelID, run.ProjectPath, run.SessionID, run.Prompt,
		run.Status, run.CostUSD, run.DurationMS, run.NumTurns, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs for a channel, newest first.
func (s *Store) RecentRuns(channelID string, limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_id, project_path, session_id, prompt, status, cost_usd, duration_ms, num_turns, created_at
		 FROM runs WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRuns(rows)
}

// RunsSince returns all runs created at or after the cutoff, newest first.
func (s *Store) RunsSince(cutoff time.Time) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_id, project_path, session_id, prompt, status, cost_usd, duration_ms, num_turns, created_at
		 FROM runs WHERE created_at >= ? ORDER BY created_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var sessionID, prompt sql.NullString
		if err := rows.Scan(
			&run.ID, &run.ChannelID, &run.ProjectPath, &sessionID, &prompt,
			&run.Status, &run.CostUSD, &run.DurationMS, &run.NumTurns, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.SessionID = sessionID.String
		run.Prompt = prompt.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/medprobe/internal/config"
	"github.com/studiowebux/medprobe/internal/e2e"
	"github.com/studiowebux/medprobe/internal/migrations"
)

const timestampLayout = "2006-01-02 15:04:05"

// Manager persists end-to-end runs in SQLite
type Manager struct {
	db *sql.DB
}

// NewManager opens (and migrates) the database at dbPath. ":memory:" is accepted.
func NewManager(dbPath string) (*Manager, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Save stores a report and its stage results, returning the run row id
func (m *Manager) Save(report *e2e.Report) (int64, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	passed, _, _ := report.Counts()
	res, err := tx.Exec(`
		INSERT INTO e2e_runs (run_uuid, base_url, started_at, duration_ms, status, stages_total, stages_passed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.BaseURL,
		report.StartedAt.Local().Format(timestampLayout),
		report.Duration.Milliseconds(),
		report.Status(),
		len(report.Results),
		passed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save e2e run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO e2e_steps (run_id, position, name, outcome, status_code, duration_ms, message, response_body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range report.Results {
		if _, err := stmt.Exec(runID, r.Position, r.Name, r.Outcome, r.Status, r.Duration.Milliseconds(), r.Message, r.Body); err != nil {
			return 0, fmt.Errorf("failed to save stage %q: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit e2e run: %w", err)
	}
	return runID, nil
}

// ListRuns returns the most recent runs first
func (m *Manager) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.Query(`
		SELECT id, run_uuid, base_url, started_at, duration_ms, status, stages_total, stages_passed
		FROM e2e_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list e2e runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun loads a run and its steps by row id
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow(`
		SELECT id, run_uuid, base_url, started_at, duration_ms, status, stages_total, stages_passed
		FROM e2e_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("e2e run %d not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := m.db.Query(`
		SELECT position, name, outcome, status_code, duration_ms, COALESCE(message, ''), COALESCE(response_body, '')
		FROM e2e_steps WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load e2e steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s e2e.StageResult
		var durationMs int64
		if err := rows.Scan(&s.Position, &s.Name, &s.Outcome, &s.Status, &durationMs, &s.Message, &s.Body); err != nil {
			return nil, fmt.Errorf("failed to scan e2e step: %w", err)
		}
		s.Duration = time.Duration(durationMs) * time.Millisecond
		run.Steps = append(run.Steps, s)
	}
	return run, rows.Err()
}

// Delete removes a run and its steps
func (m *Manager) Delete(id int64) error {
	if _, err := m.db.Exec("DELETE FROM e2e_steps WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete e2e steps: %w", err)
	}
	if _, err := m.db.Exec("DELETE FROM e2e_runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete e2e run: %w", err)
	}
	return nil
}

// GetCount returns the number of stored runs
func (m *Manager) GetCount() (int, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM e2e_runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get e2e run count: %w", err)
	}
	return count, nil
}

// DB exposes the connection, so the stress manager can share the file
func (m *Manager) DB() *sql.DB {
	return m.db
}

func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var startedAt string
	var durationMs int64
	err := s.Scan(&run.ID, &run.RunID, &run.BaseURL, &startedAt, &durationMs, &run.Status, &run.StagesTotal, &run.StagesPassed)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan e2e run: %w", err)
	}

	run.StartedAt = parseTimestamp(startedAt)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return &run, nil
}

// parseTimestamp reads the local-time layout SQLite rows are written with
func parseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation(timestampLayout, s, time.Local)
	if err == nil {
		return t
	}
	// the driver hands DATETIME columns back as UTC; the stored wall clock is local
	if t, err = time.Parse(time.RFC3339Nano, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
	}
	return time.Time{}
}

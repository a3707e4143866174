package stresstest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/medprobe/internal/migrations"
)

// Manager handles stress test data persistence
type Manager struct {
	db     *sql.DB
	shared bool
}

// NewManager opens (and migrates) the database at dbPath
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Manager{db: db}, nil
}

// NewManagerWithDB uses an already migrated connection; Close leaves it open
func NewManagerWithDB(db *sql.DB) *Manager {
	return &Manager{db: db, shared: true}
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.shared {
		return nil
	}
	return m.db.Close()
}

const configColumns = `id, name, workload, base_url, concurrent_connections, total_requests,
	ramp_up_duration_sec, test_duration_sec, timeout_ms, created_at, updated_at`

func scanConfig(s interface{ Scan(...any) error }) (*Config, error) {
	config := &Config{}
	var timeoutMs int64
	err := s.Scan(&config.ID, &config.Name, &config.Workload, &config.BaseURL,
		&config.ConcurrentConns, &config.TotalRequests, &config.RampUpDurationSec,
		&config.TestDurationSec, &timeoutMs, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}
	config.RequestTimeout = msDuration(timeoutMs)
	return config, nil
}

// SaveConfig saves or updates a stress test configuration
func (m *Manager) SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	timeoutMs := config.RequestTimeout.Milliseconds()

	if config.ID == 0 {
		result, err := m.db.Exec(`
			INSERT INTO stress_test_configs
			(name, workload, base_url, concurrent_connections, total_requests, ramp_up_duration_sec, test_duration_sec, timeout_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, config.Name, config.Workload, config.BaseURL, config.ConcurrentConns, config.TotalRequests,
			config.RampUpDurationSec, config.TestDurationSec, timeoutMs)
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		config.ID = id
		return nil
	}

	_, err := m.db.Exec(`
		UPDATE stress_test_configs
		SET name = ?, workload = ?, base_url = ?, concurrent_connections = ?, total_requests = ?,
		    ramp_up_duration_sec = ?, test_duration_sec = ?, timeout_ms = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, config.Name, config.Workload, config.BaseURL, config.ConcurrentConns, config.TotalRequests,
		config.RampUpDurationSec, config.TestDurationSec, timeoutMs, config.ID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	return nil
}

// GetConfig retrieves a config by ID
func (m *Manager) GetConfig(id int64) (*Config, error) {
	return scanConfig(m.db.QueryRow(`SELECT `+configColumns+` FROM stress_test_configs WHERE id = ?`, id))
}

// GetConfigByName retrieves a config by its unique name
func (m *Manager) GetConfigByName(name string) (*Config, error) {
	return scanConfig(m.db.QueryRow(`SELECT `+configColumns+` FROM stress_test_configs WHERE name = ?`, name))
}

// SaveNamedConfig stores config, reusing the record of an earlier config
// with the same name
func (m *Manager) SaveNamedConfig(config *Config) error {
	existing, err := m.GetConfigByName(config.Name)
	switch {
	case err == nil:
		config.ID = existing.ID
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to look up config %q: %w", config.Name, err)
	}
	return m.SaveConfig(config)
}

// CreateRun creates a new stress test run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO stress_test_runs
		(config_id, config_name, workload, base_url, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ConfigID, run.ConfigName, run.Workload, run.BaseURL, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates a stress test run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE stress_test_runs
		SET completed_at = ?, status = ?, total_requests_sent = ?, total_requests_completed = ?,
		    total_success = ?, total_errors = ?, total_validation_errors = ?,
		    avg_duration_ms = ?, stddev_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?, throughput_rps = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalRequestsSent, run.TotalRequestsCompleted,
		run.TotalSuccess, run.TotalErrors, run.TotalValidationErrors,
		run.AvgDurationMs, run.StdDevDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.ThroughputRPS, run.ID)
	return err
}

const runColumns = `id, config_id, config_name, workload, base_url, started_at, completed_at, status,
	total_requests_sent, total_requests_completed, COALESCE(total_success, 0), total_errors,
	COALESCE(total_validation_errors, 0), COALESCE(avg_duration_ms, 0), COALESCE(stddev_duration_ms, 0),
	COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0), COALESCE(p50_duration_ms, 0),
	COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0), COALESCE(throughput_rps, 0)`

func scanRun(s interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	var configID sql.NullInt64
	var completedAt sql.NullTime

	err := s.Scan(&run.ID, &configID, &run.ConfigName, &run.Workload, &run.BaseURL,
		&run.StartedAt, &completedAt, &run.Status, &run.TotalRequestsSent,
		&run.TotalRequestsCompleted, &run.TotalSuccess, &run.TotalErrors, &run.TotalValidationErrors,
		&run.AvgDurationMs, &run.StdDevDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs, &run.ThroughputRPS)
	if err != nil {
		return nil, err
	}

	if configID.Valid {
		run.ConfigID = &configID.Int64
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	return scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM stress_test_runs WHERE id = ?`, id))
}

// ListRuns returns stress runs, newest first. An empty workload lists all of them.
func (m *Manager) ListRuns(workload string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM stress_test_runs
		WHERE workload = ? OR ? = ''
		ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query, workload, workload)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a stress test run and all its metrics
func (m *Manager) DeleteRun(id int64) error {
	if _, err := m.db.Exec("DELETE FROM stress_test_metrics WHERE run_id = ?", id); err != nil {
		return err
	}
	_, err := m.db.Exec("DELETE FROM stress_test_runs WHERE id = ?", id)
	return err
}

// SaveMetricsBatch saves multiple metrics in a single transaction
func (m *Manager) SaveMetricsBatch(metrics []*Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stress_test_metrics
		(run_id, timestamp, elapsed_ms, sequence, status_code, duration_ms, error_message, validation_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		_, err := stmt.Exec(metric.RunID, metric.Timestamp, metric.ElapsedMs, metric.Sequence, metric.StatusCode,
			metric.DurationMs, nullString(metric.ErrorMessage), nullString(metric.ValidationError))
		if err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	return tx.Commit()
}

// GetMetrics retrieves all metrics for a run in completion order
func (m *Manager) GetMetrics(runID int64) ([]*Metric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, timestamp, elapsed_ms, sequence, status_code, duration_ms,
		       COALESCE(error_message, ''), COALESCE(validation_error, '')
		FROM stress_test_metrics
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		metric := &Metric{}
		err := rows.Scan(&metric.ID, &metric.RunID, &metric.Timestamp, &metric.ElapsedMs, &metric.Sequence,
			&metric.StatusCode, &metric.DurationMs, &metric.ErrorMessage, &metric.ValidationError)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// GetFailures returns the first limit failed samples stored for a run and
// the total number of failed samples
func (m *Manager) GetFailures(runID int64, limit int) ([]Failure, int, error) {
	metrics, err := m.GetMetrics(runID)
	if err != nil {
		return nil, 0, err
	}

	var failures []Failure
	total := 0
	for _, metric := range metrics {
		message := metric.ErrorMessage
		if message == "" {
			message = metric.ValidationError
		}
		if message == "" {
			continue
		}
		total++
		if len(failures) < limit {
			failures = append(failures, Failure{
				Sequence: metric.Sequence,
				Status:   metric.StatusCode,
				Duration: msDuration(metric.DurationMs),
				Message:  message,
			})
		}
	}
	return failures, total, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

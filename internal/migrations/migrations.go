package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add workload and status indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_stress_runs_workload ON stress_test_runs(workload, started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_e2e_runs_status ON e2e_runs(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_stress_runs_workload;
			DROP INDEX IF EXISTS idx_e2e_runs_status;
		`,
	},
	{
		Version: 2,
		Name:    "Add composite index for failed step lookups",
		Up: `
			-- Used by "runs show" to jump to the failing stage of an e2e run
			CREATE INDEX IF NOT EXISTS idx_e2e_steps_outcome ON e2e_steps(run_id, outcome);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_e2e_steps_outcome;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	-- Stress test tables
	CREATE TABLE IF NOT EXISTS stress_test_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		workload TEXT NOT NULL,
		base_url TEXT NOT NULL,
		concurrent_connections INTEGER NOT NULL DEFAULT 10,
		total_requests INTEGER NOT NULL DEFAULT 100,
		ramp_up_duration_sec INTEGER DEFAULT 0,
		test_duration_sec INTEGER DEFAULT 0,
		timeout_ms INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stress_test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER,
		config_name TEXT NOT NULL,
		workload TEXT NOT NULL,
		base_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		total_requests_sent INTEGER DEFAULT 0,
		total_requests_completed INTEGER DEFAULT 0,
		total_success INTEGER DEFAULT 0,
		total_errors INTEGER DEFAULT 0,
		total_validation_errors INTEGER DEFAULT 0,
		avg_duration_ms REAL DEFAULT 0,
		stddev_duration_ms REAL DEFAULT 0,
		min_duration_ms INTEGER DEFAULT 0,
		max_duration_ms INTEGER DEFAULT 0,
		p50_duration_ms INTEGER DEFAULT 0,
		p95_duration_ms INTEGER DEFAULT 0,
		p99_duration_ms INTEGER DEFAULT 0,
		throughput_rps REAL DEFAULT 0,
		FOREIGN KEY (config_id) REFERENCES stress_test_configs(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stress_runs_started_at ON stress_test_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_stress_runs_config_id ON stress_test_runs(config_id);
	CREATE INDEX IF NOT EXISTS idx_stress_runs_status ON stress_test_runs(status);

	CREATE TABLE IF NOT EXISTS stress_test_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		status_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error_message TEXT,
		validation_error TEXT,
		FOREIGN KEY (run_id) REFERENCES stress_test_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_stress_metrics_run_id ON stress_test_metrics(run_id);
	CREATE INDEX IF NOT EXISTS idx_stress_metrics_elapsed ON stress_test_metrics(run_id, elapsed_ms);

	-- End-to-end suite tables
	CREATE TABLE IF NOT EXISTS e2e_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uuid TEXT NOT NULL UNIQUE,
		base_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		stages_total INTEGER NOT NULL DEFAULT 0,
		stages_passed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_e2e_runs_started_at ON e2e_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS e2e_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		status_code INTEGER DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		response_body TEXT,
		FOREIGN KEY (run_id) REFERENCES e2e_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_e2e_steps_run_id ON e2e_steps(run_id, position);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}

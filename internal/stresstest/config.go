package stresstest

import (
	"fmt"
	"time"
)

const (
	// MaxConcurrentConns caps the worker pool
	MaxConcurrentConns = 5000
	// MaxTotalRequests caps a single run
	MaxTotalRequests = 1000000
	// DefaultRequestTimeout bounds each sample, setup calls excluded
	DefaultRequestTimeout = 10 * time.Second
	// DefaultFailureSamples is how many failures a run keeps for display
	DefaultFailureSamples = 20
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Config represents a stress test configuration
type Config struct {
	ID                int64         `json:"id,omitempty" yaml:"id,omitempty"`
	Name              string        `json:"name" yaml:"name"`
	Workload          string        `json:"workload" yaml:"workload"`
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	ConcurrentConns   int           `json:"concurrency" yaml:"concurrency"`
	TotalRequests     int           `json:"requests" yaml:"requests"`
	RampUpDurationSec int           `json:"ramp_up_sec,omitempty" yaml:"ramp_up_sec,omitempty"`
	TestDurationSec   int           `json:"duration_sec,omitempty" yaml:"duration_sec,omitempty"`
	RequestTimeout    time.Duration `json:"timeout" yaml:"timeout"`
	FailureSamples    int           `json:"-" yaml:"-"`
	CreatedAt         time.Time     `json:"-" yaml:"-"`
	UpdatedAt         time.Time     `json:"-" yaml:"-"`
}

// Run represents a stress test run record
type Run struct {
	ID                     int64      `json:"id" yaml:"id"`
	ConfigID               *int64     `json:"config_id,omitempty" yaml:"config_id,omitempty"`
	ConfigName             string     `json:"config_name" yaml:"config_name"`
	Workload               string     `json:"workload" yaml:"workload"`
	BaseURL                string     `json:"base_url" yaml:"base_url"`
	StartedAt              time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status                 string     `json:"status" yaml:"status"` // "running", "completed", "cancelled", "failed"
	TotalRequestsSent      int        `json:"requests_sent" yaml:"requests_sent"`
	TotalRequestsCompleted int        `json:"requests_completed" yaml:"requests_completed"`
	TotalSuccess           int        `json:"success" yaml:"success"`
	TotalErrors            int        `json:"errors" yaml:"errors"`
	TotalValidationErrors  int        `json:"validation_errors" yaml:"validation_errors"`
	AvgDurationMs          float64    `json:"avg_ms" yaml:"avg_ms"`
	StdDevDurationMs       float64    `json:"stddev_ms" yaml:"stddev_ms"`
	MinDurationMs          int64      `json:"min_ms" yaml:"min_ms"`
	MaxDurationMs          int64      `json:"max_ms" yaml:"max_ms"`
	P50DurationMs          int64      `json:"p50_ms" yaml:"p50_ms"`
	P95DurationMs          int64      `json:"p95_ms" yaml:"p95_ms"`
	P99DurationMs          int64      `json:"p99_ms" yaml:"p99_ms"`
	ThroughputRPS          float64    `json:"throughput_rps" yaml:"throughput_rps"`
}

// Metric represents a single sample of a stress test
type Metric struct {
	ID              int64
	RunID           int64
	Timestamp       time.Time
	ElapsedMs       int64
	Sequence        int
	StatusCode      int
	DurationMs      int64
	ErrorMessage    string
	ValidationError string
}

// Validate validates the stress test configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Workload == "" {
		return fmt.Errorf("workload is required")
	}
	if c.ConcurrentConns <= 0 {
		return fmt.Errorf("concurrent connections must be greater than 0")
	}
	if c.ConcurrentConns > MaxConcurrentConns {
		return fmt.Errorf("concurrent connections cannot exceed %d", MaxConcurrentConns)
	}
	if c.TotalRequests <= 0 {
		return fmt.Errorf("total requests must be greater than 0")
	}
	if c.TotalRequests > MaxTotalRequests {
		return fmt.Errorf("total requests cannot exceed 1,000,000")
	}
	if c.RampUpDurationSec < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.TestDurationSec < 0 {
		return fmt.Errorf("test duration cannot be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

// SettingsName names the config after its workload and load settings, so
// that runs made with the same settings share one stored config
func (c *Config) SettingsName() string {
	name := fmt.Sprintf("%s c%d n%d t%s", c.Workload, c.ConcurrentConns, c.TotalRequests, c.GetRequestTimeout())
	if c.RampUpDurationSec > 0 {
		name += fmt.Sprintf(" ramp%ds", c.RampUpDurationSec)
	}
	if c.TestDurationSec > 0 {
		name += fmt.Sprintf(" max%ds", c.TestDurationSec)
	}
	return name
}

// GetRampUpDuration returns the ramp-up duration as time.Duration
func (c *Config) GetRampUpDuration() time.Duration {
	return time.Duration(c.RampUpDurationSec) * time.Second
}

// GetTestDuration returns the test duration as time.Duration, 0 meaning unlimited
func (c *Config) GetTestDuration() time.Duration {
	if c.TestDurationSec == 0 {
		return 0
	}
	return time.Duration(c.TestDurationSec) * time.Second
}

// GetRequestTimeout returns the per-sample timeout
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c *Config) failureSamples() int {
	if c.FailureSamples <= 0 {
		return DefaultFailureSamples
	}
	return c.FailureSamples
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusFailed
}

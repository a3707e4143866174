// Package e2e runs the ordered end-to-end stages against a Medaryon
// deployment. Stages share a Fixture and the run stops at the first
// failure, since later stages depend on the records earlier ones create.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/medprobe/internal/types"
)

// Stage is one named step of the suite
type Stage struct {
	Name string
	Run  func(ctx context.Context, f *Fixture) error
}

// AssertionError reports an outcome that did not meet a stage's expectation
type AssertionError struct {
	Stage   string
	Message string
	Outcome *types.Outcome
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		fmt.Fprintf(&b, "%s: ", e.Stage)
	}
	b.WriteString(e.Message)
	if e.Outcome != nil {
		fmt.Fprintf(&b, " (status %d): %s", e.Outcome.Status, e.Outcome.String())
	}
	return b.String()
}

// Outcome of a stage
const (
	StagePassed  = "passed"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// StageResult is the report line of one stage
type StageResult struct {
	Position int           `json:"position" yaml:"position"`
	Name     string        `json:"name" yaml:"name"`
	Outcome  string        `json:"outcome" yaml:"outcome"`
	Status   int           `json:"status,omitempty" yaml:"status,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Body     string        `json:"body,omitempty" yaml:"body,omitempty"`
}

// Report is the result of a suite run
type Report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Results   []StageResult `json:"results" yaml:"results"`
	// Err is the error that stopped the run
	Err error `json:"-" yaml:"-"`
}

// Passed reports whether every stage passed
func (r *Report) Passed() bool {
	return r.Err == nil
}

// Counts returns the number of passed, failed and skipped stages
func (r *Report) Counts() (passed, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case StagePassed:
			passed++
		case StageFailed:
			failed++
		case StageSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}

// FirstFailure returns the failing stage, or nil
func (r *Report) FirstFailure() *StageResult {
	for i := range r.Results {
		if r.Results[i].Outcome == StageFailed {
			return &r.Results[i]
		}
	}
	return nil
}

// Status is "passed", "failed" or "cancelled"
func (r *Report) Status() string {
	switch {
	case r.Err == nil:
		return "passed"
	case errors.Is(r.Err, context.Canceled):
		return "cancelled"
	default:
		return "failed"
	}
}

// Suite runs stages in order and stops at the first failure
type Suite struct {
	Stages []Stage
	Log    logrus.FieldLogger
	// OnStage is called after each executed stage, for progress output
	OnStage func(StageResult)
}

// NewSuite returns a suite running stages. A nil logger uses the standard logger.
func NewSuite(stages []Stage, logger logrus.FieldLogger) *Suite {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Suite{Stages: stages, Log: logger}
}

// Run executes the stages against f. Stages after a failure are reported
// as skipped and never run.
func (s *Suite) Run(ctx context.Context, f *Fixture) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Results:   make([]StageResult, 0, len(s.Stages)),
	}
	if f.API != nil {
		report.BaseURL = f.API.Client().BaseURL()
	}
	log := s.Log.WithField("run", report.RunID)

	for i, stage := range s.Stages {
		result := StageResult{Position: i + 1, Name: stage.Name}

		if report.Err != nil {
			result.Outcome = StageSkipped
			report.Results = append(report.Results, result)
			continue
		}

		f.last = nil
		start := time.Now()
		err := stage.Run(ctx, f)
		if err == nil {
			err = ctx.Err()
		}
		result.Duration = time.Since(start)
		if last := f.Last(); last != nil {
			result.Status = last.Status
		}

		entry := log.WithFields(logrus.Fields{"stage": stage.Name, "status": result.Status, "duration": result.Duration})
		if err != nil {
			var assertErr *AssertionError
			if errors.As(err, &assertErr) && assertErr.Stage == "" {
				assertErr.Stage = stage.Name
			}
			result.Outcome = StageFailed
			result.Message = err.Error()
			if last := f.Last(); last != nil {
				result.Body = last.String()
			}
			report.Err = fmt.Errorf("stage %d (%s): %w", i+1, stage.Name, err)
			entry.WithError(err).Error("Stage failed")
		} else {
			result.Outcome = StagePassed
			entry.Debug("Stage passed")
		}

		report.Results = append(report.Results, result)
		if s.OnStage != nil {
			s.OnStage(result)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	return report
}

package stresstest

import (
	"math"
	"sort"
	"time"
)

// Failure is a retained failed sample, shown after a run
type Failure struct {
	Sequence int           `json:"sequence" yaml:"sequence"`
	Status   int           `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Message  string        `json:"message" yaml:"message"`
	// Err is the transport error of a live sample; stored samples only keep Message
	Err error `json:"-" yaml:"-"`
}

// Stats holds runtime statistics for a stress test.
// Latency figures only cover successful samples.
type Stats struct {
	TotalRequests        int
	CompletedRequests    int
	ErrorCount           int // Network errors (timeouts, connection failures)
	ValidationErrorCount int // Unexpected status
	SuccessCount         int
	ActiveWorkers        int
	Durations            []time.Duration
	TotalDuration        time.Duration
	MinDuration          time.Duration
	MaxDuration          time.Duration
	Elapsed              time.Duration
	Failures             []Failure
	MaxFailures          int
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:   make([]time.Duration, 0, 1000),
		MinDuration: -1,
		MaxDuration: -1,
		MaxFailures: DefaultFailureSamples,
	}
}

// AddResult records one sample
func (s *Stats) AddResult(seq int, sample Sample) {
	s.CompletedRequests++

	switch {
	case sample.IsNetworkError():
		s.ErrorCount++
		s.addFailure(seq, sample)
		return
	case sample.Invalid != "":
		s.ValidationErrorCount++
		s.addFailure(seq, sample)
		return
	}

	s.SuccessCount++
	d := sample.Duration
	s.TotalDuration += d
	s.Durations = append(s.Durations, d)
	if s.MinDuration == -1 || d < s.MinDuration {
		s.MinDuration = d
	}
	if s.MaxDuration == -1 || d > s.MaxDuration {
		s.MaxDuration = d
	}
}

func (s *Stats) addFailure(seq int, sample Sample) {
	if len(s.Failures) >= s.MaxFailures {
		return
	}
	s.Failures = append(s.Failures, Failure{
		Sequence: seq,
		Status:   sample.Status,
		Duration: sample.Duration,
		Message:  sample.Message(),
		Err:      sample.Err,
	})
}

// Clone returns a deep copy
func (s *Stats) Clone() *Stats {
	c := *s
	c.Durations = make([]time.Duration, len(s.Durations))
	copy(c.Durations, s.Durations)
	c.Failures = make([]Failure, len(s.Failures))
	copy(c.Failures, s.Failures)
	return &c
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// AvgDurationMs returns the mean latency of successful samples
func (s *Stats) AvgDurationMs() float64 {
	if s.SuccessCount == 0 {
		return 0
	}
	return ms(s.TotalDuration) / float64(s.SuccessCount)
}

// StdDevDurationMs returns the population standard deviation of successful latencies
func (s *Stats) StdDevDurationMs() float64 {
	if len(s.Durations) == 0 {
		return 0
	}
	mean := s.AvgDurationMs()
	var sum float64
	for _, d := range s.Durations {
		diff := ms(d) - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(s.Durations)))
}

// Min returns the minimum duration in ms, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDuration == -1 {
		return 0
	}
	return s.MinDuration.Milliseconds()
}

// Max returns the maximum duration in ms, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDuration == -1 {
		return 0
	}
	return s.MaxDuration.Milliseconds()
}

// Percentile calculates the percentile value in ms (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1].Milliseconds()
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(ms(sorted[lower])*(1-weight) + ms(sorted[upper])*weight)
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

// Throughput returns completed samples per second of wall time
func (s *Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.CompletedRequests) / s.Elapsed.Seconds()
}

// FailureCount returns network plus validation errors
func (s *Stats) FailureCount() int {
	return s.ErrorCount + s.ValidationErrorCount
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.CompletedRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CompletedRequests) * 100
}

// ErrorRate returns the network error rate as a percentage
func (s *Stats) ErrorRate() float64 {
	if s.CompletedRequests == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.CompletedRequests) * 100
}

// Progress returns the completion progress as a percentage
func (s *Stats) Progress() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CompletedRequests) / float64(s.TotalRequests) * 100
}

package stresstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ShutdownGracePeriod bounds how long in-flight samples may keep running after a stop
	ShutdownGracePeriod = 2 * time.Second
	// SetupTimeout bounds the fixture calls made before the first sample
	SetupTimeout = 30 * time.Second

	metricsBatchSize = 100
)

// RequestTask represents a single sample to be executed
type RequestTask struct {
	SequenceNum int
	StartOffset time.Duration
}

// RequestResult represents the result of a single sample
type RequestResult struct {
	SequenceNum int
	Sample      Sample
	ElapsedMs   int64
	Timestamp   time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithManager persists the run and its samples
func WithManager(m *Manager) Option {
	return func(e *Executor) { e.manager = m }
}

// WithMetrics updates the Prometheus collectors while the run progresses
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger used for run lifecycle events
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = l }
}

// Executor handles concurrent stress test execution
type Executor struct {
	config   *Config
	workload Workload
	manager  *Manager
	metrics  *Metrics
	log      logrus.FieldLogger

	run        *Run
	stats      *Stats
	ctx        context.Context
	cancelFunc context.CancelFunc

	wg            sync.WaitGroup
	workersReady  sync.WaitGroup
	requestChan   chan *RequestTask
	resultChan    chan *RequestResult
	closeOnce     sync.Once
	abandon       chan struct{}
	collectorDone chan struct{}
	finalizeOnce  sync.Once
	finished      chan struct{}

	testStart       time.Time
	statsMu         sync.Mutex
	requestsSent    int
	activeWorkers   int32
	durationReached atomic.Bool
	metricsBuf      []*Metric
}

// NewExecutor prepares a run of workload. Cancelling ctx stops the run,
// which is then finalized as cancelled.
func NewExecutor(ctx context.Context, config *Config, workload Workload, opts ...Option) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	e := &Executor{
		config:        config,
		workload:      workload,
		log:           logrus.StandardLogger(),
		ctx:           runCtx,
		cancelFunc:    cancel,
		requestChan:   make(chan *RequestTask, config.ConcurrentConns*2),
		resultChan:    make(chan *RequestResult, config.ConcurrentConns*2),
		abandon:       make(chan struct{}),
		collectorDone: make(chan struct{}),
		finished:      make(chan struct{}),
		metricsBuf:    make([]*Metric, 0, metricsBatchSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithFields(logrus.Fields{"workload": workload.Name(), "config": config.Name})

	e.run = &Run{
		ConfigName: config.Name,
		Workload:   workload.Name(),
		BaseURL:    config.BaseURL,
		StartedAt:  time.Now(),
		Status:     StatusRunning,
	}
	if config.ID > 0 {
		e.run.ConfigID = &config.ID
	}
	if e.manager != nil {
		if err := e.manager.CreateRun(e.run); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
	}

	e.stats = NewStats()
	e.stats.TotalRequests = config.TotalRequests
	e.stats.MaxFailures = config.failureSamples()
	return e, nil
}

// Start runs the workload setup, then launches the workers. A setup
// failure finalizes the run as failed.
func (e *Executor) Start() error {
	setupCtx, cancel := context.WithTimeout(e.ctx, SetupTimeout)
	err := e.workload.Setup(setupCtx)
	cancel()
	if err != nil {
		status := StatusFailed
		if e.ctx.Err() != nil {
			status = StatusCancelled
		}
		close(e.collectorDone)
		e.finalize(status)
		return fmt.Errorf("%s setup: %w", e.workload.Name(), err)
	}
	if t, ok := e.workload.(SetupTimer); ok {
		for _, timing := range t.SetupTimings() {
			e.log.WithFields(logrus.Fields{"step": timing.Step, "duration": timing.Duration}).Debug("Setup call")
		}
	}

	e.statsMu.Lock()
	e.testStart = time.Now()
	e.statsMu.Unlock()
	e.log.WithFields(logrus.Fields{
		"concurrency": e.config.ConcurrentConns,
		"requests":    e.config.TotalRequests,
	}).Info("Stress run started")

	// Signal we need N workers to be ready before scheduling
	e.workersReady.Add(e.config.ConcurrentConns)
	for i := 0; i < e.config.ConcurrentConns; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	go e.collectResults()

	go func() {
		done := make(chan struct{})
		go func() {
			e.workersReady.Wait()
			close(done)
		}()

		select {
		case <-done:
			e.scheduleRequests()
		case <-e.ctx.Done():
			close(e.requestChan)
		}
	}()

	if d := e.config.GetTestDuration(); d > 0 {
		go e.durationTimer(d)
	}
	return nil
}

// Run starts the executor and waits for it to finish
func (e *Executor) Run() (*Run, error) {
	if err := e.Start(); err != nil {
		return e.run, err
	}
	e.Wait()
	return e.run, nil
}

func (e *Executor) durationTimer(duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		e.durationReached.Store(true)
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// Stop cancels the run and waits for it to be finalized
func (e *Executor) Stop() {
	e.cancelFunc()
	e.Wait()
}

func (e *Executor) closeResultChan() {
	e.closeOnce.Do(func() {
		close(e.resultChan)
	})
}

// Wait blocks until every scheduled sample has been processed or the run
// was stopped, then finalizes the run record. After a stop, workers still
// busy past ShutdownGracePeriod are abandoned.
func (e *Executor) Wait() {
	select {
	case <-e.finished:
		return
	default:
	}

	workersDone := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		e.closeResultChan()
	case <-e.ctx.Done():
		select {
		case <-workersDone:
			e.closeResultChan()
		case <-time.After(ShutdownGracePeriod):
			e.log.Warn("Workers still busy after grace period, abandoning them")
			close(e.abandon)
		}
	}
	<-e.collectorDone

	status := StatusCompleted
	e.statsMu.Lock()
	completed := e.stats.CompletedRequests
	e.statsMu.Unlock()

	if completed < e.config.TotalRequests && !e.durationReached.Load() {
		status = StatusCancelled
	}
	e.finalize(status)
}

// Done is closed once the run has been finalized
func (e *Executor) Done() <-chan struct{} {
	return e.finished
}

// GetStats returns a snapshot of the current statistics
func (e *Executor) GetStats() *Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	snapshot := e.stats.Clone()
	snapshot.TotalRequests = e.config.TotalRequests
	snapshot.ActiveWorkers = int(atomic.LoadInt32(&e.activeWorkers))
	if !e.isFinished() && !e.testStart.IsZero() {
		snapshot.Elapsed = time.Since(e.testStart)
	}
	return snapshot
}

// GetRun returns the run record
func (e *Executor) GetRun() *Run {
	return e.run
}

// Config returns the run configuration
func (e *Executor) Config() *Config {
	return e.config
}

// Workload returns the workload being executed
func (e *Executor) Workload() Workload {
	return e.workload
}

func (e *Executor) isFinished() bool {
	select {
	case <-e.finished:
		return true
	default:
		return false
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()

	e.workersReady.Done()
	name := e.workload.Name()

	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.requestChan:
			if !ok {
				return
			}

			if wait := time.Until(e.testStart.Add(task.StartOffset)); task.StartOffset > 0 && wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-e.ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			atomic.AddInt32(&e.activeWorkers, 1)
			e.metrics.inFlight(name, 1)
			sample := e.workload.Execute(e.ctx, task.SequenceNum)
			e.metrics.inFlight(name, -1)
			atomic.AddInt32(&e.activeWorkers, -1)

			// samples cut short by a stop are not counted
			if e.ctx.Err() != nil {
				return
			}
			e.metrics.observe(name, sample)

			result := &RequestResult{
				SequenceNum: task.SequenceNum,
				Sample:      sample,
				ElapsedMs:   time.Since(e.testStart).Milliseconds(),
				Timestamp:   time.Now(),
			}
			select {
			case <-e.ctx.Done():
				return
			case e.resultChan <- result:
			}
		}
	}
}

// scheduleRequests queues every sample, spreading them over the ramp-up window
func (e *Executor) scheduleRequests() {
	rampUpPerRequest := time.Duration(0)
	totalRequests := e.config.TotalRequests
	if rampUp := e.config.GetRampUpDuration(); rampUp > 0 && totalRequests > 0 {
		rampUpPerRequest = rampUp / time.Duration(totalRequests)
	}

	defer close(e.requestChan)
	for i := 0; i < totalRequests; i++ {
		select {
		case <-e.ctx.Done():
			return
		case e.requestChan <- &RequestTask{
			SequenceNum: i,
			StartOffset: time.Duration(i) * rampUpPerRequest,
		}:
			e.statsMu.Lock()
			e.requestsSent++
			e.statsMu.Unlock()
		}
	}
}

// collectResults is the only writer of the stats
func (e *Executor) collectResults() {
	defer close(e.collectorDone)
	for {
		select {
		case result, ok := <-e.resultChan:
			if !ok {
				e.flushMetrics()
				return
			}
			e.record(result)
		case <-e.abandon:
			for {
				select {
				case result, ok := <-e.resultChan:
					if !ok {
						e.flushMetrics()
						return
					}
					e.record(result)
				default:
					e.flushMetrics()
					return
				}
			}
		}
	}
}

func (e *Executor) record(result *RequestResult) {
	s := result.Sample

	e.statsMu.Lock()
	e.stats.AddResult(result.SequenceNum, s)
	e.statsMu.Unlock()

	if e.manager == nil {
		return
	}
	metric := &Metric{
		RunID:      e.run.ID,
		Timestamp:  result.Timestamp,
		ElapsedMs:  result.ElapsedMs,
		Sequence:   result.SequenceNum,
		StatusCode: s.Status,
		DurationMs: s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		metric.ErrorMessage = s.Err.Error()
	} else if s.Invalid != "" {
		metric.ValidationError = s.Invalid
	}
	e.metricsBuf = append(e.metricsBuf, metric)

	if len(e.metricsBuf) >= metricsBatchSize {
		e.flushMetrics()
	}
}

func (e *Executor) flushMetrics() {
	if len(e.metricsBuf) == 0 || e.manager == nil {
		return
	}
	if err := e.manager.SaveMetricsBatch(e.metricsBuf); err != nil {
		e.log.WithError(err).Warn("Failed to save metrics")
	}
	e.metricsBuf = e.metricsBuf[:0]
}

// finalize completes the run record with final statistics
func (e *Executor) finalize(status string) {
	e.finalizeOnce.Do(func() {
		e.statsMu.Lock()
		now := time.Now()
		if !e.testStart.IsZero() {
			e.stats.Elapsed = now.Sub(e.testStart)
		}

		e.run.CompletedAt = &now
		e.run.Status = status
		e.run.TotalRequestsSent = e.requestsSent
		e.run.TotalRequestsCompleted = e.stats.CompletedRequests
		e.run.TotalSuccess = e.stats.SuccessCount
		e.run.TotalErrors = e.stats.ErrorCount
		e.run.TotalValidationErrors = e.stats.ValidationErrorCount
		e.run.AvgDurationMs = e.stats.AvgDurationMs()
		e.run.StdDevDurationMs = e.stats.StdDevDurationMs()
		e.run.MinDurationMs = e.stats.Min()
		e.run.MaxDurationMs = e.stats.Max()
		e.run.P50DurationMs = e.stats.P50()
		e.run.P95DurationMs = e.stats.P95()
		e.run.P99DurationMs = e.stats.P99()
		e.run.ThroughputRPS = e.stats.Throughput()
		e.statsMu.Unlock()

		if e.manager != nil {
			if err := e.manager.UpdateRun(e.run); err != nil {
				e.log.WithError(err).Warn("Failed to update run record")
			}
		}
		e.log.WithFields(logrus.Fields{
			"status":    status,
			"completed": e.run.TotalRequestsCompleted,
			"errors":    e.run.TotalErrors + e.run.TotalValidationErrors,
		}).Info("Stress run finished")

		e.cancelFunc()
		close(e.finished)
	})
}

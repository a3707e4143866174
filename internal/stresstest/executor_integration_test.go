package stresstest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	manager, err := NewManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test manager: %v", err)
	}
	return manager
}

// getMetricsCount returns the total count of metrics for a run
func getMetricsCount(t *testing.T, manager *Manager, runID int64) int {
	var count int
	err := manager.db.QueryRow("SELECT COUNT(*) FROM stress_test_metrics WHERE run_id = ?", runID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count metrics: %v", err)
	}
	return count
}

func newTestClient(t *testing.T, baseURL string, conns int) *executor.Client {
	noRetry := executor.NoRetry()
	client, err := executor.NewClient(executor.ClientConfig{
		BaseURL:  baseURL,
		Timeout:  2 * time.Second,
		Retry:    &noRetry,
		MaxConns: conns,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

// helloAgainst builds the hello workload aimed at the root of baseURL
func helloAgainst(t *testing.T, baseURL string, conns int) Workload {
	client := newTestClient(t, baseURL, conns)
	w, err := NewWorkload("hello", medaryon.New(client), Options{Hello: client})
	if err != nil {
		t.Fatalf("Failed to create workload: %v", err)
	}
	return w
}

func okJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"message":"Hello, world!"}`))
}

// TestExecutor_BasicExecution tests basic stress test execution
func TestExecutor_BasicExecution(t *testing.T) {
	requestCount := int64(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requestCount, 1)
		okJSON(w)
	}))
	defer server.Close()

	manager := createTestManager(t)
	defer manager.Close()

	config := &Config{
		Name:            "test-basic",
		Workload:        "hello",
		BaseURL:         server.URL,
		ConcurrentConns: 5,
		TotalRequests:   50,
	}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 5),
		WithManager(manager), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	run, err := exec.Run()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	stats := exec.GetStats()
	if stats.CompletedRequests != 50 {
		t.Errorf("Expected 50 completed requests, got: %d", stats.CompletedRequests)
	}
	if stats.SuccessCount != 50 {
		t.Errorf("Expected 50 successes, got: %d", stats.SuccessCount)
	}
	if stats.ErrorCount != 0 {
		t.Errorf("Expected 0 errors, got: %d", stats.ErrorCount)
	}
	if got := atomic.LoadInt64(&requestCount); got != 50 {
		t.Errorf("Expected server to receive 50 requests, got: %d", got)
	}

	if run.Status != StatusCompleted {
		t.Errorf("Expected status 'completed', got: %s", run.Status)
	}
	if run.TotalRequestsSent != 50 || run.TotalRequestsCompleted != 50 || run.TotalSuccess != 50 {
		t.Errorf("Unexpected run totals: %+v", run)
	}
	if run.ThroughputRPS <= 0 {
		t.Errorf("Expected positive throughput, got: %f", run.ThroughputRPS)
	}

	stored, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if stored.Status != StatusCompleted || stored.Workload != "hello" || stored.TotalSuccess != 50 {
		t.Errorf("Stored run does not match: %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
	if count := getMetricsCount(t, manager, run.ID); count != 50 {
		t.Errorf("Expected 50 metrics, got: %d", count)
	}

	select {
	case <-exec.Done():
	default:
		t.Error("Expected Done to be closed after Run")
	}
}

// TestExecutor_ConcurrentWorkers verifies the pool bounds parallelism
func TestExecutor_ConcurrentWorkers(t *testing.T) {
	var current, peak int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		okJSON(w)
	}))
	defer server.Close()

	config := &Config{Name: "test-concurrency", Workload: "hello", BaseURL: server.URL, ConcurrentConns: 4, TotalRequests: 40}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 4), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	if _, err := exec.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if p := atomic.LoadInt32(&peak); p > 4 {
		t.Errorf("Expected at most 4 concurrent requests, saw %d", p)
	} else if p < 2 {
		t.Errorf("Expected requests to overlap, peak was %d", p)
	}
	if got := exec.GetStats().SuccessCount; got != 40 {
		t.Errorf("Expected 40 successes, got: %d", got)
	}
}

// TestExecutor_StatusCodeValidation counts unexpected statuses separately from network errors
func TestExecutor_StatusCodeValidation(t *testing.T) {
	requestNum := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestNum, 1)%2 == 0 {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		okJSON(w)
	}))
	defer server.Close()

	manager := createTestManager(t)
	defer manager.Close()

	config := &Config{Workload: "hello", BaseURL: server.URL, ConcurrentConns: 1, TotalRequests: 60}
	config.Name = config.SettingsName()
	if err := manager.SaveNamedConfig(config); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 1),
		WithManager(manager), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	run, _ := exec.Run()

	stats := exec.GetStats()
	if stats.SuccessCount != 30 {
		t.Errorf("Expected 30 successes, got: %d", stats.SuccessCount)
	}
	if stats.ValidationErrorCount != 30 {
		t.Errorf("Expected 30 validation errors, got: %d", stats.ValidationErrorCount)
	}
	if stats.ErrorCount != 0 {
		t.Errorf("Expected 0 network errors, got: %d", stats.ErrorCount)
	}
	if len(stats.Failures) != DefaultFailureSamples {
		t.Errorf("Expected %d retained failures, got: %d", DefaultFailureSamples, len(stats.Failures))
	}
	if f := stats.Failures[0]; f.Status != 500 || !strings.Contains(f.Message, "boom") {
		t.Errorf("Unexpected failure sample: %+v", f)
	}
	if len(stats.Durations) != 30 {
		t.Errorf("Latencies must only cover successes, got %d", len(stats.Durations))
	}

	metrics, err := manager.GetMetrics(run.ID)
	if err != nil {
		t.Fatalf("Failed to load metrics: %v", err)
	}
	invalid := 0
	for _, m := range metrics {
		if m.ValidationError != "" {
			invalid++
		}
	}
	if invalid != 30 {
		t.Errorf("Expected 30 stored validation errors, got: %d", invalid)
	}

	stored, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if stored.ConfigID == nil || *stored.ConfigID != config.ID {
		t.Errorf("Expected run to reference config %d, got %v", config.ID, stored.ConfigID)
	}
	failures, total, err := manager.GetFailures(run.ID, DefaultFailureSamples)
	if err != nil {
		t.Fatalf("Failed to load failures: %v", err)
	}
	if total != 30 || len(failures) != DefaultFailureSamples {
		t.Errorf("Expected %d of 30 stored failures, got %d of %d", DefaultFailureSamples, len(failures), total)
	}
	if failures[0].Status != 500 || !strings.Contains(failures[0].Message, "boom") {
		t.Errorf("Unexpected stored failure: %+v", failures[0])
	}
}

// TestExecutor_NetworkErrors tests handling of an unreachable host
func TestExecutor_NetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	config := &Config{Name: "test-network", Workload: "hello", BaseURL: url, ConcurrentConns: 2, TotalRequests: 6}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, url, 2), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	run, _ := exec.Run()

	stats := exec.GetStats()
	if stats.ErrorCount != 6 {
		t.Errorf("Expected 6 network errors, got: %d", stats.ErrorCount)
	}
	if stats.SuccessCount != 0 {
		t.Errorf("Expected 0 successes, got: %d", stats.SuccessCount)
	}
	if stats.Failures[0].Status != 599 {
		t.Errorf("Expected status 599 on failure sample, got: %d", stats.Failures[0].Status)
	}
	if stats.Failures[0].Err == nil {
		t.Error("Expected the failure sample to keep the transport error")
	}
	if run.AvgDurationMs != 0 || run.P95DurationMs != 0 {
		t.Errorf("Expected empty latency figures without successes: %+v", run)
	}
}

// TestExecutor_ContextCancellation stops a run through its parent context
func TestExecutor_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
		okJSON(w)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{Name: "test-cancel", Workload: "hello", BaseURL: server.URL, ConcurrentConns: 2, TotalRequests: 100}
	exec, err := NewExecutor(ctx, config, helloAgainst(t, server.URL, 2), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	if err := exec.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	exec.Wait()
	if waited := time.Since(start); waited > ShutdownGracePeriod+time.Second {
		t.Errorf("Wait took too long after cancellation: %v", waited)
	}

	run := exec.GetRun()
	if run.Status != StatusCancelled {
		t.Errorf("Expected status 'cancelled', got: %s", run.Status)
	}
	if run.TotalRequestsCompleted >= 100 {
		t.Errorf("Expected fewer than 100 completed requests, got: %d", run.TotalRequestsCompleted)
	}
}

// stubbornWorkload ignores cancellation while executing
type stubbornWorkload struct {
	delay time.Duration
}

func (w stubbornWorkload) Name() string                    { return "stubborn" }
func (w stubbornWorkload) Setup(ctx context.Context) error { return nil }
func (w stubbornWorkload) Execute(ctx context.Context, seq int) Sample {
	time.Sleep(w.delay)
	return Sample{Status: 200, Duration: w.delay}
}

// TestExecutor_GracePeriodAbandonsBusyWorkers bounds Wait when samples ignore the stop
func TestExecutor_GracePeriodAbandonsBusyWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := &Config{Name: "test-grace", Workload: "stubborn", BaseURL: "http://unused", ConcurrentConns: 3, TotalRequests: 30}
	exec, err := NewExecutor(ctx, config, stubbornWorkload{delay: 3 * ShutdownGracePeriod}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	if err := exec.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	exec.Wait()
	waited := time.Since(start)
	if waited < ShutdownGracePeriod {
		t.Errorf("Wait returned before the grace period: %v", waited)
	}
	if waited > ShutdownGracePeriod+time.Second {
		t.Errorf("Wait exceeded the grace period: %v", waited)
	}

	run := exec.GetRun()
	if run.Status != StatusCancelled {
		t.Errorf("Expected status 'cancelled', got: %s", run.Status)
	}
	if run.TotalRequestsCompleted != 0 {
		t.Errorf("Expected no completed samples, got: %d", run.TotalRequestsCompleted)
	}
	select {
	case <-exec.Done():
	default:
		t.Error("Expected Done to be closed after Wait")
	}
}

// TestExecutor_Stop cancels from the executor itself
func TestExecutor_Stop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		okJSON(w)
	}))
	defer server.Close()

	config := &Config{Name: "test-stop", Workload: "hello", BaseURL: server.URL, ConcurrentConns: 1, TotalRequests: 1000}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 1), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	if err := exec.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	exec.Stop()

	if exec.GetRun().Status != StatusCancelled {
		t.Errorf("Expected status 'cancelled', got: %s", exec.GetRun().Status)
	}
	// a second Wait returns at once
	exec.Wait()
}

// TestExecutor_RampUp spreads requests over the ramp-up window
func TestExecutor_RampUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okJSON(w)
	}))
	defer server.Close()

	config := &Config{
		Name:              "test-rampup",
		Workload:          "hello",
		BaseURL:           server.URL,
		ConcurrentConns:   10,
		TotalRequests:     10,
		RampUpDurationSec: 1,
	}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 10), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	start := time.Now()
	run, _ := exec.Run()
	elapsed := time.Since(start)

	// last request starts at 9/10 of the window
	if elapsed < 800*time.Millisecond {
		t.Errorf("Expected ramp-up to take ~900ms, took: %v", elapsed)
	}
	if run.TotalSuccess != 10 {
		t.Errorf("Expected 10 successes, got: %d", run.TotalSuccess)
	}
}

// TestExecutor_DurationBasedTest ends the run when the duration elapses
func TestExecutor_DurationBasedTest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		okJSON(w)
	}))
	defer server.Close()

	config := &Config{
		Name:            "test-duration",
		Workload:        "hello",
		BaseURL:         server.URL,
		ConcurrentConns: 2,
		TotalRequests:   100000,
		TestDurationSec: 1,
	}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 2), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	start := time.Now()
	run, _ := exec.Run()
	if elapsed := time.Since(start); elapsed > 1*time.Second+ShutdownGracePeriod+time.Second {
		t.Errorf("Duration limit not honored, took: %v", elapsed)
	}
	if run.Status != StatusCompleted {
		t.Errorf("Expected status 'completed' when duration is reached, got: %s", run.Status)
	}
	if run.TotalRequestsCompleted == 0 || run.TotalRequestsCompleted >= 100000 {
		t.Errorf("Unexpected completed count: %d", run.TotalRequestsCompleted)
	}
}

// TestExecutor_PrometheusCollectors checks the collectors follow the samples
func TestExecutor_PrometheusCollectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okJSON(w)
	}))
	defer server.Close()

	metrics := NewMetrics()
	config := &Config{Name: "test-prom", Workload: "hello", BaseURL: server.URL, ConcurrentConns: 3, TotalRequests: 12}
	exec, err := NewExecutor(context.Background(), config, helloAgainst(t, server.URL, 3),
		WithMetrics(metrics), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	exec.Run()

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("hello", "200")); got != 12 {
		t.Errorf("Expected 12 requests counted, got: %v", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsInFlight.WithLabelValues("hello")); got != 0 {
		t.Errorf("Expected no request in flight, got: %v", got)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "medprobe_stress_request_duration_seconds") {
		t.Error("Expected latency histogram in exposition output")
	}
}

func newMockAPI(t *testing.T, wrap func(http.Handler) http.Handler) (*medaryon.API, string) {
	t.Helper()
	handler := mock.NewServer(&mock.Config{}, quietLogger()).Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return medaryon.New(newTestClient(t, server.URL, 8)), server.URL
}

// TestExecutor_MedaryonWorkloads runs every built-in workload against the fake server
func TestExecutor_MedaryonWorkloads(t *testing.T) {
	for _, name := range WorkloadNames() {
		t.Run(name, func(t *testing.T) {
			api, baseURL := newMockAPI(t, nil)
			workload, err := NewWorkload(name, api, Options{})
			if err != nil {
				t.Fatalf("Failed to create workload: %v", err)
			}

			config := &Config{Name: name, Workload: name, BaseURL: baseURL, ConcurrentConns: 4, TotalRequests: 20}
			exec, err := NewExecutor(context.Background(), config, workload, WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("Failed to create executor: %v", err)
			}
			run, err := exec.Run()
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if run.TotalSuccess != 20 {
				t.Errorf("Expected 20 successes, got %d (failures: %+v)", run.TotalSuccess, exec.GetStats().Failures)
			}

			timer, ok := workload.(SetupTimer)
			switch name {
			case "availability", "appointments":
				if !ok || len(timer.SetupTimings()) < 3 {
					t.Errorf("Expected setup timings for %s", name)
				}
			}
		})
	}
}

// TestExecutor_SetupFailureFailsRun reports fixture errors before any sample
func TestExecutor_SetupFailureFailsRun(t *testing.T) {
	api, baseURL := newMockAPI(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/availability" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"message":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	workload, _ := NewWorkload("appointments", api, Options{})

	manager := createTestManager(t)
	defer manager.Close()

	config := &Config{Name: "setup", Workload: "appointments", BaseURL: baseURL, ConcurrentConns: 1, TotalRequests: 5}
	exec, err := NewExecutor(context.Background(), config, workload, WithManager(manager), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	run, err := exec.Run()
	if err == nil {
		t.Fatal("Expected setup error")
	}
	if !strings.Contains(err.Error(), "availability") {
		t.Errorf("Unexpected error: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("Expected status 'failed', got: %s", run.Status)
	}
	if run.TotalRequestsSent != 0 {
		t.Errorf("Expected no samples, got: %d", run.TotalRequestsSent)
	}
}

// TestExecutor_UsersWorkloadReportsFailingStep names the call that failed
func TestExecutor_UsersWorkloadReportsFailingStep(t *testing.T) {
	var mu sync.Mutex
	logins := 0
	api, baseURL := newMockAPI(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/users/login" {
				mu.Lock()
				logins++
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"message":"auth down"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	workload, _ := NewWorkload("users", api, Options{})

	config := &Config{Name: "users", Workload: "users", BaseURL: baseURL, ConcurrentConns: 2, TotalRequests: 4}
	exec, _ := NewExecutor(context.Background(), config, workload, WithLogger(quietLogger()))
	exec.Run()

	stats := exec.GetStats()
	if stats.ValidationErrorCount != 4 {
		t.Errorf("Expected 4 validation errors, got: %d", stats.ValidationErrorCount)
	}
	if !strings.HasPrefix(stats.Failures[0].Message, "login: unexpected status 503") {
		t.Errorf("Unexpected failure message: %q", stats.Failures[0].Message)
	}
	if logins != 4 {
		t.Errorf("Expected 4 login attempts, got: %d", logins)
	}
}

func TestNewWorkload_Unknown(t *testing.T) {
	_, err := NewWorkload("payments", nil, Options{})
	if err == nil || !strings.Contains(err.Error(), "appointments") {
		t.Errorf("Expected unknown workload error listing choices, got: %v", err)
	}
}

/*
Package stresstest generates concurrent load against the Medaryon API.

# Overview

A run repeats one Workload a fixed number of times with a bounded number
of concurrent workers:
  - hello: GET on the gateway liveness endpoint
  - users: register then log in a fresh patient per sample
  - availability: create a weekly slot for a doctor created during setup
  - appointments: book a distinct half hour with a doctor and patient created during setup

# Architecture

1. Workload (workloads.go): setup fixtures and the unit of work
2. Executor (executor.go): worker pool, scheduling and result collection
3. Stats (stats.go): counters and latency figures
4. Manager (manager.go): persistence of configs, runs and per-sample metrics
5. Metrics (metrics.go): Prometheus collectors updated while a run progresses

# Executor Design

Workers pull tasks from a request channel and push results on a result
channel. A single collector goroutine owns the stats; snapshots taken with
GetStats are copies. Requests can be spread over a ramp-up window and a run
can be capped by duration.

Worker lifecycle:
  1. Workload setup runs once (registration, login, base availability)
  2. Workers signal ready via WaitGroup
  3. The scheduler queues tasks with optional ramp-up offsets
  4. Workers execute samples and send results
  5. The collector aggregates stats and flushes metrics in batches of 100

# Statistics

Counts are split into successes, network errors (no response, status 599)
and validation errors (unexpected status). Mean, population standard
deviation, min, max and percentiles are computed over successful samples
only. The first failures (20 by default) are kept with their status,
latency and message.

# Cancellation

Cancelling the context passed to NewExecutor stops scheduling. In-flight
samples are aborted and the run is finalized as cancelled once the
workers have returned or ShutdownGracePeriod has elapsed. Reaching
TestDurationSec finalizes the run as completed.

# Example Usage

	manager, err := NewManager(config.DatabasePath)
	if err != nil {
		return err
	}
	defer manager.Close()

	workload, err := NewWorkload("appointments", medaryon.New(client), Options{})
	if err != nil {
		return err
	}

	exec, err := NewExecutor(ctx, &Config{
		Name:            "appointments",
		Workload:        "appointments",
		BaseURL:         client.BaseURL(),
		ConcurrentConns: 100,
		TotalRequests:   1000,
	}, workload, WithManager(manager))
	if err != nil {
		return err
	}

	run, err := exec.Run()
	fmt.Printf("P95 latency: %dms\n", run.P95DurationMs)
*/
package stresstest

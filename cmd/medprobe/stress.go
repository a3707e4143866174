package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/config"
	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/stresstest"
	"github.com/studiowebux/medprobe/internal/tui"
)

var stressCmd = &cobra.Command{
	Use:   "stress [workload...]",
	Short: "Generate concurrent load and report latency statistics",
	Long: `Run stress workloads one after the other. Without arguments the users,
availability and appointments workloads run.

Workloads:
  hello         GET the liveness endpoint (HELLO_URL)
  users         register then log in a fresh patient per request
  availability  create a weekly slot for a doctor created during setup
  appointments  book a distinct half hour with a doctor and patient created during setup

Each request gets a single attempt. Latency figures cover successful
requests only. Ctrl+C stops scheduling and finalizes the run as cancelled.`,
	ValidArgs: stresstest.WorkloadNames(),
	Args:      cobra.OnlyValidArgs,
	RunE:      runStress,
}

var (
	flagStressRampUp     int
	flagStressDuration   int
	flagStressReqTimeout time.Duration
	flagStressFailures   int
	flagStressNoProgress bool
	flagStressPick       bool
)

func init() {
	flags := stressCmd.Flags()
	flags.IntP("concurrency", "c", config.DefaultConcurrency, "Concurrent workers (env CONCURRENCY)")
	flags.IntP("requests", "n", config.DefaultRequests, "Requests per workload (env REQUESTS)")
	flags.String("hello-url", "", "Liveness endpoint for the hello workload (env HELLO_URL, default <base-url>/api/hello)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running, e.g. :9100")
	flags.IntVar(&flagStressRampUp, "ramp-up", 0, "Spread request starts over this many seconds")
	flags.IntVar(&flagStressDuration, "duration", 0, "Stop each workload after this many seconds (0: run all requests)")
	flags.DurationVar(&flagStressReqTimeout, "request-timeout", stresstest.DefaultRequestTimeout, "Timeout of one request")
	flags.IntVar(&flagStressFailures, "failures", stresstest.DefaultFailureSamples, "Failed requests kept for the report")
	flags.BoolVar(&flagStressNoProgress, "no-progress", false, "Disable the live progress view")
	flags.BoolVarP(&flagStressPick, "interactive", "i", false, "Pick the workload from a list")

	bindFlags(v, flags, map[string]string{
		config.KeyConcurrency: "concurrency",
		config.KeyRequests:    "requests",
		config.KeyHelloURL:    "hello-url",
		config.KeyMetricsAddr: "metrics-addr",
	})
	rootCmd.AddCommand(stressCmd)
}

func runStress(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = []string{"users", "availability", "appointments"}
		if flagStressPick && cli.IsInteractive() {
			picked, err := cli.SelectWorkloads(stresstest.WorkloadNames())
			if err != nil {
				return err
			}
			names = picked
		}
	}

	ctx, cancel := cli.WithInterrupt(context.Background(), cmd.ErrOrStderr())
	defer cancel()

	conns := settings.Concurrency
	client, err := newClient(settings.BaseURL, flagStressReqTimeout, executor.NoRetry(), conns)
	if err != nil {
		return err
	}
	hello, err := newClient(settings.HelloURL, flagStressReqTimeout, executor.NoRetry(), conns)
	if err != nil {
		return err
	}
	api := medaryon.New(client)

	manager, err := stresstest.NewManager(settings.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	opts := []stresstest.Option{stresstest.WithManager(manager), stresstest.WithLogger(logger)}
	if settings.MetricsAddr != "" {
		metrics := stresstest.NewMetrics()
		if err := metrics.Serve(ctx, settings.MetricsAddr, logger); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		opts = append(opts, stresstest.WithMetrics(metrics))
	}

	showProgress := !flagStressNoProgress && cli.IsInteractive() && flagOutput == string(cli.FormatText)

	var reports []cli.StressReport
	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		workload, err := stresstest.NewWorkload(name, api, stresstest.Options{Hello: hello, Timeout: flagStressReqTimeout})
		if err != nil {
			return err
		}
		runConfig := &stresstest.Config{
			Workload:          name,
			BaseURL:           settings.BaseURL,
			ConcurrentConns:   conns,
			TotalRequests:     settings.Requests,
			RampUpDurationSec: flagStressRampUp,
			TestDurationSec:   flagStressDuration,
			RequestTimeout:    flagStressReqTimeout,
			FailureSamples:    flagStressFailures,
		}
		runConfig.Name = runConfig.SettingsName()
		if err := manager.SaveNamedConfig(runConfig); err != nil {
			return err
		}

		exec, err := stresstest.NewExecutor(ctx, runConfig, workload, opts...)
		if err != nil {
			return err
		}

		if err := runExecutor(cancel, exec, showProgress, cmd); err != nil {
			errs = append(errs, err)
		}
		reports = append(reports, cli.NewStressReport(exec))
	}

	if err := printer.Stress(reports); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("stress campaign interrupted")
	}
	return errors.Join(errs...)
}

// runExecutor runs exec to completion, with the live view when asked
func runExecutor(cancel context.CancelFunc, exec *stresstest.Executor, progress bool, cmd *cobra.Command) error {
	if !progress {
		_, err := exec.Run()
		return err
	}

	if err := exec.Start(); err != nil {
		return err
	}
	go exec.Wait()
	if err := tui.RunStressProgress(exec, cancel, cmd.ErrOrStderr()); err != nil {
		logger.WithError(err).Warn("Progress view failed, waiting for the run")
	}
	<-exec.Done()
	return nil
}

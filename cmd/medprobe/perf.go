package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/config"
	"github.com/studiowebux/medprobe/internal/medaryon"
	"github.com/studiowebux/medprobe/internal/perf"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Measure create and update latencies under parallel load",
	Long: `Run the users, availability and appointments cases. Each of the
--num-users workers creates a record then updates it, with at most
--parallel workers in flight. The average create and update times are
reported per case. Any status other than 200/201 stops the suite.`,
	Args: cobra.NoArgs,
	RunE: runPerf,
}

var flagPerfParallel int

func init() {
	perfCmd.Flags().Int("num-users", config.DefaultNumUsers, "Workers per case (env NUM_USERS)")
	perfCmd.Flags().IntVar(&flagPerfParallel, "parallel", perf.MaxParallel, "Workers running at once")
	bindFlags(v, perfCmd.Flags(), map[string]string{config.KeyNumUsers: "num-users"})
	rootCmd.AddCommand(perfCmd)
}

func runPerf(cmd *cobra.Command, args []string) error {
	ctx, cancel := cli.WithInterrupt(context.Background(), cmd.ErrOrStderr())
	defer cancel()

	parallel := flagPerfParallel
	if parallel > settings.NumUsers {
		parallel = settings.NumUsers
	}
	client, err := newClient(settings.BaseURL, settings.Timeout, retryPolicy(), parallel)
	if err != nil {
		return err
	}

	suite := perf.New(medaryon.New(client), settings.NumUsers, logger)
	suite.Parallel = parallel

	results, runErr := suite.Run(ctx, perf.Cases())
	if err := printer.Perf(results); err != nil {
		return err
	}
	if runErr != nil {
		var stepErr *perf.StepError
		if errors.As(runErr, &stepErr) && stepErr.Outcome != nil && stepErr.Outcome.IsUnreachable() {
			logger.Error(cli.CategorizeError(stepErr.Outcome.Err))
		}
		return runErr
	}
	return nil
}

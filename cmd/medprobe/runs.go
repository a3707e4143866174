package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/history"
	"github.com/studiowebux/medprobe/internal/stresstest"
)

const (
	kindE2E    = "e2e"
	kindStress = "stress"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored end-to-end and stress runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:       "show <e2e|stress> <id>",
	Short:     "Show one stored run",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{kindE2E, kindStress},
	RunE:      runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <e2e|stress> <id>",
	Short: "Delete one stored run",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsDelete,
}

var (
	flagRunsKind     string
	flagRunsWorkload string
	flagRunsLimit    int
	flagRunsFailures int
)

func init() {
	runsListCmd.Flags().StringVar(&flagRunsKind, "kind", "", "Only list e2e or stress runs")
	runsListCmd.Flags().StringVar(&flagRunsWorkload, "workload", "", "Only list stress runs of this workload")
	runsListCmd.Flags().IntVar(&flagRunsLimit, "limit", 20, "Maximum runs per kind")
	runsShowCmd.Flags().IntVar(&flagRunsFailures, "failures", stresstest.DefaultFailureSamples, "Failed samples shown for a stress run")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

// openStores opens the database once; the stress manager shares the
// history connection
func openStores() (*history.Manager, *stresstest.Manager, error) {
	hist, err := history.NewManager(settings.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return hist, stresstest.NewManagerWithDB(hist.DB()), nil
}

func parseRunArgs(args []string) (string, int64, error) {
	kind := args[0]
	if kind != kindE2E && kind != kindStress {
		return "", 0, fmt.Errorf("unknown run kind %q (expected e2e or stress)", kind)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid run id %q: %w", args[1], err)
	}
	return kind, id, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	if flagRunsKind != "" && flagRunsKind != kindE2E && flagRunsKind != kindStress {
		return fmt.Errorf("unknown run kind %q (expected e2e or stress)", flagRunsKind)
	}
	hist, stress, err := openStores()
	if err != nil {
		return err
	}
	defer hist.Close()
	defer stress.Close()

	// an empty slice prints "no runs", nil skips the kind
	var e2eRuns []history.Run
	if flagRunsKind != kindStress && flagRunsWorkload == "" {
		if e2eRuns, err = hist.ListRuns(flagRunsLimit); err != nil {
			return err
		}
		if e2eRuns == nil {
			e2eRuns = []history.Run{}
		}
	}

	var stressRuns []*stresstest.Run
	if flagRunsKind != kindE2E {
		if stressRuns, err = stress.ListRuns(flagRunsWorkload, flagRunsLimit); err != nil {
			return err
		}
		if stressRuns == nil {
			stressRuns = []*stresstest.Run{}
		}
	}
	return printer.Runs(e2eRuns, stressRuns)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	kind, id, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	hist, stress, err := openStores()
	if err != nil {
		return err
	}
	defer hist.Close()
	defer stress.Close()

	if kind == kindE2E {
		run, err := hist.GetRun(id)
		if err != nil {
			return err
		}
		return printer.E2ERun(run)
	}
	run, err := stress.GetRun(id)
	if err != nil {
		return err
	}
	report := cli.StressReport{Run: run}
	if run.ConfigID != nil {
		if report.Config, err = stress.GetConfig(*run.ConfigID); err != nil {
			logger.WithError(err).WithField("config_id", *run.ConfigID).Warn("Failed to load run config")
		}
	}
	if report.Failures, report.FailureCount, err = stress.GetFailures(id, flagRunsFailures); err != nil {
		return err
	}
	return printer.StressRun(report)
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	kind, id, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	hist, stress, err := openStores()
	if err != nil {
		return err
	}
	defer hist.Close()
	defer stress.Close()

	if kind == kindE2E {
		err = hist.Delete(id)
	} else {
		err = stress.DeleteRun(id)
	}
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"kind": kind, "id": id}).Info("Run deleted")
	return nil
}

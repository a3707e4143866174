package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/e2e"
	"github.com/studiowebux/medprobe/internal/history"
	"github.com/studiowebux/medprobe/internal/medaryon"
)

var e2eCmd = &cobra.Command{
	Use:   "e2e",
	Short: "Run the end-to-end stages against the gateway",
	Long: `Run the ordered end-to-end stages: registration, login (including a
wrong password), users/me, availability, appointments, reports, payments
and logs. The run stops at the first failing stage and exits non-zero.

Every run is stored in the local database unless --no-history is given.`,
	Args: cobra.NoArgs,
	RunE: runE2E,
}

var (
	flagE2EExport    string
	flagE2ENoHistory bool
)

func init() {
	e2eCmd.Flags().StringVar(&flagE2EExport, "export", "", "Also write the report as JSON into this directory")
	e2eCmd.Flags().BoolVar(&flagE2ENoHistory, "no-history", false, "Do not store the run")
	rootCmd.AddCommand(e2eCmd)
}

func runE2E(cmd *cobra.Command, args []string) error {
	ctx, cancel := cli.WithInterrupt(context.Background(), cmd.ErrOrStderr())
	defer cancel()

	client, err := newClient(settings.BaseURL, settings.Timeout, retryPolicy(), 0)
	if err != nil {
		return err
	}

	suite := e2e.NewSuite(e2e.DefaultStages(), logger)
	suite.OnStage = func(res e2e.StageResult) {
		logger.WithFields(logrus.Fields{"stage": res.Name, "outcome": res.Outcome}).Info("Stage done")
	}
	logger.WithField("base_url", settings.BaseURL).Info("End-to-end run started")
	report := suite.Run(ctx, e2e.NewFixture(medaryon.New(client)))

	if !flagE2ENoHistory {
		if err := saveHistory(report); err != nil {
			logger.WithError(err).Warn("Failed to store run")
		}
	}
	if flagE2EExport != "" {
		path, err := history.Export(flagE2EExport, report)
		if err != nil {
			return err
		}
		logger.WithField("path", path).Info("Report exported")
	}

	if err := printer.E2EReport(report); err != nil {
		return err
	}
	if !report.Passed() {
		return fmt.Errorf("end-to-end run %s: %w", report.Status(), report.Err)
	}
	return nil
}

func saveHistory(report *e2e.Report) error {
	hist, err := history.NewManager(settings.DBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	id, err := hist.Save(report)
	if err != nil {
		return err
	}
	logger.WithField("id", id).Debug("Run stored")
	return nil
}

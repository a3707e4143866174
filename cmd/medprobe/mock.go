package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/mock"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve an in-memory fake Medaryon gateway",
	Long: `Serve an in-memory stand-in for the Medaryon gateway, for dry runs of
e2e, stress and perf. State is lost on exit.

The optional config file (.yaml, .yml or .json) can set port, host,
latencyMs and seed accounts.`,
	Args: cobra.NoArgs,
	RunE: runMock,
}

var (
	flagMockConfig  string
	flagMockPort    int
	flagMockHost    string
	flagMockLatency int
	flagMockQuiet   bool
)

func init() {
	mockCmd.Flags().StringVarP(&flagMockConfig, "config", "f", "", "Fake server config file")
	mockCmd.Flags().IntVar(&flagMockPort, "port", 3000, "Port to listen on")
	mockCmd.Flags().StringVar(&flagMockHost, "host", "localhost", "Host to listen on")
	mockCmd.Flags().IntVar(&flagMockLatency, "latency-ms", 0, "Delay every response")
	mockCmd.Flags().BoolVar(&flagMockQuiet, "quiet", false, "Do not log requests")
	rootCmd.AddCommand(mockCmd)
}

func runMock(cmd *cobra.Command, args []string) error {
	cfg := &mock.Config{}
	if flagMockConfig != "" {
		loaded, err := mock.LoadConfig(flagMockConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Port == 0 {
		cfg.Port = flagMockPort
	}
	if flags.Changed("host") || cfg.Host == "" {
		cfg.Host = flagMockHost
	}
	if flags.Changed("latency-ms") {
		cfg.LatencyMS = flagMockLatency
	}
	cfg.Logging = !flagMockQuiet

	ctx, cancel := cli.WithInterrupt(context.Background(), cmd.ErrOrStderr())
	defer cancel()

	server := mock.NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return server.Stop()
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/studiowebux/medprobe/internal/cli"
	"github.com/studiowebux/medprobe/internal/config"
	"github.com/studiowebux/medprobe/internal/executor"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medprobe",
	Short: "medprobe - end-to-end checks and load generation for the Medaryon API",
	Long: `medprobe drives a running Medaryon gateway over HTTP.

It runs the ordered end-to-end stages (users, availability, appointments,
reports, payments, logs), stress workloads with latency statistics, and the
parallel create/update latency suite. Runs are stored in a local SQLite
database.

Settings come from flags, then environment variables, then medprobe.jsonc
in the current directory or ~/.medprobe/.

Examples:
  medprobe e2e                                   # Full end-to-end suite
  MEDARYON_BASE_URL=http://gw:3000 medprobe e2e  # Against another gateway
  medprobe stress                                # users, availability, appointments
  medprobe stress hello -c 2000 -n 50000         # Gateway liveness endpoint
  medprobe perf --num-users 100                  # Create/update latencies
  medprobe runs list                             # Stored runs
  medprobe mock --port 3000                      # Local fake gateway`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "medprobe %s\n", version)
	},
}

// Global flags
var (
	flagOutput    string
	flagConfigDir string
)

// Resolved in setup
var (
	v        = config.New()
	settings *config.Settings
	logger   *logrus.Logger
	printer  *cli.Printer
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")
	flags.StringVar(&flagConfigDir, "config-dir", "", "Directory holding medprobe.jsonc (searched before . and ~/.medprobe)")

	flags.String("base-url", config.DefaultBaseURL, "Medaryon gateway URL (env MEDARYON_BASE_URL)")
	flags.String("timeout", config.DefaultTimeout.String(), "Per-attempt request timeout")
	flags.Int("retries", config.DefaultRetries, "Retries after a transport failure")
	flags.String("backoff", config.DefaultBackoff.String(), "Backoff unit; attempt i waits unit*i")
	flags.Bool("fail-on-exhaustion", false, "Treat an exhausted retry budget as an error instead of a 599 outcome")
	flags.String("db", "", "SQLite database for stored runs (default ~/.medprobe/medprobe.db)")
	flags.String("log-level", "info", "Log level (debug/info/warn/error)")
	flags.String("log-format", "text", "Log format (text/json)")
	flags.String("tls-ca", "", "CA certificate file")
	flags.String("tls-cert", "", "Client certificate file")
	flags.String("tls-key", "", "Client key file")
	flags.Bool("tls-insecure", false, "Skip TLS certificate verification")

	bindFlags(v, flags, map[string]string{
		config.KeyBaseURL:          "base-url",
		config.KeyTimeout:          "timeout",
		config.KeyRetries:          "retries",
		config.KeyBackoff:          "backoff",
		config.KeyFailOnExhaustion: "fail-on-exhaustion",
		config.KeyDBPath:           "db",
		config.KeyLogLevel:         "log-level",
		config.KeyLogFormat:        "log-format",
		config.KeyTLSCA:            "tls-ca",
		config.KeyTLSCert:          "tls-cert",
		config.KeyTLSKey:           "tls-key",
		config.KeyTLSInsecure:      "tls-insecure",
	})

	rootCmd.AddCommand(versionCmd)
}

// bindFlags ties viper keys to flags. Only flags set on the command line
// take precedence over the environment and the config file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// setup initializes ~/.medprobe, resolves settings and builds the logger
// and the printer
func setup(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	v.SetDefault(config.KeyDBPath, config.DatabasePath)

	cwd, _ := os.Getwd()
	path, err := config.ReadConfigFile(v, flagConfigDir, cwd, config.ConfigDir)
	if err != nil {
		return err
	}

	s, err := config.Load(v)
	if err != nil {
		return err
	}
	if s.DBPath == "" {
		s.DBPath = config.DatabasePath
	}

	logger, err = config.NewLogger(os.Stderr, s.LogLevel, s.LogFormat)
	if err != nil {
		return err
	}
	if path != "" {
		logger.WithField("file", path).Debug("Loaded config file")
	}

	format, err := cli.ParseFormat(flagOutput)
	if err != nil {
		return err
	}
	printer = cli.NewPrinter(cmd.OutOrStdout(), format)
	settings = s
	return nil
}

// newClient builds the request helper for the configured gateway
func newClient(baseURL string, timeout time.Duration, retry executor.RetryPolicy, maxConns int) (*executor.Client, error) {
	tlsConfig := settings.TLS
	return executor.NewClient(executor.ClientConfig{
		BaseURL:          baseURL,
		Timeout:          timeout,
		Retry:            &retry,
		TLS:              &tlsConfig,
		MaxConns:         maxConns,
		FailOnExhaustion: settings.FailOnExhaustion,
		Logger:           logger,
	})
}

// retryPolicy is the retry policy from settings
func retryPolicy() executor.RetryPolicy {
	return executor.RetryPolicy{Retries: settings.Retries, BackoffUnit: settings.Backoff}
}

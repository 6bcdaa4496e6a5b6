package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Registers the Outbrain source
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/sources/outbrain"
)

var version = outbrain.Version

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	opts := &runOptions{viper: v}

	root := &cobra.Command{
		Use:   "tap-outbrain",
		Short: "Singer tap for the Outbrain Amplify API",
		Long: `tap-outbrain extracts campaigns, promoted links and their daily performance
from the Outbrain Amplify API and writes Singer SCHEMA, RECORD and STATE
messages to stdout. Logs go to stderr.

Example:
  tap-outbrain --config config.json --state state.json > out.jsonl`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the tap config file, JSON or YAML (required)")
	flags.StringP("state", "s", "", "Path to a state file from a previous run")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log encoding (json, console)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	flags.Bool("trace", false, "Export trace spans to stderr")
	_ = v.BindPFlags(flags)

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Sync all streams (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Print the stream catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, opts)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tap-outbrain v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return root
}

// Package cli wires the command tree of the checkgvm monitoring plugin:
// one subcommand per connection type, plus cache maintenance.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gvmtools/checkgvm/internal/gmp"
	"github.com/gvmtools/checkgvm/internal/instance"
	"github.com/gvmtools/checkgvm/internal/log"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Execute runs the command tree and returns the outcome to main.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd assembles a fresh command tree. Every invocation gets its own
// tree so flag state never leaks between executions.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "checkgvm",
		Short: "Nagios plugin checking host vulnerability status via GVM",
		Long: `checkgvm - Nagios-compatible monitoring plugin for Greenbone
Vulnerability Management.

Queries a GVM scan manager over TLS, SSH or a unix socket and reports the
vulnerability status of a host or task as a standard plugin result. Reports
are cached on disk and reused until the manager finishes a newer scan.
Concurrent invocations coordinate through the cache file so that no more
than a configured number talk to the manager at once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().IntP("max-running-instances", "I", instance.DefaultLimit,
		"Maximum simultaneous checkgvm processes")
	rootCmd.PersistentFlags().String("cache", defaultCachePath(),
		"Path to the cache file")
	rootCmd.PersistentFlags().Duration("timeout", 60*time.Second,
		"Wait this long for manager responses")
	rootCmd.PersistentFlags().String("log", "",
		"Activate logging at the given level (DEBUG, INFO, WARNING, ERROR)")
	rootCmd.PersistentFlags().String("log-file", "",
		"Append log output to this file instead of stderr")

	rootCmd.AddCommand(
		newConnCommand("tls", gmp.ConnTLS, "Use a TLS secured connection to the gmp service"),
		newConnCommand("ssh", gmp.ConnSSH, "Use an SSH connection to the gmp service"),
		newConnCommand("socket", gmp.ConnSocket, "Use a unix socket connection to the gmp service"),
		newCleanCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func defaultCachePath() string {
	return filepath.Join(os.TempDir(), "checkgvm", "reports.db")
}

// newLogger builds the plugin logger from the --log flags. Without --log
// every record is dropped: the monitoring server parses stdout, so nothing
// diagnostic may leak there. The returned closer is non-nil when a log file
// was opened.
func newLogger(cmd *cobra.Command) (*slog.Logger, io.Closer, error) {
	levelName, _ := cmd.Flags().GetString("log")
	if levelName == "" {
		return log.Discard(), nil, nil
	}

	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, nil, err
	}

	logFile, _ := cmd.Flags().GetString("log-file")
	if logFile == "" {
		return log.New(level, os.Stderr), nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", logFile, err)
	}
	return log.New(level, f), f, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "checkgvm %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

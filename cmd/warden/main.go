package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	global := &GlobalFlags{}
	c := newCommand(global, out)

	root := createRootCommand(global)
	daemon := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
	}
	daemon.AddCommand(
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createStatusCommand(c),
		createLogsCommand(c),
		createHistoryCommand(c),
		createRunCommand(c),
	)
	root.AddCommand(daemon)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Supervise a background agent daemon",
		Long: `Warden keeps one background daemon running through a PID file, reports its
resource usage, and guards its calls to a remote service with a circuit breaker.

Examples:
  warden daemon start
  warden daemon status
  warden daemon logs -f
  warden daemon stop --grace=5s`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addStartFlags(cmd *cobra.Command, f *StartFlags) {
	cmd.Flags().BoolVar(&f.UseOSEnv, "use-os-env", false, "pass the current environment to the daemon")
	cmd.Flags().StringSliceVar(&f.EnvKVs, "env", nil, "extra KEY=VALUE for the daemon (repeatable)")
	cmd.Flags().StringSliceVar(&f.EnvFiles, "env-file", nil, "load KEY=VALUE lines from file (repeatable)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "daemon working directory")
	cmd.Flags().DurationVar(&f.Wait, "wait", 500*time.Millisecond, "time to watch for an early exit (0 disables)")
}

func createStartCommand(c *command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon if it is not already running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	addStartFlags(cmd, f)
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon (SIGTERM, then SIGKILL after the grace period)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Grace, "grace", 0, "time to wait before killing (default daemon.stop_grace)")
	return cmd
}

func createRestartCommand(c *command) *cobra.Command {
	stop := &StopFlags{}
	start := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the daemon and start it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), *stop, *start)
		},
	}
	cmd.Flags().DurationVar(&stop.Grace, "grace", 0, "time to wait before killing (default daemon.stop_grace)")
	addStartFlags(cmd, start)
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon runs and its resource usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 3*time.Second, "timeout for the daemon status endpoint")
	return cmd
}

func createLogsCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Stderr, "stderr", false, "show the daemon's stderr log")
	cmd.Flags().BoolVar(&f.Agent, "agent", false, "show the agent log (warden.log)")
	cmd.Flags().IntVarP(&f.Lines, "lines", "n", 20, "number of lines to show (0 for all)")
	cmd.Flags().BoolVarP(&f.Follow, "follow", "f", false, "follow log output")
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List daemon lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "maximum number of events (0 for all)")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createRunCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context())
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"xyz-agents/internal/adapter/shell"
	"xyz-agents/internal/infra/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "xyz",
		Short: "xyz - agent runtime with a shared task dispatcher",
		Long: `xyz runs a registry of agents, each backed by a model, and a worker pool
that executes tasks on their behalf.

EXAMPLES:
    xyz run                            # Run configured agents until SIGINT
    xyz run --config /etc/xyz.yaml     # Run with a custom config
    xyz shell                          # Manage agents interactively
    xyz doctor                         # Check config and models`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: $XYZ_CONFIG or ./config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Create configured agents and process tasks until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAgents(cmd.Context(), configPath(cfgFile))
			},
		},
		&cobra.Command{
			Use:   "shell",
			Short: "Start the interactive agent shell",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runShell(cmd.Context(), configPath(cfgFile), cmd.InOrStdin(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Run health checks on the configuration and models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDoctor(cmd.Context(), configPath(cfgFile), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "xyz %s\n", version)
			},
		},
	)
	return root
}

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("XYZ_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".xyz_history")
}

func runAgents(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}

	a.log.Info("xyz running",
		"version", version,
		"agents", a.registry.Len(),
		"workers", a.dispatcher.ActiveThreadCount(),
		"workload", cfg.Workload.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)
	if a.workload != nil {
		return a.workload.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func runShell(ctx context.Context, cfgPath string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// The generator would compete with the user for agent output.
	cfg.Workload.Enabled = false

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}
	sh := shell.New(a.registry, a.dispatcher, out, version, a.log, shell.WithModels(a.models))
	return sh.Run(ctx, in, historyPath())
}

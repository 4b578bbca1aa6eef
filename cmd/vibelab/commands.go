package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

type runOptions struct {
	concurrency int
	outDir      string
	taskTimeout time.Duration
	retryFailed bool
}

// buildRunCmd creates the "run" command, which executes one experiment to
// completion in the foreground.
func buildRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <experiment-file>",
		Short: "Run an experiment and wait for every task",
		Long: `Build the task queue for an experiment file and run it.

Progress is printed to stderr. With --out, every generated SVG is written to
the directory along with results.json. Ctrl-C pauses admission and waits for
in-flight tasks before exiting.`,
		Example: `  vibelab run experiment.yaml
  vibelab run experiment.yaml --concurrency 5 --out ./results
  vibelab run experiment.yaml --task-timeout 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "n", 0, "Maximum tasks in flight (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Directory to export SVGs and results.json")
	cmd.Flags().DurationVar(&opts.taskTimeout, "task-timeout", 0, "Fail tasks that run longer than this")
	cmd.Flags().BoolVar(&opts.retryFailed, "retry-failed", false, "Run failed tasks a second time after the first pass")
	return cmd
}

// =============================================================================
// Serve Command
// =============================================================================

type serveOptions struct {
	addr       string
	experiment string
	watch      bool
}

// buildServeCmd creates the "serve" command that starts the HTTP API.
func buildServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		Long: `Start the VibeLab API server.

The server exposes the queue over HTTP, streams progress on /api/events,
serves Prometheus metrics on /metrics and runs configured schedules.
Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  vibelab serve
  vibelab serve --config vibelab.yaml --experiment experiment.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVarP(&opts.experiment, "experiment", "e", "", "Experiment file to load at startup")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Reload the experiment file when it changes")
	return cmd
}

// =============================================================================
// Experiment Inspection Commands
// =============================================================================

func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <experiment-file>...",
		Short: "Check experiment files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func buildPlanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan <experiment-file>",
		Short: "Show the task breakdown an experiment would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print every task as JSON")
	return cmd
}

// =============================================================================
// Provider Commands
// =============================================================================

func buildModelsCmd(global *globalOptions) *cobra.Command {
	var (
		providers []string
		legacy    bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List configured providers and discoverable Bedrock models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, global, providers, legacy)
		},
	}
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "Limit Bedrock models to these model providers")
	cmd.Flags().BoolVar(&legacy, "include-legacy", false, "Include Bedrock models that are not ACTIVE")
	return cmd
}

// =============================================================================
// Results Commands
// =============================================================================

func buildStatsCmd(global *globalOptions) *cobra.Command {
	var (
		experimentID string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored results by model and variation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, global, experimentID, asJSON)
		},
	}
	cmd.Flags().StringVar(&experimentID, "experiment", "", "Limit to one experiment id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect VibeLab configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with defaults applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, global)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, global)
			},
		},
	)
	return cmd
}

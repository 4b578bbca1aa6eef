// Package main provides the vibelab CLI.
//
// VibeLab runs prompt experiments against LLMs that draw SVG: every
// combination of prompt, model and prompt-rewriting technique is queued and
// generated with bounded parallelism.
//
// # Basic Usage
//
// Run an experiment and export the SVGs:
//
//	vibelab run experiment.yaml --out ./results
//
// Serve the HTTP API and hot-reload the experiment file:
//
//	vibelab serve --config vibelab.yaml --watch experiment.yaml
//
// # Environment Variables
//
//   - VIBELAB_CONFIG: path to the configuration file
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, OPENROUTER_API_KEY
//   - VIBELAB_BACKEND_URL, VIBELAB_BACKEND_API_KEY: generic HTTP backend
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "vibelab",
		Short: "VibeLab - compare how LLMs draw SVG",
		Long: `VibeLab expands an experiment (prompts x models x techniques) into a queue
of generation tasks, runs them with bounded parallelism and collects the SVG
each model produced.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("VIBELAB_CONFIG"),
		"Path to configuration file (YAML or JSON5)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override log format (json, text)")

	rootCmd.AddCommand(
		buildRunCmd(opts),
		buildServeCmd(opts),
		buildValidateCmd(),
		buildPlanCmd(),
		buildModelsCmd(opts),
		buildStatsCmd(opts),
		buildConfigCmd(opts),
	)
	return rootCmd
}

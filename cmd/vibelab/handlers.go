package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/vibelab/internal/config"
	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/generation"
	"github.com/haasonsaas/vibelab/internal/queue"
	"github.com/haasonsaas/vibelab/internal/ranking"
	"github.com/haasonsaas/vibelab/internal/store"
)

// =============================================================================
// Validate and Plan Handlers
// =============================================================================

func runValidate(cmd *cobra.Command, paths []string) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, path := range paths {
		def, err := experiments.Load(path)
		if err == nil {
			var size int
			if size, err = def.Size(); err == nil {
				fmt.Fprintf(out, "ok      %s (%d tasks)\n", path, size)
				continue
			}
		}
		failed++
		fmt.Fprintf(out, "invalid %s: %v\n", path, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiment files invalid", failed, len(paths))
	}
	return nil
}

func runPlan(cmd *cobra.Command, path string, asJSON bool) error {
	def, err := experiments.Load(path)
	if err != nil {
		return err
	}
	tasks, err := queue.Build(def)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	type cell struct{ model, variation string }
	counts := make(map[cell]int)
	for _, t := range tasks {
		counts[cell{t.Model, t.Variation.Label()}]++
	}
	cells := make([]cell, 0, len(counts))
	for c := range counts {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].model != cells[j].model {
			return cells[i].model < cells[j].model
		}
		return cells[i].variation < cells[j].variation
	})

	name := def.Name
	if name == "" {
		name = def.ID
	}
	fmt.Fprintf(out, "Experiment %s: %d prompts, %d models, %d variations -> %d tasks\n\n",
		name, len(def.Prompts), len(def.Models), len(def.Variations), len(tasks))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tVARIATION\tTASKS")
	for _, c := range cells {
		fmt.Fprintf(w, "%s\t%s\t%d\n", c.model, c.variation, counts[c])
	}
	return w.Flush()
}

// =============================================================================
// Models Handler
// =============================================================================

func runModels(cmd *cobra.Command, global *globalOptions, providers []string, legacy bool) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	out := cmd.OutOrStdout()

	p := cfg.Providers
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tENABLED\tDEFAULT MODEL")
	rows := []struct {
		name    string
		enabled bool
		model   string
	}{
		{"anthropic", p.Anthropic.IsEnabled(), p.Anthropic.DefaultModel},
		{"openai", p.OpenAI.IsEnabled(), p.OpenAI.DefaultModel},
		{"google", p.Google.IsEnabled(), p.Google.DefaultModel},
		{"openrouter", p.OpenRouter.IsEnabled(), p.OpenRouter.DefaultModel},
		{"ollama", p.Ollama.IsEnabled(), p.Ollama.DefaultModel},
		{"bedrock", p.Bedrock.Enabled, p.Bedrock.DefaultModel},
		{"backend", p.Backend.URL != "", ""},
	}
	for _, row := range rows {
		model := row.model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\n", row.name, row.enabled, model)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !p.Bedrock.Enabled {
		return nil
	}

	models, err := generation.DiscoverBedrockModels(cmd.Context(), generation.DiscoveryConfig{
		AWSConfig:      bedrockAWSConfig(p.Bedrock),
		ProviderFilter: providers,
		IncludeLegacy:  legacy,
	})
	if err != nil {
		return fmt.Errorf("discover bedrock models: %w", err)
	}
	fmt.Fprintf(out, "\nBedrock models in %s (use as bedrock/<id>):\n", p.Bedrock.Region)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tLIFECYCLE")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Provider, m.Lifecycle)
	}
	return w.Flush()
}

// =============================================================================
// Stats Handler
// =============================================================================

func runStats(cmd *cobra.Command, global *globalOptions, experimentID string, asJSON bool) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if cfg.Storage.Driver == "memory" {
		return errors.New("stats needs a persistent store: set storage.driver to sqlite or postgres")
	}
	st, err := openStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListResults(cmd.Context(), store.ListOptions{ExperimentID: experimentID})
	if err != nil {
		return err
	}
	rankings, err := st.ListRankings(cmd.Context(), experimentID)
	if err != nil {
		return err
	}
	stats := ranking.Summarize(records, rankings)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(out, "%d results (%d completed, %d failed), %d rankings\n",
		stats.Total, stats.Completed, stats.Failed, stats.Rankings)
	for _, section := range []struct {
		title string
		rows  []ranking.Summary
	}{
		{"MODEL", stats.ByModel},
		{"VARIATION", stats.ByVariation},
	} {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "%s\tTASKS\tSUCCESS\tMEAN RANK\tMEAN MS\n", section.title)
		for _, s := range section.rows {
			rank := "-"
			if s.Ranked > 0 {
				rank = fmt.Sprintf("%.2f", s.MeanRank)
			}
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\t%.0f\n", s.Key, s.Tasks, s.SuccessRate*100, rank, s.MeanDurationMS)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Config Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigShow(cmd *cobra.Command, global *globalOptions) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	masked := *cfg
	for _, key := range []*string{
		&masked.Providers.Anthropic.APIKey,
		&masked.Providers.OpenAI.APIKey,
		&masked.Providers.Google.APIKey,
		&masked.Providers.OpenRouter.APIKey,
		&masked.Providers.Ollama.APIKey,
		&masked.Providers.Backend.APIKey,
		&masked.Providers.Bedrock.SecretAccessKey,
		&masked.Providers.Bedrock.SessionToken,
		&masked.Artifacts.S3.SecretAccessKey,
	} {
		*key = maskSecret(*key)
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, global *globalOptions) error {
	if strings.TrimSpace(global.configPath) == "" {
		return errors.New("--config is required")
	}
	if _, err := loadConfig(global); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", global.configPath)
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// ModelInfo describes a model that can be named in an experiment.
type ModelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Lifecycle string `json:"lifecycle,omitempty"`
}

// FoundationModelLister is the subset of the Bedrock control-plane client used
// for discovery.
type FoundationModelLister interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// DiscoveryConfig configures DiscoverBedrockModels.
type DiscoveryConfig struct {
	AWSConfig

	// ProviderFilter limits results to these providers (case-insensitive).
	ProviderFilter []string

	// IncludeLegacy keeps models whose lifecycle status is not ACTIVE.
	IncludeLegacy bool
}

// DiscoverBedrockModels lists text-output foundation models available in
// the configured region.
func DiscoverBedrockModels(ctx context.Context, cfg DiscoveryConfig) ([]ModelInfo, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}
	return ListBedrockModels(ctx, bedrock.NewFromConfig(awsCfg), cfg)
}

// ListBedrockModels queries lister and converts the summaries.
func ListBedrockModels(ctx context.Context, lister FoundationModelLister, cfg DiscoveryConfig) ([]ModelInfo, error) {
	out, err := lister.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{
		ByOutputModality: bedrocktypes.ModelModalityText,
	})
	if err != nil {
		return nil, wrapBedrockError(err, "")
	}

	filter := make(map[string]struct{}, len(cfg.ProviderFilter))
	for _, p := range cfg.ProviderFilter {
		filter[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}

	models := make([]ModelInfo, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		info := ModelInfo{
			ID:       aws.ToString(summary.ModelId),
			Name:     aws.ToString(summary.ModelName),
			Provider: aws.ToString(summary.ProviderName),
		}
		if summary.ModelLifecycle != nil {
			info.Lifecycle = string(summary.ModelLifecycle.Status)
		}
		if info.ID == "" {
			continue
		}
		if !cfg.IncludeLegacy && info.Lifecycle != "" && info.Lifecycle != string(bedrocktypes.FoundationModelLifecycleStatusActive) {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[strings.ToLower(info.Provider)]; !ok {
				continue
			}
		}
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Package experiments defines VibeLab experiment definitions.
//
// An experiment is the cross product of prompts, models and prompt-rewriting
// techniques ("variations"), each repeated for a number of instances. The
// definition is immutable once a queue has been built from it; a changed file
// produces a new definition and a new queue.
package experiments

const (
	// BaselineType marks the variation that sends the prompt unmodified.
	BaselineType = "baseline"

	// TechniqueType is the default type for prompt-rewriting variations.
	TechniqueType = "technique"

	// PromptPlaceholder is substituted with the prompt text by Enhance.
	PromptPlaceholder = "{prompt}"
)

// Definition describes one experiment.
type Definition struct {
	// ID is passed to the generation backend as the experiment id.
	// Load assigns a UUID when the file leaves it empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Name is a human-readable label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description is free-form and ignored by the scheduler.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Prompts are expanded in definition order.
	Prompts []Prompt `yaml:"prompts" json:"prompts"`

	// Models are model identifiers, optionally provider-qualified
	// ("anthropic/claude-sonnet-4-20250514").
	Models []string `yaml:"models" json:"models"`

	// Variations are the prompt-rewriting techniques to compare.
	Variations []Variation `yaml:"variations" json:"variations"`

	// InstancesPerVariation applies to variations without an explicit count.
	InstancesPerVariation int `yaml:"instances_per_variation" json:"instances_per_variation"`

	// SkipBaseline excludes variations of type "baseline" from the queue.
	SkipBaseline bool `yaml:"skip_baseline,omitempty" json:"skip_baseline,omitempty"`
}

// Prompt is a single user prompt.
type Prompt struct {
	Text     string `yaml:"text" json:"text"`
	Animated bool   `yaml:"animated,omitempty" json:"animated,omitempty"`
}

// Variation is a named prompt-rewriting technique.
type Variation struct {
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Name     string `yaml:"name" json:"name"`
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// Count requests that many independent instances. Zero means unset.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
}

// IsBaseline reports whether v is the identity variation.
func (v Variation) IsBaseline() bool {
	return v.Type == BaselineType
}

// Instances resolves how many tasks v produces under def.
// A non-positive result is invalid; see ResolveInstances.
func (v Variation) Instances(def *Definition) int {
	if v.Count > 0 {
		return v.Count
	}
	if def == nil {
		return 0
	}
	return def.InstancesPerVariation
}

// Label returns the variation name, falling back to its type.
func (v Variation) Label() string {
	if v.Name != "" {
		return v.Name
	}
	if v.Type != "" {
		return v.Type
	}
	return "unnamed"
}

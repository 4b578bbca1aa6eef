package experiments

import (
	"fmt"
	"strings"
)

// ResolveInstances returns how many tasks v contributes per (prompt, model)
// pair. A non-positive count is a ConfigurationError naming the variation.
func (d *Definition) ResolveInstances(v Variation) (int, error) {
	n := v.Instances(d)
	if n <= 0 {
		return 0, &ConfigurationError{
			Variation: v.Label(),
			Field:     "count",
			Reason:    fmt.Sprintf("resolved instance count %d must be positive", n),
		}
	}
	return n, nil
}

// Included reports whether v takes part in queue expansion.
func (d *Definition) Included(v Variation) bool {
	return !(d.SkipBaseline && v.IsBaseline())
}

// Size returns the number of tasks the definition expands to.
func (d *Definition) Size() (int, error) {
	perPair := 0
	for _, v := range d.Variations {
		if !d.Included(v) {
			continue
		}
		n, err := d.ResolveInstances(v)
		if err != nil {
			return 0, err
		}
		perPair += n
	}
	return len(d.Prompts) * len(d.Models) * perPair, nil
}

// Validate is the load-time check for experiment files: blank prompt text,
// blank or duplicate models and non-positive instance counts are rejected.
// Empty prompt, model or variation lists are valid and expand to nothing.
// queue.Build itself only rejects non-positive instance counts.
func Validate(d *Definition) error {
	if d == nil {
		return &ConfigurationError{Reason: "definition is required"}
	}
	seen := make(map[string]struct{}, len(d.Models))
	for i, model := range d.Models {
		model = strings.TrimSpace(model)
		if model == "" {
			return &ConfigurationError{Field: fmt.Sprintf("models[%d]", i), Reason: "model identifier is empty"}
		}
		if _, dup := seen[model]; dup {
			return &ConfigurationError{Field: fmt.Sprintf("models[%d]", i), Reason: fmt.Sprintf("duplicate model %q", model)}
		}
		seen[model] = struct{}{}
	}
	for i, p := range d.Prompts {
		if strings.TrimSpace(p.Text) == "" {
			return &ConfigurationError{Field: fmt.Sprintf("prompts[%d].text", i), Reason: "prompt text is empty"}
		}
	}
	for _, v := range d.Variations {
		if !d.Included(v) {
			continue
		}
		if _, err := d.ResolveInstances(v); err != nil {
			return err
		}
	}
	return nil
}

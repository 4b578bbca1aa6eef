package experiments

import "strings"

// builtinVariations is the technique catalogue that experiment files can
// reference by name without spelling out a template.
var builtinVariations = []Variation{
	{
		Type:     BaselineType,
		Name:     "baseline",
		Template: PromptPlaceholder,
	},
	{
		Type:     TechniqueType,
		Name:     "detailed",
		Template: "Create a detailed, polished SVG illustration of: {prompt}\n\nUse gradients, layered shapes and a deliberate color palette.",
	},
	{
		Type:     TechniqueType,
		Name:     "step-by-step",
		Template: "Think step by step before drawing. First plan the composition, the main shapes and the colors, then write the final SVG for: {prompt}",
	},
	{
		Type:     TechniqueType,
		Name:     "minimal",
		Template: "Create a minimalist SVG of {prompt} using as few shapes and colors as possible.",
	},
	{
		Type:     TechniqueType,
		Name:     "expert",
		Template: "You are an expert SVG illustrator with a strong sense of design. {prompt}\n\nRespond with a single complete <svg> element.",
	},
}

// BuiltinVariations returns a copy of the technique catalogue.
func BuiltinVariations() []Variation {
	out := make([]Variation, len(builtinVariations))
	copy(out, builtinVariations)
	return out
}

// LookupVariation finds a built-in technique by case-insensitive name.
func LookupVariation(name string) (Variation, bool) {
	name = strings.TrimSpace(name)
	for _, v := range builtinVariations {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return Variation{}, false
}

// resolveVariation fills in type and template for variations that only name
// a built-in technique. Explicit fields always win.
func resolveVariation(v Variation) (Variation, bool) {
	if v.Template != "" {
		if v.Type == "" {
			v.Type = TechniqueType
		}
		return v, true
	}
	builtin, ok := LookupVariation(v.Name)
	if !ok {
		if v.Type == BaselineType {
			v.Template = PromptPlaceholder
			return v, true
		}
		return v, false
	}
	if v.Type == "" {
		v.Type = builtin.Type
	}
	v.Template = builtin.Template
	return v, true
}

package experiments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Load reads an experiment definition from a YAML, JSON or JSON5 file.
func Load(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("experiment path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes an experiment definition. format is a file extension
// (".yaml", ".json", ".json5"); anything other than JSON is parsed as YAML.
//
// The document is validated against DefinitionSchema, normalized (IDs,
// built-in technique templates, default instance count) and then checked
// with Validate.
func Parse(data []byte, format string) (*Definition, error) {
	raw, err := decodeRaw(data, format)
	if err != nil {
		return nil, &ConfigurationError{Reason: "failed to parse experiment", Cause: err}
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, &ConfigurationError{Reason: "failed to serialize experiment", Cause: err}
	}
	if err := validateSchema(payload); err != nil {
		return nil, &ConfigurationError{Reason: "schema validation failed", Cause: err}
	}

	var def Definition
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&def); err != nil {
		return nil, &ConfigurationError{Reason: "failed to decode experiment", Cause: err}
	}
	if _, ok := raw["instances_per_variation"]; !ok {
		def.InstancesPerVariation = 1
	}

	if err := def.Normalize(); err != nil {
		return nil, err
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func decodeRaw(data []byte, format string) (map[string]any, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == ".json" || format == ".json5" || format == "json" || format == "json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Normalize assigns an ID, trims model identifiers and resolves variations
// that reference built-in techniques by name.
func (d *Definition) Normalize() error {
	if strings.TrimSpace(d.ID) == "" {
		d.ID = uuid.NewString()
	}
	for i, model := range d.Models {
		d.Models[i] = strings.TrimSpace(model)
	}
	for i, v := range d.Variations {
		resolved, ok := resolveVariation(v)
		if !ok {
			return &ConfigurationError{
				Variation: v.Label(),
				Field:     "template",
				Reason:    "no template given and no built-in technique with that name",
			}
		}
		d.Variations[i] = resolved
	}
	return nil
}

package experiments

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefinitionSchema is the JSON Schema experiment files are validated against
// before decoding. Count semantics are checked by Validate, not here, so the
// error names the offending variation.
const DefinitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "prompts": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["text"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "animated": {"type": "boolean"}
        }
      }
    },
    "models": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "variations": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "type": {"type": "string"},
          "name": {"type": "string"},
          "template": {"type": "string"},
          "count": {"type": "integer"}
        },
        "anyOf": [
          {"required": ["name"]},
          {"required": ["template"]}
        ]
      }
    },
    "instances_per_variation": {"type": "integer"},
    "skip_baseline": {"type": "boolean"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func definitionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("experiment.schema.json", DefinitionSchema)
	})
	return compiledSchema, schemaErr
}

// validateSchema checks a JSON document against DefinitionSchema.
func validateSchema(payload []byte) error {
	schema, err := definitionSchema()
	if err != nil {
		return fmt.Errorf("compile experiment schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

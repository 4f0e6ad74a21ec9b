package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// processedSchema bounds the shape of processed payloads. It is permissive
// about which keys appear and strict about the types of the ones that do.
const processedSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "text": {"type": ["string", "number", "null"]},
    "list": {
      "type": ["array", "string", "null"],
      "items": {"type": ["string", "number", "object"]}
    },
    "items": {
      "type": ["array", "null"],
      "items": {"type": ["string", "object"]}
    }
  },
  "properties": {
    "course_title": {"$ref": "#/definitions/text"},
    "course_name": {"$ref": "#/definitions/text"},
    "course_code": {"$ref": "#/definitions/text"},
    "instructor": {"$ref": "#/definitions/text"},
    "term": {"$ref": "#/definitions/text"},
    "description": {"$ref": "#/definitions/text"},
    "topics": {"$ref": "#/definitions/list"},
    "key_topics": {"$ref": "#/definitions/list"},
    "learning_outcomes": {"$ref": "#/definitions/list"},
    "exams": {"$ref": "#/definitions/items"},
    "exam_dates": {"$ref": "#/definitions/items"},
    "assignments": {"$ref": "#/definitions/items"},
    "important_dates": {"$ref": "#/definitions/items"},
    "metadata": {"type": ["object", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var compileProcessed = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("processed.json", strings.NewReader(processedSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("processed.json")
})

// CheckProcessed reports whether a processed payload has a usable shape.
// Payloads that fail are dropped in favour of the next extraction source.
// A nil or empty payload passes; there is nothing to reject.
func CheckProcessed(data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	schema, err := compileProcessed()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// Normalize Go values into the JSON types the validator understands.
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("processed data does not match schema: %w", err)
	}
	return nil
}

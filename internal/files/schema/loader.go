// Package schema validates POST /files request bodies against the shape
// The /files request body is a JSON object carrying a list of operations, each one of
// write, remove, or rename.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// document is the JSON Schema for a POST /files request body. It is
// embedded rather than fetched, since a proxy administering the local
// filesystem has no business depending on network availability to validate
// its own input.
const document = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["operations"],
  "properties": {
    "operations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op"],
        "additionalProperties": false,
        "properties": {
          "op": {"type": "string", "enum": ["write", "remove", "rename"]},
          "path": {"type": "string", "minLength": 1},
          "contents": {"type": "string"},
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1}
        },
        "allOf": [
          {
            "if": {"properties": {"op": {"const": "write"}}},
            "then": {"required": ["path", "contents"]}
          },
          {
            "if": {"properties": {"op": {"const": "remove"}}},
            "then": {"required": ["path"]}
          },
          {
            "if": {"properties": {"op": {"const": "rename"}}},
            "then": {"required": ["from", "to"]}
          }
        ]
      }
    }
  }
}`

// Loader validates request bodies against the embedded schema. It builds
// the schema loader once, lazily, and reuses it for every call;
// gojsonschema.Validate compiles the schema from it on each call.
type Loader struct {
	mu     sync.RWMutex
	loader gojsonschema.JSONLoader
}

// NewLoader returns a Loader ready to validate.
func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) schemaLoader() gojsonschema.JSONLoader {
	l.mu.RLock()
	if l.loader != nil {
		defer l.mu.RUnlock()
		return l.loader
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loader == nil {
		l.loader = gojsonschema.NewStringLoader(document)
	}
	return l.loader
}

// ValidationError describes the first schema violation found in a request
// body, prioritized by specificity so the caller can report one actionable
// message rather than a dump of every rule that failed.
type ValidationError struct {
	Message string
	Path    string
}

// ValidateJSON checks jsonData against the operations schema. A nil,nil
// result means the document is valid.
func (l *Loader) ValidateJSON(jsonData []byte) (*ValidationError, error) {
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(l.schemaLoader(), documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema: validating request body: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	if len(result.Errors()) == 0 {
		return &ValidationError{Message: "request body does not match the expected shape"}, nil
	}

	best := result.Errors()[0]
	bestPriority := 999
	if p, ok := errorPriority[best.Type()]; ok {
		bestPriority = p
	}
	for _, e := range result.Errors() {
		if p, ok := errorPriority[e.Type()]; ok && p < bestPriority {
			best, bestPriority = e, p
		}
	}

	return &ValidationError{
		Message: friendlyErrorMessage(best),
		Path:    best.Field(),
	}, nil
}

// errorPriority ranks gojsonschema error types by how actionable they are:
// an unknown-property or missing-required-field error is worth surfacing
// over a generic type mismatch further down the same document.
var errorPriority = map[string]int{
	"additional_property_not_allowed": 1,
	"required":                        2,
	"invalid_type":                    3,
	"enum":                            4,
	"string_gte":                      5,
	"string_lte":                      6,
	"number_one_of":                   7,
}

func friendlyErrorMessage(err gojsonschema.ResultError) string {
	switch err.Type() {
	case "additional_property_not_allowed":
		if name := extractPropertyFromDescription(err.Description()); name != "" {
			return fmt.Sprintf("unknown property %q is not allowed", name)
		}
		return err.Description()
	case "required":
		return fmt.Sprintf("missing required property %q", err.Details()["property"])
	case "invalid_type":
		return fmt.Sprintf("property %q has wrong type (expected %v)", extractFieldName(err.Field()), err.Details()["expected"])
	case "enum":
		return fmt.Sprintf("property %q must be one of: %v", extractFieldName(err.Field()), err.Details()["allowed"])
	default:
		return err.Description()
	}
}

func extractFieldName(fieldPath string) string {
	parts := strings.Split(fieldPath, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if !isNumeric(parts[i]) {
			return parts[i]
		}
	}
	return fieldPath
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func extractPropertyFromDescription(description string) string {
	const prefix, suffix = "Additional property ", " is not allowed"
	if !strings.Contains(description, prefix) || !strings.Contains(description, suffix) {
		return ""
	}
	start := strings.Index(description, prefix) + len(prefix)
	end := strings.Index(description, suffix)
	if start >= end {
		return ""
	}
	return description[start:end]
}

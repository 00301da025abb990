package tool

import (
	"fmt"
	"strings"
)

// Valid parameter types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// ParamError reports every schema violation found in one validation pass,
// not just the first.
type ParamError struct {
	Tool       string
	Violations []string
}

// Error implements the error interface.
func (e *ParamError) Error() string {
	return fmt.Sprintf("tool %q: invalid parameters: %s", e.Tool, strings.Join(e.Violations, "; "))
}

// ValidateParams checks params against the schema: required-field presence
// and primitive-type matching. Arrays are distinguished from generic
// objects. Returns nil when params conform.
func ValidateParams(desc Descriptor, params map[string]any) error {
	var violations []string

	for _, name := range desc.Parameters.Required {
		if _, ok := params[name]; !ok {
			violations = append(violations, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	for name, value := range params {
		field, ok := desc.Parameters.Fields[name]
		if !ok {
			continue // Undeclared parameters pass through untyped
		}
		if field.Type == "" || field.Type == TypeAny {
			continue
		}
		if value == nil {
			continue // Explicit null satisfies any declared type
		}
		if !typeMatches(field.Type, value) {
			violations = append(violations,
				fmt.Sprintf("parameter %q: expected %s, got %T", name, field.Type, value))
		}
	}

	if len(violations) > 0 {
		return &ParamError{Tool: desc.Name, Violations: violations}
	}
	return nil
}

// typeMatches reports whether a Go value satisfies a declared type.
func typeMatches(declared string, value any) bool {
	switch declared {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		switch value.(type) {
		case []any, []string, []int, []float64:
			return true
		}
		return false
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown declared types do not fail validation; the manifest
		// validator rejects them before a tool is ever registered.
		return true
	}
}

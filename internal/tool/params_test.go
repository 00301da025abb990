package tool

import (
	"errors"
	"strings"
	"testing"
)

func echoDescriptor() Descriptor {
	return Descriptor{
		Name: "echo",
		Parameters: Schema{
			Required: []string{"input"},
			Fields: map[string]Field{
				"input":  {Type: TypeString},
				"count":  {Type: TypeNumber},
				"loud":   {Type: TypeBoolean},
				"items":  {Type: TypeArray},
				"extras": {Type: TypeObject},
			},
		},
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid minimal", map[string]any{"input": "hi"}, false},
		{"valid full", map[string]any{
			"input": "hi", "count": 3, "loud": true,
			"items": []any{"a"}, "extras": map[string]any{"k": "v"},
		}, false},
		{"missing required", map[string]any{"count": 3}, true},
		{"wrong string type", map[string]any{"input": 42}, true},
		{"wrong number type", map[string]any{"input": "hi", "count": "three"}, true},
		{"wrong boolean type", map[string]any{"input": "hi", "loud": "yes"}, true},
		{"object where array expected", map[string]any{"input": "hi", "items": map[string]any{}}, true},
		{"array where object expected", map[string]any{"input": "hi", "extras": []any{}}, true},
		{"float number ok", map[string]any{"input": "hi", "count": 1.5}, false},
		{"int64 number ok", map[string]any{"input": "hi", "count": int64(7)}, false},
		{"null satisfies type", map[string]any{"input": "hi", "count": nil}, false},
		{"undeclared param passes", map[string]any{"input": "hi", "bonus": struct{}{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(echoDescriptor(), tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParams() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParams_AllViolationsReported(t *testing.T) {
	desc := Descriptor{
		Name: "multi",
		Parameters: Schema{
			Required: []string{"a", "b"},
			Fields: map[string]Field{
				"a": {Type: TypeString},
				"b": {Type: TypeString},
				"c": {Type: TypeNumber},
			},
		},
	}

	err := ValidateParams(desc, map[string]any{"c": "not a number"})

	var paramErr *ParamError
	if !errors.As(err, &paramErr) {
		t.Fatalf("error type = %T, want *ParamError", err)
	}
	// Two missing required fields plus one type mismatch.
	if len(paramErr.Violations) != 3 {
		t.Errorf("Violations = %v, want 3 entries", paramErr.Violations)
	}
	if !strings.Contains(paramErr.Error(), "multi") {
		t.Errorf("Error() = %q, want tool name included", paramErr.Error())
	}
}

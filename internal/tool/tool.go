// Package tool defines the contract for tools plugins expose to the host,
// and the host-wide table they are registered into while their owning
// plugin is enabled.
package tool

import "context"

// Tool is a named, described, parameterized unit of functionality a plugin
// exposes to the host.
type Tool interface {
	// Descriptor returns the tool's metadata and parameter schema.
	Descriptor() Descriptor

	// Execute runs the tool with the given parameters. Parameters have
	// already been validated against the descriptor schema by the caller.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Descriptor describes a tool to the host and to tool consumers.
type Descriptor struct {
	// Name is the tool's unqualified name, unique within its plugin.
	Name string `json:"name"`

	// Description is a short human-readable summary.
	Description string `json:"description"`

	// Category groups related tools (e.g. "text", "data", "network").
	Category string `json:"category,omitempty"`

	// Parameters declares the tool's parameter schema.
	Parameters Schema `json:"parameters"`

	// Examples are illustrative invocations.
	Examples []Example `json:"examples,omitempty"`
}

// Schema is a JSON-schema-like parameter shape.
type Schema struct {
	// Required lists parameter names that must be present.
	Required []string `json:"required,omitempty"`

	// Fields maps parameter names to their declared types.
	Fields map[string]Field `json:"fields,omitempty"`
}

// Field declares one parameter.
type Field struct {
	// Type is one of: string, number, boolean, array, object, any.
	Type string `json:"type"`

	// Description explains the parameter.
	Description string `json:"description,omitempty"`
}

// Example is an illustrative tool invocation.
type Example struct {
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params"`
}

// Func adapts a plain function into a Tool.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, params map[string]any) (any, error)
}

// Descriptor implements Tool.
func (f *Func) Descriptor() Descriptor {
	return f.Desc
}

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f.Fn(ctx, params)
}

// Package tools holds the functions specialists can call through the LLM's
// function-calling interface, and the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Tool tool interface
type Tool interface {
	Name() string                                                     // Tool name
	Description() string                                              // Tool description (for LLM)
	Parameters() []ParameterDef                                       // Parameter definitions
	Execute(ctx context.Context, args map[string]any) (string, error) // Execute
}

// ParameterDef parameter definition
type ParameterDef struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string" | "number" | "integer" | "boolean"
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Func adapts a closure to the Tool interface. Session-bound tools are
// built this way so the model never has to pass a session id.
type Func struct {
	name        string
	description string
	params      []ParameterDef
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc creates a closure-backed tool
func NewFunc(name, description string, params []ParameterDef, fn func(ctx context.Context, args map[string]any) (string, error)) *Func {
	return &Func{name: name, description: description, params: params, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Description() string { return f.description }

func (f *Func) Parameters() []ParameterDef { return f.params }

func (f *Func) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}

// toJSON renders a tool result
func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// errorJSON is the tool-result form of a failure: {"error": "..."}
func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func floatArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

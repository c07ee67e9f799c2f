package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
)

// ErrUnknownTool is reported for calls to names not in the registry
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError describes arguments that do not match a tool's schema
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Param, e.Reason)
}

// Registry tool registry
type Registry struct {
	tools   map[string]Tool
	mu      sync.RWMutex
	metrics *metrics.Metrics
}

// NewRegistry creates a new tool registry; m may be nil
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		metrics: m,
	}
}

// Register registers a tool
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already exists", name)
	}

	r.tools[name] = tool
	return nil
}

// MustRegister registers tools, panicking on a duplicate name
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Get gets a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Names lists tool names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas returns function-calling definitions, sorted by name so requests
// are stable across runs
func (r *Registry) Schemas() []llm.Tool {
	names := r.Names()
	schemas := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		tool, _ := r.Get(name)
		schemas = append(schemas, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  buildParameterSchema(tool.Parameters()),
			},
		})
	}
	return schemas
}

// buildParameterSchema builds parameter schema
func buildParameterSchema(params []ParameterDef) map[string]any {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, param := range params {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Execute validates args against the tool's schema and runs it
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, exists := r.Get(name)
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := Validate(name, tool.Parameters(), args); err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}

// Dispatch runs one model-issued call with raw JSON arguments and always
// produces a tool-result string. Failures of any kind, panics included,
// become {"error": "..."} so the model can read them and recover.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) (out string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", "tool", name, "panic", fmt.Sprint(p))
			out, ok = errorJSON(fmt.Errorf("tool %s failed unexpectedly", name)), false
		}
		status := "ok"
		if !ok {
			status = "error"
		}
		r.metrics.RecordToolCall(name, status)
	}()

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errorJSON(fmt.Errorf("arguments for %s are not a JSON object: %v", name, err)), false
		}
	}

	result, err := r.Execute(ctx, name, args)
	if err != nil {
		logger.Warn("tool call failed", "tool", name, "error", err)
		return errorJSON(err), false
	}
	return result, true
}

// Validate checks required parameters, declared types and enums. Unknown
// extra arguments are ignored.
func Validate(tool string, params []ParameterDef, args map[string]any) error {
	for _, p := range params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "is required"}
			}
			continue
		}
		switch p.Type {
		case "string":
			s, ok := v.(string)
			if !ok {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must be a string"}
			}
			if p.Required && strings.TrimSpace(s) == "" {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must not be empty"}
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must be one of " + strings.Join(p.Enum, ", ")}
			}
		case "number":
			f, ok := v.(float64)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must be a number"}
			}
		case "integer":
			f, ok := v.(float64)
			if !ok || f != math.Trunc(f) {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must be an integer"}
			}
		case "boolean":
			if _, ok := v.(bool); !ok {
				return &ValidationError{Tool: tool, Param: p.Name, Reason: "must be a boolean"}
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

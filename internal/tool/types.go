// Package tool defines the Tool interface and a Registry.
// Every capability an agent has is expressed as a Tool.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nfugallo/terna/internal/llm"
	"github.com/nfugallo/terna/internal/metrics"
)

// Tool is the interface all agent tools must implement.
type Tool interface {
	// Schema returns the tool's name, description, and JSON Schema for inputs.
	Schema() llm.ToolSchema

	// NeedsApproval reports whether a call with this input must wait for a
	// human decision before Execute runs.
	NeedsApproval(input json.RawMessage) bool

	// Execute runs the tool with the given JSON input and returns a result string.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry holds all registered tools and provides lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics *metrics.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetMetrics enables per-execution counters.
func (r *Registry) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Register adds tools to the registry. Panics on duplicate name.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		name := t.Schema().Name
		if _, exists := r.tools[name]; exists {
			panic(fmt.Sprintf("tool already registered: %s", name))
		}
		r.tools[name] = t
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
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

// Schemas returns the schemas of the named tools, or of every tool when no
// names are given, sorted by name. Unknown names are skipped.
func (r *Registry) Schemas(names ...string) []llm.ToolSchema {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			schemas = append(schemas, t.Schema())
		}
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// NeedsApproval reports whether calling name with input must be approved.
// Unknown tools never need approval; Execute rejects them instead.
func (r *Registry) NeedsApproval(name string, input json.RawMessage) bool {
	t, ok := r.Get(name)
	return ok && t.NeedsApproval(input)
}

// Execute runs a tool by name with JSON input.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	out, err := t.Execute(ctx, input)
	if r.metrics != nil {
		r.metrics.RecordTool(name, err)
	}
	return out, err
}

// MustSchema builds a json.RawMessage from a Go value (panics on error).
func MustSchema(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustSchema: %v", err))
	}
	return b
}

// Package tools defines the tool interface, result envelope and registry
// used by the dispatcher. Every operation reachable by an orchestrator is a
// Tool registered here; the set is fixed at startup.
package tools

import (
	"context"
	"sort"
	"sync"
)

// RootParam is the argument key the dispatcher uses to inject the working
// root. Any caller-supplied value under this key is overwritten.
const RootParam = "working_directory"

// Tool is the interface all sandboxed operations implement.
type Tool interface {
	// Name returns the operation name the orchestrator calls (e.g. "write_file").
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// The injected root is not part of the schema.
	InputSchema() map[string]any

	// Validate checks argument shape only (presence and types). It must not
	// touch the filesystem.
	Validate(params map[string]any) error

	// Execute runs the operation. params always carries RootParam.
	// Expected failures are returned as *Error; the result is nil then.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
//
// Output is the textual contract handed back to the orchestrator: either the
// success text or an "Error: ..." message. Success and Kind carry the same
// information in structured form.
type Result struct {
	Output   string         `json:"output"`
	Success  bool           `json:"success"`
	Kind     ErrorKind      `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text returns the textual form of the result.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return r.Output
}

// Failure builds a failed result from an error. *Error values keep their
// kind; anything else is reported as KindInternal.
func Failure(err error) *Result {
	kind := KindOf(err)
	return &Result{
		Output:  err.Error(),
		Success: false,
		Kind:    kind,
	}
}

// Definition describes a tool for orchestrators that declare schemas to a model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names, sorted.
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

// Definitions returns the definitions of all registered tools, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Package tools implements the "Tool executor (consumed)" external
// interface from §6 and a Kind-based approval policy. The executor enforces
// the policy's allow/deny lists; NeedsConfirmation is exposed, but the agent
// loop's DispatchingTools phase does not consult it, so no tool call waits
// for approval. Grounded on the teacher's
// internal/domain/tool/tool.go (Kind taxonomy, Registry, Policy), trimmed to
// the subset the spec's ToolExecutor.run(tool_call) contract needs.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Kind classifies a tool's effect, driving approval policy.
type Kind string

const (
	KindRead        Kind = "read"
	KindEdit        Kind = "edit"
	KindExecute     Kind = "execute"
	KindDelete      Kind = "delete"
	KindSearch      Kind = "search"
	KindFetch       Kind = "fetch"
	KindThink       Kind = "think"
	KindCommunicate Kind = "communicate"
)

// MutatorKinds require confirmation under AskMode.
var MutatorKinds = map[Kind]bool{KindEdit: true, KindDelete: true, KindExecute: true}

// SafeKinds are auto-approved even under AskMode.
var SafeKinds = map[Kind]bool{KindRead: true, KindSearch: true, KindThink: true}

// Tool is one callable capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool's outcome. The core does not prescribe tool semantics; it
// only requires that re-running a tool with identical arguments produces
// acceptable results (§6).
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]interface{}
	Error    string
}

// DisplayOrOutput returns Display, falling back to Output when empty.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry looks up and lists tools available to the agent loop.
type Registry interface {
	Register(tool Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the default, in-process Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// Policy gates which tools may run and whether they need confirmation.
type Policy struct {
	AllowList []string
	DenyList  []string
	AskMode   bool
}

func (p *Policy) IsAllowed(toolName string) bool {
	for _, denied := range p.DenyList {
		if denied == toolName {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, allowed := range p.AllowList {
		if allowed == toolName {
			return true
		}
	}
	return false
}

// NeedsConfirmation reports whether kind requires user confirmation under
// the current AskMode (SafeKinds are always auto-approved).
func (p *Policy) NeedsConfirmation(kind Kind) bool {
	if !p.AskMode {
		return false
	}
	if SafeKinds[kind] {
		return false
	}
	return MutatorKinds[kind]
}

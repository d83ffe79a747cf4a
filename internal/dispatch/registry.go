// Package dispatch resolves a named tool call, validates its arguments
// against the tool's JSON schema, invokes the handler with bounded retry,
// and normalizes and truncates the result before it is handed back to the
// agent loop as a tool-role message.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/agentloop/internal/agent"
)

// Registration describes one registered tool and the dispatcher policy
// that applies to it.
type Registration struct {
	Tool agent.Tool

	// SideEffectful tools are never result-cached: planner, terminate, and
	// any executor-type tool whose output depends on external state that a
	// cache would stale-read.
	SideEffectful bool
}

// Registry is the name → tool lookup table the dispatcher consults.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds or replaces a tool under its own Name().
func (r *Registry) Register(tool agent.Tool, sideEffectful bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Name()] = Registration{Tool: tool, SideEffectful: sideEffectful}
}

// Lookup returns the registration for name, if any.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Tools returns every registered agent.Tool, for building a CompletionRequest.
func (r *Registry) Tools() []agent.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]agent.Tool, 0, len(r.entries))
	for _, reg := range r.entries {
		tools = append(tools, reg.Tool)
	}
	return tools
}

// Instructions collects the instruction blocks of every registered tool
// that provides one, sorted by tool name so the merged system prompt is
// stable across runs.
func (r *Registry) Instructions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		ins, ok := r.entries[name].Tool.(agent.Instructor)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(ins.Instructions()); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// Cleanup invokes Cleanup on every registered tool that implements it,
// trying all of them and returning the first error encountered.
func (r *Registry) Cleanup(ctx context.Context) error {
	r.mu.RLock()
	tools := make([]agent.Tool, 0, len(r.entries))
	for _, reg := range r.entries {
		tools = append(tools, reg.Tool)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, tool := range tools {
		cleaner, ok := tool.(agent.Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cleanup %s: %w", tool.Name(), err)
		}
	}
	return firstErr
}

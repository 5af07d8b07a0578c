// Package tools provides the tool inventory consulted during step mode
// resolution and used by tool-mode step execution.
//
// The static registry holds in-process tool functions; the MCP registry
// exposes the tools of a connected Model Context Protocol server through
// the same interface.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/faults"
)

// Func is an in-process tool implementation.
type Func func(ctx context.Context, args map[string]any) (string, error)

// StaticRegistry is a fixed, in-process tool inventory.
type StaticRegistry struct {
	mu    sync.RWMutex
	tools map[string]staticTool
}

type staticTool struct {
	desc collab.ToolDescriptor
	fn   Func
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{tools: make(map[string]staticTool)}
}

// Register adds a tool. Re-registering a name replaces the prior entry.
func (r *StaticRegistry) Register(name, description string, fn Func) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s: function is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = staticTool{
		desc: collab.ToolDescriptor{Name: name, Description: description},
		fn:   fn,
	}
	return nil
}

// Lookup returns the descriptor for name.
func (r *StaticRegistry) Lookup(name string) (collab.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.desc, ok
}

// List returns all descriptors in name order.
func (r *StaticRegistry) List() []collab.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collab.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool. An unknown name is a permanent external
// call failure; a tool error is transient and eligible for one retry.
func (r *StaticRegistry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", faults.ExternalCall("tool_registry", false,
			fmt.Errorf("unknown tool %q", name))
	}
	out, err := t.fn(ctx, args)
	if err != nil {
		return "", faults.ExternalCall("tool:"+name, true, err)
	}
	return out, nil
}

var _ collab.ToolRegistry = (*StaticRegistry)(nil)

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/faults"
)

// MCPRegistry exposes the tools of a connected MCP server session. The
// inventory is fetched once and cached; Refresh re-fetches it.
type MCPRegistry struct {
	session *mcp.ClientSession

	mu    sync.RWMutex
	descs map[string]collab.ToolDescriptor
}

// NewMCPRegistry fetches the server's tool list over the session.
func NewMCPRegistry(ctx context.Context, session *mcp.ClientSession) (*MCPRegistry, error) {
	r := &MCPRegistry{session: session}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh re-fetches the tool inventory from the server.
func (r *MCPRegistry) Refresh(ctx context.Context) error {
	res, err := r.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return faults.ExternalCall("mcp_registry", true, fmt.Errorf("list tools: %w", err))
	}
	descs := make(map[string]collab.ToolDescriptor, len(res.Tools))
	for _, t := range res.Tools {
		descs[t.Name] = collab.ToolDescriptor{Name: t.Name, Description: t.Description}
	}
	r.mu.Lock()
	r.descs = descs
	r.mu.Unlock()
	return nil
}

// Lookup returns the descriptor for name.
func (r *MCPRegistry) Lookup(name string) (collab.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	return d, ok
}

// List returns all descriptors in name order.
func (r *MCPRegistry) List() []collab.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collab.ToolDescriptor, 0, len(r.descs))
	for _, d := range r.descs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke calls the named tool on the server and concatenates its text
// content. Server-reported tool errors are transient; an unknown name is
// permanent.
func (r *MCPRegistry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if _, ok := r.Lookup(name); !ok {
		return "", faults.ExternalCall("mcp_registry", false,
			fmt.Errorf("unknown tool %q", name))
	}
	res, err := r.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", faults.ExternalCall("mcp_tool:"+name, true, err)
	}
	text := flattenContent(res.Content)
	if res.IsError {
		return "", faults.ExternalCall("mcp_tool:"+name, true,
			fmt.Errorf("tool reported error: %s", text))
	}
	return text, nil
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ collab.ToolRegistry = (*MCPRegistry)(nil)

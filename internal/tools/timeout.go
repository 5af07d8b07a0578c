package tools

import (
	"context"
	"time"

	"github.com/loopkit/quadra/internal/collab"
)

// timeoutRegistry bounds every invocation of the wrapped registry.
type timeoutRegistry struct {
	inner collab.ToolRegistry
	d     time.Duration
}

// WithTimeout wraps a registry so each Invoke runs under its own
// deadline. A non-positive duration returns the registry unchanged.
func WithTimeout(inner collab.ToolRegistry, d time.Duration) collab.ToolRegistry {
	if d <= 0 {
		return inner
	}
	return &timeoutRegistry{inner: inner, d: d}
}

func (r *timeoutRegistry) Lookup(name string) (collab.ToolDescriptor, bool) {
	return r.inner.Lookup(name)
}

func (r *timeoutRegistry) List() []collab.ToolDescriptor {
	return r.inner.List()
}

func (r *timeoutRegistry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.d)
	defer cancel()
	return r.inner.Invoke(ctx, name, args)
}

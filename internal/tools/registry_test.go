package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/quadra/internal/faults"
)

func TestStaticRegistry_RegisterLookupList(t *testing.T) {
	r := NewStaticRegistry()
	require.NoError(t, r.Register("search", "full text search", func(ctx context.Context, args map[string]any) (string, error) {
		return "hits", nil
	}))
	require.NoError(t, r.Register("fetch", "fetch a url", func(ctx context.Context, args map[string]any) (string, error) {
		return "body", nil
	}))

	d, ok := r.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "full text search", d.Description)

	names := make([]string, 0, 2)
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"fetch", "search"}, names)
}

func TestStaticRegistry_RegisterRejectsEmptyName(t *testing.T) {
	r := NewStaticRegistry()
	err := r.Register("", "nameless", func(ctx context.Context, args map[string]any) (string, error) {
		return "", nil
	})
	require.Error(t, err)
}

func TestStaticRegistry_InvokeUnknownToolIsPermanent(t *testing.T) {
	r := NewStaticRegistry()

	_, err := r.Invoke(context.Background(), "ghost", nil)
	require.Error(t, err)
	f, ok := faults.As(err)
	require.True(t, ok)
	assert.Equal(t, faults.KindExternalCall, f.Kind)
	assert.False(t, faults.IsRetryable(err))
}

func TestStaticRegistry_InvokeToolErrorIsTransient(t *testing.T) {
	r := NewStaticRegistry()
	require.NoError(t, r.Register("flaky", "sometimes fails", func(ctx context.Context, args map[string]any) (string, error) {
		return "", fmt.Errorf("upstream timeout")
	}))

	_, err := r.Invoke(context.Background(), "flaky", nil)
	require.Error(t, err)
	assert.True(t, faults.IsRetryable(err))
}

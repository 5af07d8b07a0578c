package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_WriteReadRoundTrip(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "pass.1.step.a", []byte(`{"status":"complete"}`)))

	v, ok, err := m.Read(ctx, "pass.1.step.a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"complete"}`, string(v))

	_, ok, err = m.Read(ctx, "pass.1.step.missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemory_SearchReturnsSortedPrefixMatches(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "pass.2.step.b", []byte("2b")))
	require.NoError(t, m.Write(ctx, "pass.1.step.a", []byte("1a")))
	require.NoError(t, m.Write(ctx, "pass.1.step.c", []byte("1c")))

	entries, err := m.Search(ctx, "pass.1.")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pass.1.step.a", entries[0].Key)
	assert.Equal(t, "pass.1.step.c", entries[1].Key)
}

func TestInMemory_StoredValueIsIsolatedFromCaller(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, m.Write(ctx, "k", buf))
	buf[0] = 'X'

	v, ok, err := m.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "original", string(v))
}

package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/quadra/internal/memstore"
	"github.com/loopkit/quadra/internal/phase"
)

func TestLogger_PersistsEventsInOrder(t *testing.T) {
	mem := memstore.NewInMemory()
	l := New(nil, mem, "corr-1")
	ctx := context.Background()

	l.PhaseEntry(ctx, phase.A, 1, 3, map[string]any{"task_input": "triage"})
	l.TTLCheckpoint(ctx, phase.A, 1, 3, "phase_boundary")
	l.PhaseExit(ctx, phase.A, 1, 3, map[string]any{"profile_version": 1})

	entries, err := mem.Search(ctx, "boundary.corr-1.")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var first Event
	require.NoError(t, json.Unmarshal(entries[0].Value, &first))
	assert.Equal(t, EventPhaseEntry, first.Kind)
	assert.Equal(t, phase.A, first.Phase)
	assert.Equal(t, "corr-1", first.CorrelationID)
	assert.Equal(t, 3, first.TTLRemaining)

	var second Event
	require.NoError(t, json.Unmarshal(entries[1].Value, &second))
	assert.Equal(t, EventTTLCheckpoint, second.Kind)
	assert.Equal(t, "phase_boundary", second.Checkpoint)
}

func TestLogger_FailureEventCarriesPayload(t *testing.T) {
	mem := memstore.NewInMemory()
	l := New(nil, mem, "corr-1")
	ctx := context.Background()

	l.Failure(ctx, phase.C, 2, 1, map[string]any{
		"error_code": "external_call_failure",
		"severity":   "recoverable",
	})

	entries, err := mem.Search(ctx, "boundary.corr-1.")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var ev Event
	require.NoError(t, json.Unmarshal(entries[0].Value, &ev))
	assert.Equal(t, EventFailure, ev.Kind)
	assert.Contains(t, string(ev.Failure), "external_call_failure")
}

type failingMemory struct{ memstore.InMemory }

func (f *failingMemory) Write(ctx context.Context, key string, value []byte) error {
	return fmt.Errorf("bucket offline")
}

func TestLogger_SwallowsWriteFailures(t *testing.T) {
	l := New(nil, &failingMemory{}, "corr-1")

	// Must not panic or surface the error.
	l.PhaseEntry(context.Background(), phase.B, 1, 2, nil)
}

package ttl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/quadra/internal/faults"
)

func TestNewGovernor_RejectsZeroBudget(t *testing.T) {
	_, err := NewGovernor(0)
	require.Error(t, err)

	_, err = NewGovernor(-1)
	require.Error(t, err)
}

func TestGovernor_DecrementsOncePerCycle(t *testing.T) {
	g, err := NewGovernor(3)
	require.NoError(t, err)

	// A full cycle touches both checkpoints many times; only CompleteCycle
	// may change the balance.
	require.NoError(t, g.CheckBoundary())
	require.NoError(t, g.CheckMidPhase())
	require.NoError(t, g.CheckMidPhase())
	assert.Equal(t, 3, g.Remaining())

	require.NoError(t, g.CompleteCycle())
	assert.Equal(t, 2, g.Remaining())
	assert.Equal(t, 1, g.Decrements())
}

func TestGovernor_BoundaryExpirationAtZero(t *testing.T) {
	g, err := NewGovernor(1)
	require.NoError(t, err)

	// With ttl_remaining=1 the boundary check passes, the cycle completes,
	// and TTL becomes 0.
	require.NoError(t, g.CheckBoundary())
	require.NoError(t, g.CompleteCycle())
	assert.Equal(t, 0, g.Remaining())

	// The next boundary check reports phase_boundary expiration.
	err = g.CheckBoundary()
	require.Error(t, err)
	point, ok := faults.IsTTLExpired(err)
	require.True(t, ok)
	assert.Equal(t, faults.ExpirationPhaseBoundary, point)
}

func TestGovernor_MidPhaseExpirationAtZero(t *testing.T) {
	g, err := NewGovernor(1)
	require.NoError(t, err)
	require.NoError(t, g.CompleteCycle())

	err = g.CheckMidPhase()
	require.Error(t, err)
	point, ok := faults.IsTTLExpired(err)
	require.True(t, ok)
	assert.Equal(t, faults.ExpirationMidPhase, point)
}

func TestGovernor_CompleteCycleAtZeroFails(t *testing.T) {
	g, err := NewGovernor(1)
	require.NoError(t, err)
	require.NoError(t, g.CompleteCycle())

	err = g.CompleteCycle()
	require.Error(t, err)
	_, ok := faults.IsTTLExpired(err)
	assert.True(t, ok)
	assert.Equal(t, 0, g.Remaining(), "budget never goes negative")
}

func TestGovernor_Reallocate(t *testing.T) {
	g, err := NewGovernor(2)
	require.NoError(t, err)
	require.NoError(t, g.CompleteCycle())

	require.NoError(t, g.Reallocate(5))
	assert.Equal(t, 5, g.Remaining())
	assert.Equal(t, 5, g.Allocated())
	assert.Equal(t, 1, g.Decrements(), "reallocation does not touch the decrement count")

	require.Error(t, g.Reallocate(-1))
}

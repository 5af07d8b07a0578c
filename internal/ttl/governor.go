// Package ttl implements the cycle budget governor.
//
// TTL is an integer number of remaining full cycles (one cycle = one
// A->B->C->D pass). It decrements by exactly one per complete cycle, never
// per phase and never per external call. Expiration is detected at two
// checkpoints: before entering any phase (phase_boundary) and after every
// external reasoning call within a phase (mid_phase).
package ttl

import (
	"fmt"

	"github.com/loopkit/quadra/internal/faults"
)

const component = "ttl_governor"

// Governor tracks the remaining cycle budget for one run. It is owned by
// the orchestrator and, like the rest of the kernel state, accessed from a
// single goroutine.
type Governor struct {
	remaining  int
	allocated  int
	decrements int
}

// NewGovernor creates a governor with the given initial budget.
func NewGovernor(budget int) (*Governor, error) {
	if budget < 1 {
		return nil, fmt.Errorf("ttl budget must be at least 1, got %d", budget)
	}
	return &Governor{remaining: budget, allocated: budget}, nil
}

// Remaining returns the current cycle budget.
func (g *Governor) Remaining() int {
	return g.remaining
}

// Allocated returns the budget as last set (initially or by [Reallocate]).
func (g *Governor) Allocated() int {
	return g.allocated
}

// Decrements returns how many complete cycles have been charged.
func (g *Governor) Decrements() int {
	return g.decrements
}

// CheckBoundary is the before-phase-entry checkpoint. It returns a
// phase_boundary TTL expiration when the budget is exhausted.
func (g *Governor) CheckBoundary() error {
	if g.remaining == 0 {
		return faults.TTLExpired(component, faults.ExpirationPhaseBoundary)
	}
	return nil
}

// CheckMidPhase is the after-external-call checkpoint. It returns a
// mid_phase TTL expiration when the budget is exhausted.
func (g *Governor) CheckMidPhase() error {
	if g.remaining == 0 {
		return faults.TTLExpired(component, faults.ExpirationMidPhase)
	}
	return nil
}

// CompleteCycle charges exactly one cycle. It is the only operation that
// lowers the budget.
func (g *Governor) CompleteCycle() error {
	if g.remaining == 0 {
		return faults.TTLExpired(component, faults.ExpirationPhaseBoundary)
	}
	g.remaining--
	g.decrements++
	return nil
}

// Reallocate sets a new remaining budget at a pass boundary. This is the
// adaptive-depth revision path from Phase D; it changes the allocation,
// never the decrement rule.
func (g *Governor) Reallocate(budget int) error {
	if budget < 0 {
		return fmt.Errorf("ttl reallocation must be non-negative, got %d", budget)
	}
	g.allocated = budget
	g.remaining = budget
	return nil
}

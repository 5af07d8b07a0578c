// Package phase defines the phase and transition vocabulary for the
// four-phase orchestration cycle.
//
// Phase flow for one pass:
//
//	A (profiling) -> B (plan refinement) -> C (execute/evaluate/refine) -> D (adaptive depth)
//
// Phase C runs an inner sub-step loop:
//
//	execute -> evaluate -> (refine -> execute)* -> exit to D
//
// After D the run either terminates or begins the next pass at A (profile
// revised) or B (profile kept).
package phase

import "fmt"

// Phase identifies one of the four top-level phases of a pass.
type Phase string

const (
	// A is the profiling phase. It infers a TaskProfile and proposes the
	// initial plan for the pass.
	A Phase = "A"

	// B is the plan refinement phase. It validates and refines the plan
	// before execution.
	B Phase = "B"

	// C is the execution phase, containing the execute/evaluate/refine
	// sub-step loop.
	C Phase = "C"

	// D is the adaptive depth phase. It assesses convergence and may
	// revise the task profile at the pass boundary.
	D Phase = "D"
)

// All returns the phases of one pass in execution order.
func All() []Phase {
	return []Phase{A, B, C, D}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case A, B, C, D:
		return true
	}
	return false
}

// Name returns the descriptive name of the phase.
func (p Phase) Name() string {
	switch p {
	case A:
		return "profiling"
	case B:
		return "plan_refinement"
	case C:
		return "execution"
	case D:
		return "adaptive_depth"
	}
	return "unknown"
}

// SubStep identifies one of Phase C's inner sub-steps.
type SubStep string

const (
	Execute  SubStep = "execute"
	Evaluate SubStep = "evaluate"
	Refine   SubStep = "refine"
)

// Transition names one of the four governed phase transitions.
type Transition string

const (
	AB Transition = "A->B"
	BC Transition = "B->C"
	CD Transition = "C->D"
	// DA covers both D->A (profile revised) and D->B (profile kept);
	// the contract is shared, only the entry phase of the next pass differs.
	DA Transition = "D->A|B"
)

// From returns the source phase of the transition.
func (t Transition) From() Phase {
	switch t {
	case AB:
		return A
	case BC:
		return B
	case CD:
		return C
	case DA:
		return D
	}
	return ""
}

// Into returns the transition that guards entry into the given phase.
// Phase A on the first pass has no inbound transition; callers handle
// that case before asking.
func Into(p Phase) (Transition, error) {
	switch p {
	case B:
		return AB, nil
	case C:
		return BC, nil
	case D:
		return CD, nil
	case A:
		return DA, nil
	}
	return "", fmt.Errorf("no transition into phase %q", p)
}

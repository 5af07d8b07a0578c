// Package contract defines the transition contracts between phases.
//
// A contract X->Y wraps the body of phase Y: its required inputs are
// checked before the body runs, its guaranteed outputs after. A violated
// guarantee tagged retryable causes exactly one re-run of the body; a
// second violation escalates. Required-input violations are structural
// kernel bugs and never retried.
package contract

import (
	"context"
	"fmt"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/phase"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
)

// Exchange is the typed state a contract inspects. The orchestrator fills
// the fields relevant to the transition being enforced.
type Exchange struct {
	CorrelationID string
	PassNumber    int
	TTLRemaining  int

	Profile     *profile.Profile
	Plan        *plan.Plan
	Results     []collab.StepResult
	Evaluations []collab.Evaluation
	Validation  *collab.SemanticValidationReport
	Assessment  *collab.ConvergenceAssessment
	Revision    *collab.DepthRevision

	// Next is the phase the D->A|B contract resolved to.
	Next phase.Phase
}

// Rule is one contract condition. Retryable marks output guarantees whose
// violation warrants a single re-run of the phase body.
type Rule struct {
	Name      string
	Retryable bool
	Check     func(x Exchange) error
}

// Contract binds required inputs and guaranteed outputs to a transition.
type Contract struct {
	Transition phase.Transition
	Inputs     []Rule
	Outputs    []Rule
}

// CheckInputs validates the required inputs. Violations are never
// retryable.
func (c *Contract) CheckInputs(x Exchange) error {
	for _, r := range c.Inputs {
		if err := r.Check(x); err != nil {
			return faults.ContractViolation(string(c.Transition),
				fmt.Sprintf("required input %q: %v", r.Name, err), false, err)
		}
	}
	return nil
}

// CheckOutputs validates the guaranteed outputs, honoring per-rule
// retryability.
func (c *Contract) CheckOutputs(x Exchange) error {
	for _, r := range c.Outputs {
		if err := r.Check(x); err != nil {
			return faults.ContractViolation(string(c.Transition),
				fmt.Sprintf("guaranteed output %q: %v", r.Name, err), r.Retryable, err)
		}
	}
	return nil
}

// Enforce wraps the destination phase's body. Inputs are checked once;
// the body plus output check is retried exactly once when the failure is
// retryable.
func (c *Contract) Enforce(ctx context.Context, pre Exchange, body func(context.Context) (Exchange, error)) (Exchange, error) {
	if err := c.CheckInputs(pre); err != nil {
		return Exchange{}, err
	}
	return faults.OnceValue(ctx, string(c.Transition), func(ctx context.Context) (Exchange, error) {
		out, err := body(ctx)
		if err != nil {
			return Exchange{}, err
		}
		if err := c.CheckOutputs(out); err != nil {
			return Exchange{}, err
		}
		return out, nil
	})
}

// AB is the A->B contract: profiling must have produced a valid profile
// and an initial plan before refinement may run; refinement must leave a
// valid plan whose blocked steps are marked invalid.
func AB() *Contract {
	return &Contract{
		Transition: phase.AB,
		Inputs: []Rule{
			{Name: "task_profile", Check: func(x Exchange) error {
				if x.Profile == nil {
					return fmt.Errorf("absent")
				}
				return x.Profile.Validate()
			}},
			{Name: "initial_plan", Check: func(x Exchange) error {
				if x.Plan == nil {
					return fmt.Errorf("absent")
				}
				if len(x.Plan.Steps) == 0 {
					return fmt.Errorf("plan has no steps")
				}
				return x.Plan.Validate()
			}},
		},
		Outputs: []Rule{
			{Name: "refined_plan", Retryable: true, Check: func(x Exchange) error {
				if x.Plan == nil {
					return fmt.Errorf("absent")
				}
				return x.Plan.Validate()
			}},
			{Name: "clarity_assigned", Retryable: true, Check: func(x Exchange) error {
				for _, s := range x.Plan.Steps {
					if s.Clarity == "" {
						return fmt.Errorf("step %s has no clarity state", s.ID)
					}
				}
				return nil
			}},
		},
	}
}

// BC is the B->C contract: execution requires a refined, internally
// consistent plan; it must produce one result per attempted step and an
// evaluation for the pass.
func BC() *Contract {
	return &Contract{
		Transition: phase.BC,
		Inputs: []Rule{
			{Name: "refined_plan", Check: func(x Exchange) error {
				if x.Plan == nil {
					return fmt.Errorf("absent")
				}
				return x.Plan.Validate()
			}},
			{Name: "profile", Check: func(x Exchange) error {
				if x.Profile == nil {
					return fmt.Errorf("absent")
				}
				return nil
			}},
		},
		Outputs: []Rule{
			{Name: "step_results", Retryable: true, Check: func(x Exchange) error {
				if len(x.Results) == 0 {
					return fmt.Errorf("no step results recorded")
				}
				known := make(map[string]bool, len(x.Plan.Steps))
				for _, s := range x.Plan.Steps {
					known[s.ID] = true
				}
				for _, r := range x.Results {
					if !known[r.StepID] {
						return fmt.Errorf("result references unknown step %s", r.StepID)
					}
				}
				return nil
			}},
			{Name: "evaluation", Retryable: true, Check: func(x Exchange) error {
				if len(x.Evaluations) == 0 {
					return fmt.Errorf("no evaluation recorded")
				}
				for i := range x.Evaluations {
					if err := x.Evaluations[i].Validate(); err != nil {
						return err
					}
				}
				return nil
			}},
		},
	}
}

// CD is the C->D contract: adaptive depth needs the pass's results and
// evaluations; it must produce a well-formed convergence assessment, and
// a valid depth revision whenever a mismatch is reported.
func CD() *Contract {
	return &Contract{
		Transition: phase.CD,
		Inputs: []Rule{
			{Name: "step_results", Check: func(x Exchange) error {
				if len(x.Results) == 0 {
					return fmt.Errorf("absent")
				}
				return nil
			}},
			{Name: "evaluations", Check: func(x Exchange) error {
				if len(x.Evaluations) == 0 {
					return fmt.Errorf("absent")
				}
				return nil
			}},
		},
		Outputs: []Rule{
			{Name: "assessment", Retryable: true, Check: func(x Exchange) error {
				if x.Assessment == nil {
					return fmt.Errorf("absent")
				}
				return x.Assessment.Validate()
			}},
			{Name: "depth_revision", Retryable: true, Check: func(x Exchange) error {
				if x.Revision == nil {
					return nil
				}
				return x.Revision.Validate()
			}},
		},
	}
}

// DA is the D->A|B contract: it requires a convergence assessment and
// guarantees a resolved next phase, with a revised profile carrying an
// incremented version whenever the route is back to A.
func DA() *Contract {
	return &Contract{
		Transition: phase.DA,
		Inputs: []Rule{
			{Name: "assessment", Check: func(x Exchange) error {
				if x.Assessment == nil {
					return fmt.Errorf("absent")
				}
				return nil
			}},
		},
		Outputs: []Rule{
			{Name: "next_phase", Check: func(x Exchange) error {
				if x.Next != phase.A && x.Next != phase.B {
					return fmt.Errorf("next phase %q is neither A nor B", x.Next)
				}
				return nil
			}},
			{Name: "revised_profile", Check: func(x Exchange) error {
				if x.Next != phase.A {
					return nil
				}
				if x.Revision == nil || x.Revision.RevisedProfile == nil {
					return fmt.Errorf("route to A without a revised profile")
				}
				if x.Profile != nil && x.Revision.RevisedProfile.Version <= x.Profile.Version {
					return fmt.Errorf("revised profile version %d not incremented past %d",
						x.Revision.RevisedProfile.Version, x.Profile.Version)
				}
				return nil
			}},
		},
	}
}

// For returns the contract guarding entry into the given phase, or nil
// for the first-pass entry into A which has no inbound contract.
func For(t phase.Transition) *Contract {
	switch t {
	case phase.AB:
		return AB()
	case phase.BC:
		return BC()
	case phase.CD:
		return CD()
	case phase.DA:
		return DA()
	}
	return nil
}

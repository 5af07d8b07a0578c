// Package plan defines the Plan and PlanStep records, the tagged step-mode
// variant, and refinement actions.
//
// Plans are plain records with explicit validation functions; no invariant
// is enforced at construction time. A Plan's identity is stable across a
// pass: collaborators receive clones and return new values, and only the
// orchestrator applies an accepted replacement under contract.
package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StatusPending  StepStatus = "pending"
	StatusRunning  StepStatus = "running"
	StatusComplete StepStatus = "complete"
	StatusFailed   StepStatus = "failed"
	StatusInvalid  StepStatus = "invalid"
)

// Valid reports whether s is a known status.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusComplete, StatusFailed, StatusInvalid:
		return true
	}
	return false
}

// Clarity grades how well-specified a step is.
type Clarity string

const (
	ClarityClear          Clarity = "CLEAR"
	ClarityPartiallyClear Clarity = "PARTIALLY_CLEAR"
	ClarityBlocked        Clarity = "BLOCKED"
)

// AgentReasoning is the explicit reasoning marker on a step's agent field.
// A step carrying it executes as a reasoning step even without a tool.
const AgentReasoning = "reasoning"

// Step is one unit of work within a plan.
type Step struct {
	ID              string     `json:"step_id"`
	Description     string     `json:"description"`
	Status          StepStatus `json:"status"`
	Index           int        `json:"step_index"`
	TotalSteps      int        `json:"total_steps"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	Tool            string     `json:"tool,omitempty"`
	Agent           string     `json:"agent,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
	IncomingContext string     `json:"incoming_context,omitempty"`
	HandoffToNext   string     `json:"handoff_to_next,omitempty"`
	Clarity         Clarity    `json:"clarity_state,omitempty"`
}

// Validate checks the step's own cross-field invariants.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step_id is required")
	}
	if s.Description == "" {
		return fmt.Errorf("step %s: description is required", s.ID)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("step %s: unknown status %q", s.ID, s.Status)
	}
	if s.Clarity == ClarityBlocked && s.Status != StatusInvalid {
		return fmt.Errorf("step %s: clarity_state BLOCKED requires status invalid, got %q", s.ID, s.Status)
	}
	return nil
}

// Plan is an ordered set of steps toward a goal.
type Plan struct {
	ID    string `json:"plan_id"`
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// New creates a plan with a fresh identity and normalized step numbering.
func New(goal string, steps []Step) *Plan {
	p := &Plan{
		ID:    uuid.NewString(),
		Goal:  goal,
		Steps: steps,
	}
	p.renumber()
	return p
}

// Validate checks the plan and every step, including dependency references.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan_id is required")
	}
	if p.Goal == "" {
		return fmt.Errorf("goal is required")
	}

	ids := make(map[string]struct{}, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("duplicate step_id %s", s.ID)
		}
		ids[s.ID] = struct{}{}
		if s.Index != i {
			return fmt.Errorf("step %s: step_index %d does not match position %d", s.ID, s.Index, i)
		}
		if s.TotalSteps != len(p.Steps) {
			return fmt.Errorf("step %s: total_steps %d does not match plan size %d", s.ID, s.TotalSteps, len(p.Steps))
		}
	}

	for i := range p.Steps {
		for _, dep := range p.Steps[i].Dependencies {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("step %s: unknown dependency %s", p.Steps[i].ID, dep)
			}
		}
	}
	return nil
}

// Step returns a pointer to the step with the given id.
func (p *Plan) Step(id string) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// Pending returns the ids of steps still awaiting execution.
func (p *Plan) Pending() []string {
	var ids []string
	for i := range p.Steps {
		if p.Steps[i].Status == StatusPending {
			ids = append(ids, p.Steps[i].ID)
		}
	}
	return ids
}

// Clone returns a deep copy, preserving identity. Collaborators always
// receive clones, never the live plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{ID: p.ID, Goal: p.Goal}
	out.Steps = make([]Step, len(p.Steps))
	copy(out.Steps, p.Steps)
	for i := range out.Steps {
		out.Steps[i].Dependencies = append([]string(nil), p.Steps[i].Dependencies...)
		out.Steps[i].Errors = append([]string(nil), p.Steps[i].Errors...)
	}
	return out
}

// renumber rewrites step_index and total_steps after structural changes.
func (p *Plan) renumber() {
	for i := range p.Steps {
		p.Steps[i].Index = i
		p.Steps[i].TotalSteps = len(p.Steps)
	}
}

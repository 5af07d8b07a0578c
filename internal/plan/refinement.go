package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// ActionType enumerates refinement action kinds.
type ActionType string

const (
	ActionAdd             ActionType = "ADD"
	ActionModify          ActionType = "MODIFY"
	ActionRemove          ActionType = "REMOVE"
	ActionReplace         ActionType = "REPLACE"
	ActionSubplanCreate   ActionType = "SUBPLAN_CREATE"
	ActionStepMarkInvalid ActionType = "STEP_MARK_INVALID"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionAdd, ActionModify, ActionRemove, ActionReplace, ActionSubplanCreate, ActionStepMarkInvalid:
		return true
	}
	return false
}

// RefinementAction is one proposed change to a plan. Actions are proposed
// by collaborators and applied, after validation, only by the orchestrator.
type RefinementAction struct {
	ActionType            ActionType `json:"action_type"`
	TargetStepID          string     `json:"target_step_id,omitempty"`
	NewStep               *Step      `json:"new_step,omitempty"`
	Justification         string     `json:"justification"`
	InconsistencyDetected bool       `json:"inconsistency_detected"`
}

// Validate checks the action against the plan it would apply to. An action
// flagged as correcting an inconsistency may only target a step that has
// not executed yet.
func (a RefinementAction) Validate(p *Plan) error {
	if !a.ActionType.Valid() {
		return fmt.Errorf("unknown action_type %q", a.ActionType)
	}
	if a.Justification == "" {
		return fmt.Errorf("%s: justification is required", a.ActionType)
	}

	needsTarget := a.ActionType != ActionAdd && a.ActionType != ActionSubplanCreate
	var target *Step
	if needsTarget {
		if a.TargetStepID == "" {
			return fmt.Errorf("%s: target_step_id is required", a.ActionType)
		}
		var ok bool
		target, ok = p.Step(a.TargetStepID)
		if !ok {
			return fmt.Errorf("%s: target step %s not in plan", a.ActionType, a.TargetStepID)
		}
	}

	needsStep := a.ActionType == ActionAdd || a.ActionType == ActionModify ||
		a.ActionType == ActionReplace || a.ActionType == ActionSubplanCreate
	if needsStep && a.NewStep == nil {
		return fmt.Errorf("%s: new_step is required", a.ActionType)
	}

	if a.InconsistencyDetected && target != nil && target.Status != StatusPending {
		return fmt.Errorf("%s: inconsistency correction cannot target executed step %s (status %s)",
			a.ActionType, a.TargetStepID, target.Status)
	}
	return nil
}

// Apply validates actions against p and returns a new plan with the
// actions applied in order. The input plan is never mutated; the returned
// plan keeps p's identity. SUBPLAN_CREATE inserts the new step immediately
// after its target (or appends without one), preserving expansion order.
func Apply(p *Plan, actions []RefinementAction) (*Plan, error) {
	out := p.Clone()
	for _, a := range actions {
		if err := a.Validate(out); err != nil {
			return nil, err
		}
		switch a.ActionType {
		case ActionAdd:
			out.Steps = append(out.Steps, withID(*a.NewStep))
		case ActionModify, ActionReplace:
			s, _ := out.Step(a.TargetStepID)
			id := s.ID
			*s = *a.NewStep
			s.ID = id
		case ActionRemove:
			out.removeStep(a.TargetStepID)
		case ActionSubplanCreate:
			out.insertAfter(a.TargetStepID, withID(*a.NewStep))
		case ActionStepMarkInvalid:
			s, _ := out.Step(a.TargetStepID)
			s.Status = StatusInvalid
		}
	}
	out.renumber()
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("refined plan invalid: %w", err)
	}
	return out, nil
}

// withID assigns a fresh step id when the proposing collaborator omitted
// one.
func withID(s Step) Step {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s
}

func (p *Plan) removeStep(id string) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			p.Steps = append(p.Steps[:i], p.Steps[i+1:]...)
			return
		}
	}
}

func (p *Plan) insertAfter(id string, s Step) {
	if id == "" {
		p.Steps = append(p.Steps, s)
		return
	}
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			p.Steps = append(p.Steps[:i+1], append([]Step{s}, p.Steps[i+1:]...)...)
			return
		}
	}
	p.Steps = append(p.Steps, s)
}

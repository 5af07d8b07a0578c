package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
)

// The default collaborators delegate to a Reasoner and shape-check the
// returned payload. A payload that does not decode into the expected shape
// is classified as a retryable external call failure, matching the
// parse-error case of the owning contracts; a payload that decodes but
// violates its shape rules is permanent.

// ReasoningProfiler infers task profiles through the reasoner.
type ReasoningProfiler struct {
	r Reasoner
}

// NewReasoningProfiler creates the default Phase A profiler.
func NewReasoningProfiler(r Reasoner) *ReasoningProfiler {
	return &ReasoningProfiler{r: r}
}

// Infer implements Profiler.
func (p *ReasoningProfiler) Infer(ctx context.Context, req Request) (*profile.Profile, error) {
	var out profile.Profile
	if err := callInto(ctx, p.r, "profiler", req, &out); err != nil {
		return nil, err
	}
	if out.Version == 0 {
		out.Version = 1
	}
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("profiler", false, fmt.Errorf("profile shape: %w", err))
	}
	return &out, nil
}

// ReasoningPlanner proposes and refines plans through the reasoner.
type ReasoningPlanner struct {
	r Reasoner
}

// NewReasoningPlanner creates the default planner.
func NewReasoningPlanner(r Reasoner) *ReasoningPlanner {
	return &ReasoningPlanner{r: r}
}

// Propose implements Planner.
func (p *ReasoningPlanner) Propose(ctx context.Context, req Request) (*plan.Plan, error) {
	var proposal struct {
		Goal  string      `json:"goal"`
		Steps []plan.Step `json:"steps"`
	}
	if err := callInto(ctx, p.r, "planner", req, &proposal); err != nil {
		return nil, err
	}
	if proposal.Goal == "" || len(proposal.Steps) == 0 {
		return nil, faults.ExternalCall("planner", false, fmt.Errorf("plan proposal missing goal or steps"))
	}
	for i := range proposal.Steps {
		if proposal.Steps[i].Status == "" {
			proposal.Steps[i].Status = plan.StatusPending
		}
	}
	out := plan.New(proposal.Goal, proposal.Steps)
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("planner", false, fmt.Errorf("plan shape: %w", err))
	}
	return out, nil
}

// Refine implements Planner.
func (p *ReasoningPlanner) Refine(ctx context.Context, req Request) ([]plan.RefinementAction, error) {
	var out struct {
		Actions []plan.RefinementAction `json:"actions"`
	}
	if err := callInto(ctx, p.r, "planner", req, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// ReasoningEvaluator judges step results through the reasoner.
type ReasoningEvaluator struct {
	r Reasoner
}

// NewReasoningEvaluator creates the default Phase C evaluator.
func NewReasoningEvaluator(r Reasoner) *ReasoningEvaluator {
	return &ReasoningEvaluator{r: r}
}

// Evaluate implements Evaluator.
func (e *ReasoningEvaluator) Evaluate(ctx context.Context, req Request) (*Evaluation, error) {
	var out Evaluation
	if err := callInto(ctx, e.r, "evaluator", req, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("evaluator", false, fmt.Errorf("evaluation shape: %w", err))
	}
	return &out, nil
}

// ReasoningValidator detects semantic issues through the reasoner.
type ReasoningValidator struct {
	r Reasoner
}

// NewReasoningValidator creates the default semantic validator.
func NewReasoningValidator(r Reasoner) *ReasoningValidator {
	return &ReasoningValidator{r: r}
}

// Validate implements SemanticValidator.
func (v *ReasoningValidator) Validate(ctx context.Context, req Request) (*SemanticValidationReport, error) {
	var out SemanticValidationReport
	if err := callInto(ctx, v.r, "semantic_validator", req, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("semantic_validator", false, fmt.Errorf("report shape: %w", err))
	}
	return &out, nil
}

// ReasoningJudge assesses convergence through the reasoner.
type ReasoningJudge struct {
	r Reasoner
}

// NewReasoningJudge creates the default convergence judge.
func NewReasoningJudge(r Reasoner) *ReasoningJudge {
	return &ReasoningJudge{r: r}
}

// Assess implements ConvergenceJudge.
func (j *ReasoningJudge) Assess(ctx context.Context, req Request) (*ConvergenceAssessment, error) {
	var out ConvergenceAssessment
	if err := callInto(ctx, j.r, "convergence_judge", req, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("convergence_judge", false, fmt.Errorf("assessment shape: %w", err))
	}
	return &out, nil
}

// ReasoningAdvisor proposes profile revisions through the reasoner.
type ReasoningAdvisor struct {
	r Reasoner
}

// NewReasoningAdvisor creates the default adaptive-depth advisor.
func NewReasoningAdvisor(r Reasoner) *ReasoningAdvisor {
	return &ReasoningAdvisor{r: r}
}

// Advise implements DepthAdvisor.
func (a *ReasoningAdvisor) Advise(ctx context.Context, req Request) (*DepthRevision, error) {
	var out DepthRevision
	if err := callInto(ctx, a.r, "depth_advisor", req, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, faults.ExternalCall("depth_advisor", false, fmt.Errorf("revision shape: %w", err))
	}
	return &out, nil
}

// ReasoningSupervisor repairs malformed artifacts through the reasoner,
// making at most two attempts per artifact.
type ReasoningSupervisor struct {
	r Reasoner
}

// NewReasoningSupervisor creates the default supervisor.
func NewReasoningSupervisor(r Reasoner) *ReasoningSupervisor {
	return &ReasoningSupervisor{r: r}
}

// Repair implements Supervisor.
func (s *ReasoningSupervisor) Repair(ctx context.Context, artifact json.RawMessage, repairCtx map[string]any) (json.RawMessage, error) {
	req := Request{
		Purpose: "repair_artifact",
		Context: map[string]any{
			"artifact":       json.RawMessage(artifact),
			"repair_context": repairCtx,
		},
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		payload, err := s.r.Call(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if json.Valid(payload) {
			return payload, nil
		}
		lastErr = fmt.Errorf("repair attempt %d produced invalid JSON", attempt+1)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnrecoverable, lastErr)
}

// callInto issues the reasoning call and decodes the payload into out.
func callInto(ctx context.Context, r Reasoner, component string, req Request, out any) error {
	payload, err := r.Call(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return faults.ExternalCall(component, true, fmt.Errorf("unparseable payload: %w", err))
	}
	return nil
}

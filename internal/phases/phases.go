// Package phases implements the four phase bodies of one orchestration
// pass. Each body receives a mutable pass [State], drives its external
// collaborators through validated and projected contexts, and records
// every boundary crossing and mid-phase TTL checkpoint. Transition
// contracts wrap these bodies one level up, in the orchestrator.
package phases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loopkit/quadra/internal/boundary"
	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/contextprop"
	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/logging"
	"github.com/loopkit/quadra/internal/phase"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
	"github.com/loopkit/quadra/internal/telemetry"
	"github.com/loopkit/quadra/internal/ttl"
)

// Reasoning call purposes, one per collaborator role. The scripted test
// reasoner keys its replies on these.
const (
	PurposeProfileTask       = "profile_task"
	PurposeProposePlan       = "propose_plan"
	PurposeValidatePlan      = "validate_plan"
	PurposeRefinePlan        = "refine_plan"
	PurposeExecuteStep       = "execute_step"
	PurposeEvaluateResults   = "evaluate_results"
	PurposeAssessConvergence = "assess_convergence"
	PurposeAdviseDepth       = "advise_depth"
)

// Deps bundles the collaborators and kernel services a phase body needs.
// Collaborator fields hold external reasoning surfaces; the rest is
// kernel-owned state shared with the orchestrator.
type Deps struct {
	Profiler   collab.Profiler
	Planner    collab.Planner
	Evaluator  collab.Evaluator
	Validator  collab.SemanticValidator
	Judge      collab.ConvergenceJudge
	Advisor    collab.DepthAdvisor
	Supervisor collab.Supervisor
	Reasoner   collab.Reasoner
	Tools      collab.ToolRegistry
	Memory     collab.Memory

	Propagator *contextprop.Propagator
	Governor   *ttl.Governor
	Boundary   *boundary.Logger
	Log        *logging.Logger
	Metrics    *telemetry.KernelMetrics

	// MaxRepairAttempts bounds artifact repair before the reasoning
	// fallback.
	MaxRepairAttempts int

	// MaxRefineRounds bounds Phase C's refine sub-step per pass.
	MaxRefineRounds int
}

func (d Deps) logger() *logging.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logging.FromContext(context.Background())
}

// State is the mutable state of one pass. The orchestrator creates it,
// resets the per-pass fields at each pass boundary, and reads the
// accumulated artifacts into the execution history afterwards.
type State struct {
	CorrelationID string
	StartedAt     time.Time
	Pass          int
	TaskInput     string

	Profile     *profile.Profile
	Plan        *plan.Plan
	Actions     []plan.RefinementAction
	Results     []collab.StepResult
	Evaluations []collab.Evaluation
	Validation  *collab.SemanticValidationReport
	Assessment  *collab.ConvergenceAssessment
	Revision    *collab.DepthRevision

	// Next is set by Phase D: the entry phase of the following pass, or
	// empty when the run converged.
	Next phase.Phase

	// ContextCheck holds the most recent context validation outcome; on
	// a propagation failure it carries the field-level diagnosis.
	ContextCheck *contextprop.Result
}

// Checkpoint is a restorable snapshot of the pass state, taken before a
// phase body so a contract-driven re-run starts from the phase's input
// state rather than the aborted attempt's leftovers.
type Checkpoint struct {
	profile     *profile.Profile
	plan        *plan.Plan
	actions     []plan.RefinementAction
	results     []collab.StepResult
	evaluations []collab.Evaluation
	validation  *collab.SemanticValidationReport
	assessment  *collab.ConvergenceAssessment
	revision    *collab.DepthRevision
	next        phase.Phase
}

// Checkpoint snapshots the restorable pass state.
func (s *State) Checkpoint() Checkpoint {
	cp := Checkpoint{
		profile:     s.Profile,
		actions:     append([]plan.RefinementAction(nil), s.Actions...),
		results:     append([]collab.StepResult(nil), s.Results...),
		evaluations: append([]collab.Evaluation(nil), s.Evaluations...),
		validation:  s.Validation,
		assessment:  s.Assessment,
		revision:    s.Revision,
		next:        s.Next,
	}
	if s.Plan != nil {
		cp.plan = s.Plan.Clone()
	}
	return cp
}

// Restore rewinds the pass state to a checkpoint.
func (s *State) Restore(cp Checkpoint) {
	s.Profile = cp.profile
	s.Plan = nil
	s.Actions = append([]plan.RefinementAction(nil), cp.actions...)
	s.Results = append([]collab.StepResult(nil), cp.results...)
	s.Evaluations = append([]collab.Evaluation(nil), cp.evaluations...)
	s.Validation = cp.validation
	s.Assessment = cp.assessment
	s.Revision = cp.revision
	s.Next = cp.next
	if cp.plan != nil {
		s.Plan = cp.plan.Clone()
	}
}

// ResetPass clears the per-pass artifacts ahead of a new pass.
func (s *State) ResetPass() {
	s.Actions = nil
	s.Results = nil
	s.Evaluations = nil
	s.Validation = nil
	s.Assessment = nil
	s.Revision = nil
	s.Next = ""
}

// candidate assembles the full candidate context from the current state.
// The propagator projects it down per destination phase; absent artifacts
// are left out entirely rather than set to nil.
func (s *State) candidate(d Deps) contextprop.Context {
	c := contextprop.Context{
		contextprop.FieldTaskInput:      s.TaskInput,
		contextprop.FieldCorrelationID:  s.CorrelationID,
		contextprop.FieldStartTimestamp: s.StartedAt,
		contextprop.FieldTTLRemaining:   d.Governor.Remaining(),
		contextprop.FieldPassNumber:     s.Pass,
	}
	if s.Profile != nil {
		c[contextprop.FieldTaskProfile] = s.Profile
	}
	if s.Plan != nil {
		c[contextprop.FieldPlan] = s.Plan.Clone()
	}
	if d.Tools != nil {
		c[contextprop.FieldToolInventory] = d.Tools.List()
	}
	if len(s.Results) > 0 {
		c[contextprop.FieldExecutionResults] = s.Results
	}
	if len(s.Evaluations) > 0 {
		c[contextprop.FieldEvaluationResults] = s.Evaluations
	}
	if s.Assessment != nil {
		c[contextprop.FieldAssessment] = s.Assessment
	}
	return c
}

// prepare validates the candidate context for the destination phase and
// returns the projected minimal context. Called before every external
// call: a propagation failure surfaces here, before anything leaves the
// kernel.
func (s *State) prepare(d Deps, ph phase.Phase) (contextprop.Context, error) {
	cand := s.candidate(d)
	res, err := d.Propagator.Validate(ph, cand)
	s.ContextCheck = &res
	if err != nil {
		return nil, err
	}
	return d.Propagator.Project(ph, cand), nil
}

// snapshot is the boundary-log view of the pass state.
func (s *State) snapshot() map[string]any {
	snap := map[string]any{
		"pass_number":    s.Pass,
		"correlation_id": s.CorrelationID,
	}
	if s.Profile != nil {
		snap["profile_version"] = s.Profile.Version
	}
	if s.Plan != nil {
		snap["plan_id"] = s.Plan.ID
		snap["plan_steps"] = len(s.Plan.Steps)
	}
	if len(s.Results) > 0 {
		snap["results"] = len(s.Results)
	}
	if len(s.Evaluations) > 0 {
		snap["evaluations"] = len(s.Evaluations)
	}
	if s.Assessment != nil {
		snap["converged"] = s.Assessment.Converged
	}
	return snap
}

// runPhase brackets a phase body with boundary events, the entry context
// check, and phase metrics. The entry check fails fast: an invalid
// context never reaches a collaborator.
func runPhase(ctx context.Context, d Deps, s *State, ph phase.Phase, body func(context.Context) error) error {
	ctx = logging.WithPhase(ctx, string(ph))
	start := time.Now()
	d.Boundary.PhaseEntry(ctx, ph, s.Pass, d.Governor.Remaining(), s.snapshot())

	var err error
	if _, err = s.prepare(d, ph); err == nil {
		err = body(ctx)
	}

	d.Metrics.RecordPhase(ctx, ph.Name(), time.Since(start).Seconds())
	if err != nil {
		d.Metrics.RecordFailure(ctx, string(faults.KindOf(err)))
		d.Boundary.Failure(ctx, ph, s.Pass, d.Governor.Remaining(), failurePayload(err, s.ContextCheck))
		return err
	}
	d.Boundary.PhaseExit(ctx, ph, s.Pass, d.Governor.Remaining(), s.snapshot())
	return nil
}

// afterCall is the mid-phase checkpoint that follows every external call.
func afterCall(ctx context.Context, d Deps, s *State, ph phase.Phase, component string) error {
	d.Metrics.RecordExternalCall(ctx, component)
	d.Boundary.TTLCheckpoint(ctx, ph, s.Pass, d.Governor.Remaining(), string(faults.ExpirationMidPhase))
	return d.Governor.CheckMidPhase()
}

// persist writes one pass artifact through the memory collaborator under
// pass.<n>.<suffix>.
func persist(ctx context.Context, d Deps, s *State, suffix string, v any) error {
	if d.Memory == nil {
		return nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return faults.ExternalCall("memory", false, fmt.Errorf("encode %s: %w", suffix, err))
	}
	key := fmt.Sprintf("pass.%d.%s", s.Pass, suffix)
	if err := d.Memory.Write(ctx, key, buf); err != nil {
		return faults.ExternalCall("memory", true, fmt.Errorf("write %s: %w", key, err))
	}
	return nil
}

func failurePayload(err error, check *contextprop.Result) map[string]any {
	payload := map[string]any{"error": err.Error()}
	if fe, ok := faults.As(err); ok {
		payload["code"] = string(fe.Kind)
		payload["component"] = fe.Component
		payload["retryable"] = fe.Retryable
	}
	if check != nil && !check.IsValid {
		payload["context_validation"] = check
	}
	return payload
}

// RunA is the profiling phase: infer a task profile and propose the
// initial plan. On re-entry from Phase D the revised profile is already
// installed and only the plan is re-proposed.
func RunA(ctx context.Context, d Deps, s *State) error {
	return runPhase(ctx, d, s, phase.A, func(ctx context.Context) error {
		if s.Profile == nil {
			proj, err := s.prepare(d, phase.A)
			if err != nil {
				return err
			}
			prof, err := d.Profiler.Infer(ctx, collab.Request{Purpose: PurposeProfileTask, Context: proj})
			if err != nil {
				return err
			}
			if cerr := afterCall(ctx, d, s, phase.A, "profiler"); cerr != nil {
				return cerr
			}
			s.Profile = prof
			d.logger().Info(ctx, "task profile inferred",
				zap.Int("profile_version", prof.Version),
				zap.Int("reasoning_depth", prof.ReasoningDepth))
		}
		if err := persist(ctx, d, s, "profile", s.Profile); err != nil {
			return err
		}

		proj, err := s.prepare(d, phase.A)
		if err != nil {
			return err
		}
		pl, err := d.Planner.Propose(ctx, collab.Request{Purpose: PurposeProposePlan, Context: proj})
		if err != nil {
			return err
		}
		if cerr := afterCall(ctx, d, s, phase.A, "planner"); cerr != nil {
			return cerr
		}
		s.Plan = pl
		d.logger().Info(ctx, "initial plan proposed",
			zap.String("plan_id", pl.ID),
			zap.Int("steps", len(pl.Steps)))
		return persist(ctx, d, s, "plan.initial", pl)
	})
}

// RunB is the plan refinement phase: semantic validation followed by a
// refinement round applied to the plan snapshot.
func RunB(ctx context.Context, d Deps, s *State) error {
	return runPhase(ctx, d, s, phase.B, func(ctx context.Context) error {
		proj, err := s.prepare(d, phase.B)
		if err != nil {
			return err
		}
		report, err := d.Validator.Validate(ctx, collab.Request{Purpose: PurposeValidatePlan, Context: proj})
		if err != nil {
			return err
		}
		if cerr := afterCall(ctx, d, s, phase.B, "semantic_validator"); cerr != nil {
			return cerr
		}
		s.Validation = report
		if err := persist(ctx, d, s, "validation", report); err != nil {
			return err
		}

		proj, err = s.prepare(d, phase.B)
		if err != nil {
			return err
		}
		proj["validation_report"] = report
		actions, err := d.Planner.Refine(ctx, collab.Request{Purpose: PurposeRefinePlan, Context: proj})
		if err != nil {
			return err
		}
		if cerr := afterCall(ctx, d, s, phase.B, "planner"); cerr != nil {
			return cerr
		}
		if len(actions) == 0 {
			return nil
		}
		if err := applyActions(d, s, actions); err != nil {
			return err
		}
		d.logger().Info(ctx, "plan refined",
			zap.Int("actions", len(actions)),
			zap.Int("steps", len(s.Plan.Steps)))
		return persist(ctx, d, s, "plan.refined", s.Plan)
	})
}

// applyActions validates and applies refinement actions to the plan. An
// inconsistency correction aimed at an already-executed step is a
// consistency violation; any other malformed action is a permanent
// collaborator failure.
func applyActions(d Deps, s *State, actions []plan.RefinementAction) error {
	for _, a := range actions {
		if err := a.Validate(s.Plan); err != nil {
			if a.InconsistencyDetected {
				return faults.Consistency("planner", err.Error())
			}
			return faults.ExternalCall("planner", false, fmt.Errorf("refinement action: %w", err))
		}
	}
	next, err := plan.Apply(s.Plan, actions)
	if err != nil {
		return faults.ExternalCall("planner", false, err)
	}
	s.Plan = next
	s.Actions = append(s.Actions, actions...)
	return nil
}

// RunC is the execution phase: the execute/evaluate/refine sub-step loop.
func RunC(ctx context.Context, d Deps, s *State) error {
	return runPhase(ctx, d, s, phase.C, func(ctx context.Context) error {
		for round := 0; ; round++ {
			if err := executePending(ctx, d, s); err != nil {
				return err
			}

			proj, err := s.prepare(d, phase.C)
			if err != nil {
				return err
			}
			eval, err := d.Evaluator.Evaluate(ctx, collab.Request{Purpose: PurposeEvaluateResults, Context: proj})
			if err != nil {
				return err
			}
			if cerr := afterCall(ctx, d, s, phase.C, "evaluator"); cerr != nil {
				return cerr
			}
			s.Evaluations = append(s.Evaluations, *eval)
			if err := persist(ctx, d, s, fmt.Sprintf("evaluation.%d", round+1), eval); err != nil {
				return err
			}

			if !eval.NeedsRefinement() || round >= d.MaxRefineRounds {
				return nil
			}

			proj, err = s.prepare(d, phase.C)
			if err != nil {
				return err
			}
			proj["evaluation"] = eval
			actions, err := d.Planner.Refine(ctx, collab.Request{Purpose: PurposeRefinePlan, Context: proj})
			if err != nil {
				return err
			}
			if cerr := afterCall(ctx, d, s, phase.C, "planner"); cerr != nil {
				return cerr
			}
			if len(actions) == 0 {
				return nil
			}
			if err := applyActions(d, s, actions); err != nil {
				return err
			}
			if err := persist(ctx, d, s, fmt.Sprintf("plan.refined.%d", round+1), s.Plan); err != nil {
				return err
			}
		}
	})
}

// executePending runs every pending step in plan order, recording one
// result per step. Step failures become failed results for the evaluator
// to judge; only kernel faults (TTL expiry, propagation) abort the loop.
func executePending(ctx context.Context, d Deps, s *State) error {
	validTool := func(name string) bool {
		if d.Tools == nil {
			return false
		}
		_, ok := d.Tools.Lookup(name)
		return ok
	}
	for _, id := range s.Plan.Pending() {
		step, ok := s.Plan.Step(id)
		if !ok {
			return faults.Consistency("executor", fmt.Sprintf("pending step %s vanished from plan", id))
		}
		res, err := executeStep(ctx, d, s, step, validTool)
		if err != nil {
			return err
		}
		s.Results = append(s.Results, res)
		step.Status = res.Status
		if res.Error != "" {
			step.Errors = append(step.Errors, res.Error)
		}
		if err := persist(ctx, d, s, "step."+id, res); err != nil {
			return err
		}
	}
	return nil
}

// executeStep resolves the step's execution mode and runs it. Unresolved
// tool references go through bounded repair and then the reasoning
// fallback.
func executeStep(ctx context.Context, d Deps, s *State, step *plan.Step, validTool func(string) bool) (collab.StepResult, error) {
	start := time.Now()
	res := collab.StepResult{StepID: step.ID}

	mode := plan.Resolve(*step, validTool)
	if mode.Kind == plan.ModeUnresolved {
		step.Errors = append(step.Errors, fmt.Sprintf("Tool '%s' not found in registry", step.Tool))
		repaired, attempts, err := repairStep(ctx, d, s, step, validTool)
		res.RepairAttempts = attempts
		if err != nil {
			return res, err
		}
		mode = repaired
	}
	res.Mode = mode.Kind

	switch mode.Kind {
	case plan.ModeTool:
		res.Tool = mode.ToolRef
		out, err := invokeTool(ctx, d, s, mode.ToolRef, toolArgs(step))
		if _, expired := faults.IsTTLExpired(err); expired {
			return res, err
		}
		if err != nil {
			res.Status = plan.StatusFailed
			res.Error = err.Error()
			d.logger().Warn(ctx, "step tool call failed",
				zap.String("step_id", step.ID),
				zap.String("tool", mode.ToolRef),
				zap.Error(err))
		} else {
			res.Status = plan.StatusComplete
			res.Output = out
		}

	case plan.ModeReasoning:
		out, err := reasonStep(ctx, d, s, step, mode.Prompt)
		if _, expired := faults.IsTTLExpired(err); expired {
			return res, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		if err != nil {
			res.Status = plan.StatusFailed
			res.Error = err.Error()
		} else {
			res.Status = plan.StatusComplete
			res.Output = out
		}

	default:
		res.Status = plan.StatusFailed
		res.Error = fmt.Sprintf("step %s: no executable mode", step.ID)
	}

	res.DurationSeconds = time.Since(start).Seconds()
	return res, nil
}

// invokeTool calls the registry with a single retry on transient failure.
// A second transient failure escalates to permanent.
func invokeTool(ctx context.Context, d Deps, s *State, name string, args map[string]any) (string, error) {
	out, err := d.Tools.Invoke(ctx, name, args)
	if cerr := afterCall(ctx, d, s, phase.C, "tool:"+name); cerr != nil {
		return "", cerr
	}
	if err == nil || !faults.IsRetryable(err) {
		return out, err
	}
	out, err = d.Tools.Invoke(ctx, name, args)
	if cerr := afterCall(ctx, d, s, phase.C, "tool:"+name); cerr != nil {
		return "", cerr
	}
	if err != nil {
		return "", faults.Escalate("tool:"+name, err)
	}
	return out, nil
}

// reasonStep executes a reasoning-mode step through the raw reasoner.
func reasonStep(ctx context.Context, d Deps, s *State, step *plan.Step, prompt string) (string, error) {
	proj, err := s.prepare(d, phase.C)
	if err != nil {
		return "", err
	}
	proj["step"] = step
	proj["instruction"] = prompt
	req := collab.Request{Purpose: PurposeExecuteStep, Context: proj}
	payload, err := d.Reasoner.Call(ctx, req)
	if cerr := afterCall(ctx, d, s, phase.C, "reasoner"); cerr != nil {
		return "", cerr
	}
	if err != nil && faults.IsRetryable(err) {
		payload, err = d.Reasoner.Call(ctx, req)
		if cerr := afterCall(ctx, d, s, phase.C, "reasoner"); cerr != nil {
			return "", cerr
		}
		if err != nil {
			err = faults.Escalate("reasoner", err)
		}
	}
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// repairStep asks the supervisor to rewrite a step whose tool reference
// did not resolve. The supervisor is internally bounded at two attempts;
// when it gives up, or the repaired step still does not resolve, the step
// falls back to reasoning mode with the attempt bound recorded.
func repairStep(ctx context.Context, d Deps, s *State, step *plan.Step, validTool func(string) bool) (plan.Mode, int, error) {
	fallback := plan.ReasoningMode(step.Description)
	if d.Supervisor == nil {
		return fallback, 0, nil
	}

	artifact, err := json.Marshal(step)
	if err != nil {
		return fallback, 0, nil
	}
	repairCtx := map[string]any{
		"reason": fmt.Sprintf("tool %q is not registered", step.Tool),
	}
	if d.Tools != nil {
		repairCtx["tool_inventory"] = d.Tools.List()
	}

	repaired, rerr := d.Supervisor.Repair(ctx, artifact, repairCtx)
	if cerr := afterCall(ctx, d, s, phase.C, "supervisor"); cerr != nil {
		return fallback, d.MaxRepairAttempts, cerr
	}
	if rerr != nil {
		if !errors.Is(rerr, collab.ErrUnrecoverable) {
			d.logger().Warn(ctx, "step repair failed",
				zap.String("step_id", step.ID), zap.Error(rerr))
		}
		return fallback, d.MaxRepairAttempts, nil
	}

	var fixed plan.Step
	if err := json.Unmarshal(repaired, &fixed); err != nil {
		return fallback, d.MaxRepairAttempts, nil
	}
	fixed.ID = step.ID
	mode := plan.Resolve(fixed, validTool)
	if mode.Kind != plan.ModeTool {
		return fallback, d.MaxRepairAttempts, nil
	}

	step.Tool = fixed.Tool
	step.Agent = fixed.Agent
	d.logger().Info(ctx, "step tool reference repaired",
		zap.String("step_id", step.ID),
		zap.String("tool", fixed.Tool))
	return mode, 1, nil
}

// toolArgs builds the invocation arguments a tool receives for a step.
func toolArgs(step *plan.Step) map[string]any {
	args := map[string]any{
		"step_id":     step.ID,
		"description": step.Description,
	}
	if step.IncomingContext != "" {
		args["incoming_context"] = step.IncomingContext
	}
	return args
}

// RunD is the adaptive depth phase: convergence assessment and, when the
// run continues, the profile mismatch decision that routes the next pass.
func RunD(ctx context.Context, d Deps, s *State) error {
	return runPhase(ctx, d, s, phase.D, func(ctx context.Context) error {
		proj, err := s.prepare(d, phase.D)
		if err != nil {
			return err
		}
		assess, err := d.Judge.Assess(ctx, collab.Request{Purpose: PurposeAssessConvergence, Context: proj})
		if err != nil {
			return err
		}
		if cerr := afterCall(ctx, d, s, phase.D, "convergence_judge"); cerr != nil {
			return cerr
		}
		s.Assessment = assess
		if err := persist(ctx, d, s, "assessment", assess); err != nil {
			return err
		}
		if assess.Converged {
			s.Next = ""
			d.logger().Info(ctx, "run converged",
				zap.Float64("completeness", assess.Scores.Completeness),
				zap.Float64("coherence", assess.Scores.Coherence),
				zap.Float64("consistency", assess.Scores.Consistency))
			return nil
		}

		proj, err = s.prepare(d, phase.D)
		if err != nil {
			return err
		}
		rev, err := d.Advisor.Advise(ctx, collab.Request{Purpose: PurposeAdviseDepth, Context: proj})
		if err != nil {
			return err
		}
		if cerr := afterCall(ctx, d, s, phase.D, "depth_advisor"); cerr != nil {
			return cerr
		}
		s.Revision = rev
		if err := persist(ctx, d, s, "revision", rev); err != nil {
			return err
		}

		if rev.ReallocatedTTL > 0 {
			if err := d.Governor.Reallocate(rev.ReallocatedTTL); err != nil {
				return faults.ExternalCall("depth_advisor", false, err)
			}
			d.logger().Info(ctx, "ttl reallocated", zap.Int("ttl", rev.ReallocatedTTL))
		}
		if rev.Mismatch {
			s.Next = phase.A
		} else {
			s.Next = phase.B
		}
		return nil
	})
}

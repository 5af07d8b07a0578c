package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/collab/collabtest"
	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/memstore"
	"github.com/loopkit/quadra/internal/phases"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/tools"
)

const (
	profilePayload = `{"profile_version":1,"reasoning_depth":2,"information_sufficiency":0.8,
		"expected_tool_usage":"minimal","output_breadth":"narrow","confidence_requirement":"medium"}`
	planPayload = `{"goal":"summarize the report","steps":[
		{"step_id":"s1","description":"fetch the report","status":"pending","tool":"fetch","clarity_state":"CLEAR"},
		{"step_id":"s2","description":"summarize findings","status":"pending","agent":"reasoning","clarity_state":"CLEAR"}]}`
	cleanReport = `{"issues":[],"summary":"no issues"}`
	noActions   = `{"actions":[]}`
	okEval      = `{"results":[{"step_id":"s1","verdict":"ok"},{"step_id":"s2","verdict":"ok"}],"summary":"done"}`
	convergedOK = `{"converged":true,"reason_codes":[],
		"scores":{"completeness":0.95,"coherence":0.9,"consistency":0.92}}`
	notConverged = `{"converged":false,"reason_codes":["incomplete"],
		"scores":{"completeness":0.4,"coherence":0.8,"consistency":0.8}}`
)

func newKernel(t *testing.T, ttlBudget int, r *collabtest.ScriptedReasoner) (*Kernel, *tools.StaticRegistry, *memstore.InMemory) {
	t.Helper()
	reg := tools.NewStaticRegistry()
	mem := memstore.NewInMemory()
	deps := phases.Deps{
		Profiler:   collab.NewReasoningProfiler(r),
		Planner:    collab.NewReasoningPlanner(r),
		Evaluator:  collab.NewReasoningEvaluator(r),
		Validator:  collab.NewReasoningValidator(r),
		Judge:      collab.NewReasoningJudge(r),
		Advisor:    collab.NewReasoningAdvisor(r),
		Supervisor: collab.NewReasoningSupervisor(r),
		Reasoner:   r,
		Tools:      reg,
		Memory:     mem,
	}
	k, err := New(Config{TTL: ttlBudget, MaxRepairAttempts: 2, MaxRefineRounds: 1}, deps)
	require.NoError(t, err)
	return k, reg, mem
}

func registerFetch(t *testing.T, reg *tools.StaticRegistry) {
	t.Helper()
	require.NoError(t, reg.Register("fetch", "fetches documents", func(context.Context, map[string]any) (string, error) {
		return "report body", nil
	}))
}

func TestRunConvergesFirstPass(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, planPayload).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		OnJSON(phases.PurposeRefinePlan, noActions).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"summary"}`).
		OnJSON(phases.PurposeEvaluateResults, okEval).
		OnJSON(phases.PurposeAssessConvergence, convergedOK)
	k, reg, mem := newKernel(t, 3, r)
	registerFetch(t, reg)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, 2, res.TTLRemaining, "one pass charges exactly one cycle")
	assert.NotEmpty(t, res.CorrelationID)
	require.NotNil(t, res.Assessment)
	assert.True(t, res.Assessment.Converged)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 1, res.Stats.Passes)
	assert.Equal(t, 2, res.Stats.StepsExecuted)
	assert.Equal(t, 0, r.CallCount(phases.PurposeAdviseDepth))

	_, ok, err := mem.Read(context.Background(), "pass.1.assessment")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRetriesTransientProfilerFailureOnce(t *testing.T) {
	// The first profiling attempt returns an unparseable payload, a
	// retryable external-call failure. Phase A re-runs once and the run
	// still converges.
	r := collabtest.NewScriptedReasoner().
		On(phases.PurposeProfileTask,
			collabtest.Response{Payload: []byte("not json at all")},
			collabtest.Response{Payload: []byte(profilePayload)}).
		OnJSON(phases.PurposeProposePlan, planPayload).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		OnJSON(phases.PurposeRefinePlan, noActions).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"summary"}`).
		OnJSON(phases.PurposeEvaluateResults, okEval).
		OnJSON(phases.PurposeAssessConvergence, convergedOK)
	k, reg, _ := newKernel(t, 3, r)
	registerFetch(t, reg)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 2, r.CallCount(phases.PurposeProfileTask), "one retry, then success")
}

func TestRunTTLExpiresAtPassBoundary(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, planPayload).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		OnJSON(phases.PurposeRefinePlan, noActions).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"summary"}`).
		OnJSON(phases.PurposeEvaluateResults, okEval).
		OnJSON(phases.PurposeAssessConvergence, notConverged).
		OnJSON(phases.PurposeAdviseDepth, `{"mismatch":false}`)
	k, reg, _ := newKernel(t, 1, r)
	registerFetch(t, reg)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err, "expiration terminates gracefully")
	assert.Equal(t, StatusTTLExpired, res.Status)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, 0, res.TTLRemaining)
	require.NotNil(t, res.Expiration)
	assert.Equal(t, faults.ExpirationPhaseBoundary, res.Expiration.Point)
	assert.Equal(t, 1, res.Expiration.PassNumber, "the last completed pass")
	assert.Equal(t, 1, res.Expiration.Allocated)
}

func TestRunSecondPassEntersBWhenProfileStands(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, planPayload).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		On(phases.PurposeRefinePlan,
			collabtest.Response{Payload: []byte(noActions)},
			collabtest.Response{Payload: []byte(`{"actions":[{"action_type":"ADD","justification":"cover the appendix",
				"new_step":{"step_id":"s3","description":"scan the appendix","status":"pending","agent":"reasoning","clarity_state":"CLEAR"}}]}`)}).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"done"}`).
		On(phases.PurposeEvaluateResults,
			collabtest.Response{Payload: []byte(okEval)},
			collabtest.Response{Payload: []byte(`{"results":[{"step_id":"s3","verdict":"ok"}]}`)}).
		On(phases.PurposeAssessConvergence,
			collabtest.Response{Payload: []byte(notConverged)},
			collabtest.Response{Payload: []byte(convergedOK)}).
		OnJSON(phases.PurposeAdviseDepth, `{"mismatch":false}`)
	k, reg, _ := newKernel(t, 3, r)
	registerFetch(t, reg)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, 1, res.TTLRemaining)
	assert.Equal(t, 1, r.CallCount(phases.PurposeProfileTask), "profile stands, A not re-entered")
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Plan.Steps, 3)
}

func TestRunMismatchReentersAWithRevisedProfile(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, planPayload).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		OnJSON(phases.PurposeRefinePlan, noActions).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"done"}`).
		OnJSON(phases.PurposeEvaluateResults, okEval).
		On(phases.PurposeAssessConvergence,
			collabtest.Response{Payload: []byte(notConverged)},
			collabtest.Response{Payload: []byte(convergedOK)}).
		OnJSON(phases.PurposeAdviseDepth, `{"mismatch":true,"reason":"needs deeper reasoning",
			"revised_profile":{"profile_version":2,"reasoning_depth":4,"information_sufficiency":0.6,
			"expected_tool_usage":"moderate","output_breadth":"moderate","confidence_requirement":"high"}}`)
	k, reg, _ := newKernel(t, 3, r)
	registerFetch(t, reg)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, 1, r.CallCount(phases.PurposeProfileTask), "revised profile is adopted, not re-inferred")
	assert.Equal(t, 2, r.CallCount(phases.PurposeProposePlan), "A re-entry proposes a fresh plan")
}

func TestRunRepairExhaustionFallsBackToReasoning(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, `{"goal":"summarize the report","steps":[
			{"step_id":"s1","description":"summarize findings","status":"pending","tool":"no_such_tool","clarity_state":"CLEAR"}]}`).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		OnJSON(phases.PurposeRefinePlan, noActions).
		On("repair_artifact", collabtest.Response{Payload: []byte("still not json")}).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"summarized without the tool"}`).
		OnJSON(phases.PurposeEvaluateResults, `{"results":[{"step_id":"s1","verdict":"ok"}]}`).
		OnJSON(phases.PurposeAssessConvergence, convergedOK)
	k, _, _ := newKernel(t, 3, r)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 2, r.CallCount("repair_artifact"))
	require.Len(t, res.Results, 1)
	assert.Equal(t, plan.ModeReasoning, res.Results[0].Mode)
	assert.Equal(t, 2, res.Results[0].RepairAttempts)
	assert.Equal(t, 2, res.Stats.RepairAttempts)
}

func TestRunRejectsInconsistencyAgainstExecutedStep(t *testing.T) {
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, `{"goal":"summarize the report","steps":[
			{"step_id":"s1","description":"summarize findings","status":"pending","agent":"reasoning","clarity_state":"CLEAR"}]}`).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		On(phases.PurposeRefinePlan,
			collabtest.Response{Payload: []byte(noActions)},
			collabtest.Response{Payload: []byte(`{"actions":[{"action_type":"MODIFY","target_step_id":"s1",
				"justification":"rewrite the contradictory step","inconsistency_detected":true,
				"new_step":{"description":"redo it","status":"pending","agent":"reasoning","clarity_state":"CLEAR"}}]}`)}).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"done"}`).
		OnJSON(phases.PurposeEvaluateResults, `{"results":[{"step_id":"s1","verdict":"needs_refinement","issues":["contradiction"]}]}`)
	k, _, _ := newKernel(t, 3, r)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.Error(t, err)
	assert.Equal(t, faults.KindConsistency, faults.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, string(faults.KindConsistency), res.Failure.Code)
	assert.Equal(t, faults.SeverityCritical, res.Failure.Severity)
	assert.Equal(t, res.CorrelationID, res.Failure.CorrelationID)
	assert.False(t, res.Failure.Retryable)
}

func TestRunRetriesContractOutputViolationOnce(t *testing.T) {
	// First refinement strips clarity from the plan; the A->B contract
	// re-runs the phase body once and the second refinement passes.
	r := collabtest.NewScriptedReasoner().
		OnJSON(phases.PurposeProfileTask, profilePayload).
		OnJSON(phases.PurposeProposePlan, `{"goal":"summarize the report","steps":[
			{"step_id":"s1","description":"summarize findings","status":"pending","agent":"reasoning","clarity_state":"CLEAR"}]}`).
		OnJSON(phases.PurposeValidatePlan, cleanReport).
		On(phases.PurposeRefinePlan,
			collabtest.Response{Payload: []byte(`{"actions":[{"action_type":"ADD","justification":"missing clarity",
				"new_step":{"step_id":"s2","description":"unclear step","status":"pending","agent":"reasoning"}}]}`)},
			collabtest.Response{Payload: []byte(noActions)}).
		OnJSON(phases.PurposeExecuteStep, `{"answer":"done"}`).
		OnJSON(phases.PurposeEvaluateResults, `{"results":[{"step_id":"s1","verdict":"ok"}]}`).
		OnJSON(phases.PurposeAssessConvergence, convergedOK)
	k, _, _ := newKernel(t, 3, r)

	res, err := k.Run(context.Background(), "summarize the quarterly report")

	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, 2, r.CallCount(phases.PurposeValidatePlan), "phase body re-ran once")
}

func TestRunRequiresTaskInput(t *testing.T) {
	k, _, _ := newKernel(t, 3, collabtest.NewScriptedReasoner())

	_, err := k.Run(context.Background(), "   ")

	require.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{TTL: 0}, phases.Deps{})
	require.Error(t, err)
}

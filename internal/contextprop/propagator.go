// Package contextprop validates and projects the context forwarded to
// external reasoning calls.
//
// Each phase has one propagation specification with four field sets:
// must_have, must_pass_unchanged, may_modify, and prohibited. Before any
// external call the candidate context is validated against the target
// phase's specification and then projected down to only the fields that
// phase may see (minimal-context discipline). Any validation failure is a
// non-retryable ContextPropagationFailure raised before any external call
// is issued.
package contextprop

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/phase"
)

// Canonical context field names.
const (
	FieldTaskInput         = "task_input"
	FieldCorrelationID     = "correlation_id"
	FieldStartTimestamp    = "execution_start_timestamp"
	FieldTTLRemaining      = "ttl_remaining"
	FieldPassNumber        = "pass_number"
	FieldTaskProfile       = "task_profile"
	FieldPlan              = "plan"
	FieldToolInventory     = "tool_inventory"
	FieldExecutionResults  = "execution_results"
	FieldEvaluationResults = "evaluation_results"
	FieldAssessment        = "convergence_assessment"
)

// Context is a candidate context assembled by the kernel before an
// external call.
type Context map[string]any

// Spec is one phase's propagation specification.
type Spec struct {
	Phase             phase.Phase
	MustHave          []string
	MustPassUnchanged []string
	MayModify         []string
	Prohibited        []string
}

// Result reports a context validation outcome.
type Result struct {
	IsValid          bool     `json:"is_valid"`
	MissingFields    []string `json:"missing_fields,omitempty"`
	ProhibitedFields []string `json:"prohibited_fields,omitempty"`
	ChangedFields    []string `json:"changed_fields,omitempty"`
}

// Propagator holds the per-phase specifications and the baseline values of
// the must-pass-unchanged fields, captured on first sight.
type Propagator struct {
	specs    map[phase.Phase]Spec
	baseline map[string]any
}

// NewPropagator creates a propagator with the default per-phase
// specifications.
func NewPropagator() *Propagator {
	p := &Propagator{
		specs:    make(map[phase.Phase]Spec),
		baseline: make(map[string]any),
	}
	for _, s := range defaultSpecs() {
		p.specs[s.Phase] = s
	}
	return p
}

// defaultSpecs returns the four phase specifications.
//
// The identity fields (correlation_id, execution_start_timestamp) must
// pass unchanged through every phase. Evaluation and execution results
// must not leak into Phases A and B; the convergence assessment belongs
// to Phase D alone.
func defaultSpecs() []Spec {
	identity := []string{FieldCorrelationID, FieldStartTimestamp}
	return []Spec{
		{
			Phase:             phase.A,
			MustHave:          []string{FieldTaskInput, FieldCorrelationID, FieldStartTimestamp, FieldTTLRemaining},
			MustPassUnchanged: identity,
			MayModify:         []string{FieldTaskProfile, FieldPlan, FieldToolInventory},
			Prohibited:        []string{FieldExecutionResults, FieldEvaluationResults, FieldAssessment},
		},
		{
			Phase:             phase.B,
			MustHave:          []string{FieldTaskProfile, FieldPlan, FieldCorrelationID, FieldStartTimestamp, FieldTTLRemaining},
			MustPassUnchanged: identity,
			MayModify:         []string{FieldPlan, FieldToolInventory},
			Prohibited:        []string{FieldExecutionResults, FieldEvaluationResults, FieldAssessment},
		},
		{
			Phase:             phase.C,
			MustHave:          []string{FieldTaskProfile, FieldPlan, FieldCorrelationID, FieldStartTimestamp, FieldTTLRemaining},
			MustPassUnchanged: identity,
			MayModify:         []string{FieldPlan, FieldToolInventory, FieldExecutionResults, FieldEvaluationResults},
			Prohibited:        []string{FieldAssessment},
		},
		{
			Phase:             phase.D,
			MustHave:          []string{FieldTaskProfile, FieldPlan, FieldExecutionResults, FieldEvaluationResults, FieldCorrelationID, FieldStartTimestamp, FieldTTLRemaining},
			MustPassUnchanged: identity,
			MayModify:         []string{FieldTaskProfile, FieldAssessment},
			Prohibited:        []string{},
		},
	}
}

// Spec returns the specification for the given phase.
func (p *Propagator) Spec(ph phase.Phase) (Spec, bool) {
	s, ok := p.specs[ph]
	return s, ok
}

// Validate checks the candidate context against the target phase's
// specification. The returned Result always describes the full outcome;
// the error is the non-retryable ContextPropagationFailure to raise when
// the context is invalid.
func (p *Propagator) Validate(ph phase.Phase, ctx Context) (Result, error) {
	spec, ok := p.specs[ph]
	if !ok {
		return Result{}, faults.ContextPropagation("context_propagator",
			fmt.Sprintf("no propagation specification for phase %s", ph), nil)
	}

	res := Result{IsValid: true}

	for _, f := range spec.MustHave {
		if v, ok := ctx[f]; !ok || v == nil {
			res.MissingFields = append(res.MissingFields, f)
		}
	}
	for _, f := range spec.Prohibited {
		if _, ok := ctx[f]; ok {
			res.ProhibitedFields = append(res.ProhibitedFields, f)
		}
	}
	for _, f := range spec.MustPassUnchanged {
		v, ok := ctx[f]
		if !ok {
			continue // absence is the must_have sets' concern
		}
		prior, seen := p.baseline[f]
		if !seen {
			p.baseline[f] = v
			continue
		}
		if !valuesEqual(prior, v) {
			res.ChangedFields = append(res.ChangedFields, f)
		}
	}

	sort.Strings(res.MissingFields)
	sort.Strings(res.ProhibitedFields)
	sort.Strings(res.ChangedFields)

	if len(res.MissingFields) > 0 || len(res.ProhibitedFields) > 0 || len(res.ChangedFields) > 0 {
		res.IsValid = false
		return res, faults.ContextPropagation("context_propagator", describe(ph, res), nil)
	}
	return res, nil
}

// Project reduces ctx to only the fields the target phase's calls need:
// the must-have set plus any may-modify fields already present. No other
// field is forwarded.
func (p *Propagator) Project(ph phase.Phase, ctx Context) Context {
	spec, ok := p.specs[ph]
	if !ok {
		return Context{}
	}
	out := make(Context, len(spec.MustHave)+len(spec.MayModify))
	for _, f := range spec.MustHave {
		if v, ok := ctx[f]; ok {
			out[f] = v
		}
	}
	for _, f := range spec.MayModify {
		if v, ok := ctx[f]; ok {
			out[f] = v
		}
	}
	return out
}

func describe(ph phase.Phase, res Result) string {
	var parts []string
	if len(res.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(res.MissingFields, ", "))
	}
	if len(res.ProhibitedFields) > 0 {
		parts = append(parts, "prohibited fields present: "+strings.Join(res.ProhibitedFields, ", "))
	}
	if len(res.ChangedFields) > 0 {
		parts = append(parts, "immutable fields changed: "+strings.Join(res.ChangedFields, ", "))
	}
	return fmt.Sprintf("phase %s context invalid: %s", ph, strings.Join(parts, "; "))
}

// valuesEqual compares baseline values, honoring time.Time equality.
func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

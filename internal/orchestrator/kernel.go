// Package orchestrator drives the four-phase cycle: profiling, plan
// refinement, execution, and adaptive depth. The kernel owns the pass
// loop, the TTL governor, the transition contracts wrapping each phase
// body, and the append-only execution history. Collaborators never see
// kernel state directly; they receive validated, projected context
// snapshots and return artifacts the kernel re-validates.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loopkit/quadra/internal/boundary"
	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/contextprop"
	"github.com/loopkit/quadra/internal/contract"
	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/history"
	"github.com/loopkit/quadra/internal/logging"
	"github.com/loopkit/quadra/internal/phase"
	"github.com/loopkit/quadra/internal/phases"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/ttl"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusConverged  Status = "terminated_converged"
	StatusTTLExpired Status = "terminated_ttl_expired"
	StatusError      Status = "terminated_error"
)

// TTLExpiration describes a graceful budget expiration. PassNumber is
// the last pass that ran to completion before the budget ran out.
type TTLExpiration struct {
	PassNumber int                    `json:"pass_number"`
	Point      faults.ExpirationPoint `json:"expiration_point"`
	Allocated  int                    `json:"ttl_allocated"`
}

// Failure is the structured view of a run-terminating error.
type Failure struct {
	*faults.StructuredError

	Retryable         bool                `json:"retryable"`
	Escalated         bool                `json:"escalated,omitempty"`
	ContextValidation *contextprop.Result `json:"context_validation,omitempty"`
}

// Result is the terminal output of one run.
type Result struct {
	Status        Status                        `json:"status"`
	CorrelationID string                        `json:"correlation_id"`
	Passes        int                           `json:"passes"`
	TTLRemaining  int                           `json:"ttl_remaining"`
	Plan          *plan.Plan                    `json:"plan,omitempty"`
	Results       []collab.StepResult           `json:"step_results,omitempty"`
	Assessment    *collab.ConvergenceAssessment `json:"assessment,omitempty"`
	Expiration    *TTLExpiration                `json:"expiration,omitempty"`
	Failure       *Failure                      `json:"failure,omitempty"`
	Stats         history.Stats                 `json:"stats"`
}

// Config bounds one kernel's runs.
type Config struct {
	// TTL is the initial cycle budget per run.
	TTL int

	// MaxRepairAttempts bounds artifact repair before the reasoning
	// fallback.
	MaxRepairAttempts int

	// MaxRefineRounds bounds Phase C's refine sub-step per pass.
	MaxRefineRounds int
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{TTL: 3, MaxRepairAttempts: 2, MaxRefineRounds: 1}
}

// Kernel runs requests through the cycle. The collaborator set is fixed
// at construction; governor, propagator, boundary logger, and history are
// created fresh per run.
type Kernel struct {
	cfg  Config
	base phases.Deps
}

// New creates a kernel. The deps' Governor, Propagator, and Boundary
// fields are ignored; per-run instances replace them.
func New(cfg Config, deps phases.Deps) (*Kernel, error) {
	if cfg.TTL < 1 {
		return nil, fmt.Errorf("ttl budget must be at least 1, got %d", cfg.TTL)
	}
	if cfg.MaxRepairAttempts < 0 {
		return nil, fmt.Errorf("max repair attempts must be non-negative, got %d", cfg.MaxRepairAttempts)
	}
	if cfg.MaxRefineRounds < 0 {
		return nil, fmt.Errorf("max refine rounds must be non-negative, got %d", cfg.MaxRefineRounds)
	}
	for name, c := range map[string]any{
		"profiler":  deps.Profiler,
		"planner":   deps.Planner,
		"evaluator": deps.Evaluator,
		"validator": deps.Validator,
		"judge":     deps.Judge,
		"advisor":   deps.Advisor,
	} {
		if c == nil {
			return nil, fmt.Errorf("collaborator %s is required", name)
		}
	}
	return &Kernel{cfg: cfg, base: deps}, nil
}

// run is the per-run state: the shared deps specialized with fresh
// governor, propagator, and boundary, plus the pass state and history.
type run struct {
	d    phases.Deps
	st   *phases.State
	hist *history.Tracker
}

// Run drives one request through passes until convergence, TTL
// expiration, or a structured failure. The returned Result is always
// populated; the error is non-nil only for StatusError.
func (k *Kernel) Run(ctx context.Context, taskInput string) (*Result, error) {
	if strings.TrimSpace(taskInput) == "" {
		return nil, fmt.Errorf("task input is required")
	}

	corrID := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, corrID)

	gov, err := ttl.NewGovernor(k.cfg.TTL)
	if err != nil {
		return nil, err
	}

	d := k.base
	d.Governor = gov
	d.Propagator = contextprop.NewPropagator()
	d.Boundary = boundary.New(d.Log, d.Memory, corrID)
	d.MaxRepairAttempts = k.cfg.MaxRepairAttempts
	d.MaxRefineRounds = k.cfg.MaxRefineRounds

	r := &run{
		d: d,
		st: &phases.State{
			CorrelationID: corrID,
			StartedAt:     time.Now().UTC(),
			TaskInput:     taskInput,
		},
		hist: history.NewTracker(corrID),
	}

	if d.Log != nil {
		d.Log.Info(ctx, "run started",
			zap.Int("ttl", gov.Remaining()),
			zap.Int("task_input_bytes", len(taskInput)))
	}

	entry := phase.A
	for pass := 1; ; pass++ {
		r.st.Pass = pass
		r.st.ResetPass()
		passCtx := logging.WithPass(ctx, pass)

		res, err := r.runPass(passCtx, entry)
		if res != nil || err != nil {
			return res, err
		}
		entry = r.st.Next
	}
}

// runPass executes one full pass starting at entry. A nil, nil return
// means the run continues with the next pass at st.Next.
func (r *run) runPass(ctx context.Context, entry phase.Phase) (*Result, error) {
	st, d := r.st, r.d
	started := time.Now().UTC()

	if entry == phase.A {
		if err := r.phaseStep(ctx, phase.A, nil); err != nil {
			return r.terminate(ctx, err)
		}
	}
	planBefore := st.Plan.Clone()

	if err := r.phaseStep(ctx, phase.B, contract.AB()); err != nil {
		return r.terminate(ctx, err)
	}
	if err := r.phaseStep(ctx, phase.C, contract.BC()); err != nil {
		return r.terminate(ctx, err)
	}
	if err := r.phaseStep(ctx, phase.D, contract.CD()); err != nil {
		return r.terminate(ctx, err)
	}

	converged := st.Assessment != nil && st.Assessment.Converged
	if !converged {
		// The pass-boundary contract: D must have routed the next pass,
		// with an incremented profile version on the A route.
		da := contract.DA()
		x := r.exchange()
		if err := da.CheckInputs(x); err != nil {
			return r.terminate(ctx, err)
		}
		if err := da.CheckOutputs(x); err != nil {
			return r.terminate(ctx, err)
		}
	}

	// One pass, one decrement. Reallocation in Phase D changed the
	// budget in force; the record reflects the budget the cycle was
	// charged against.
	ttlBefore := d.Governor.Remaining()
	if err := d.Governor.CompleteCycle(); err != nil {
		return r.terminate(ctx, err)
	}
	d.Metrics.RecordPass(ctx)

	rec := history.PassRecord{
		PassNumber:    st.Pass,
		CorrelationID: st.CorrelationID,
		StartedAt:     started,
		CompletedAt:   time.Now().UTC(),
		TTLBefore:     ttlBefore,
		TTLAfter:      d.Governor.Remaining(),
		Profile:       st.Profile,
		PlanBefore:    planBefore,
		PlanAfter:     st.Plan,
		Actions:       st.Actions,
		Results:       st.Results,
		Evaluations:   st.Evaluations,
		Assessment:    st.Assessment,
		Revision:      st.Revision,
		Validation:    st.Validation,
		NextPhase:     st.Next,
	}
	if err := r.hist.Append(rec); err != nil {
		return r.terminate(ctx, err)
	}

	if converged {
		if d.Log != nil {
			d.Log.Info(ctx, "run converged",
				zap.Int("passes", st.Pass),
				zap.Int("ttl_remaining", d.Governor.Remaining()))
		}
		return r.result(StatusConverged), nil
	}

	if st.Next == phase.A {
		st.Profile = st.Revision.RevisedProfile
	}
	return nil, nil
}

// phaseStep runs one phase body behind its inbound contract and the
// phase-boundary TTL checkpoint. inbound is nil only for Phase A, whose
// entry is gated by the previous pass's boundary checks instead.
func (r *run) phaseStep(ctx context.Context, ph phase.Phase, inbound *contract.Contract) error {
	st, d := r.st, r.d

	d.Boundary.TTLCheckpoint(ctx, ph, st.Pass, d.Governor.Remaining(), string(faults.ExpirationPhaseBoundary))
	if err := d.Governor.CheckBoundary(); err != nil {
		return err
	}

	cp := st.Checkpoint()
	body := func(ctx context.Context) (contract.Exchange, error) {
		st.Restore(cp)
		var err error
		switch ph {
		case phase.A:
			err = phases.RunA(ctx, d, st)
		case phase.B:
			err = phases.RunB(ctx, d, st)
		case phase.C:
			err = phases.RunC(ctx, d, st)
		case phase.D:
			err = phases.RunD(ctx, d, st)
		default:
			err = fmt.Errorf("unknown phase %q", ph)
		}
		if err != nil {
			return contract.Exchange{}, err
		}
		return r.exchange(), nil
	}

	if inbound == nil {
		// Phase A has no inbound contract, so it does not get Enforce's
		// retry wrapper. A transient failure still deserves one more
		// attempt before the run aborts.
		_, err := faults.OnceValue(ctx, ph.Name(), body)
		return err
	}
	_, err := inbound.Enforce(ctx, r.exchange(), body)
	return err
}

// exchange snapshots the pass state in the form the contracts inspect.
func (r *run) exchange() contract.Exchange {
	st := r.st
	return contract.Exchange{
		CorrelationID: st.CorrelationID,
		PassNumber:    st.Pass,
		TTLRemaining:  r.d.Governor.Remaining(),
		Profile:       st.Profile,
		Plan:          st.Plan,
		Results:       st.Results,
		Evaluations:   st.Evaluations,
		Validation:    st.Validation,
		Assessment:    st.Assessment,
		Revision:      st.Revision,
		Next:          st.Next,
	}
}

// terminate maps a failing error to the terminal result. TTL expiration
// is a graceful termination, not an error.
func (r *run) terminate(ctx context.Context, err error) (*Result, error) {
	if point, expired := faults.IsTTLExpired(err); expired {
		if r.d.Log != nil {
			r.d.Log.Info(ctx, "ttl expired",
				zap.Int("pass", r.st.Pass),
				zap.String("expiration_point", string(point)))
		}
		res := r.result(StatusTTLExpired)
		res.Expiration = &TTLExpiration{
			PassNumber: r.hist.Len(),
			Point:      point,
			Allocated:  r.d.Governor.Allocated(),
		}
		return res, nil
	}

	f := &Failure{StructuredError: faults.Structure(err, r.st.CorrelationID)}
	if fe, ok := faults.As(err); ok {
		f.Retryable = fe.Retryable
		f.Escalated = fe.Escalated
	}
	if r.st.ContextCheck != nil && !r.st.ContextCheck.IsValid {
		f.ContextValidation = r.st.ContextCheck
	}
	if r.d.Log != nil {
		r.d.Log.Error(ctx, "run failed",
			zap.String("code", f.Code),
			zap.String("component", f.AffectedComponent),
			zap.Int("pass", r.st.Pass),
			zap.Error(err))
	}
	res := r.result(StatusError)
	res.Failure = f
	return res, err
}

// result assembles the common terminal fields.
func (r *run) result(status Status) *Result {
	st := r.st
	res := &Result{
		Status:        status,
		CorrelationID: st.CorrelationID,
		Passes:        r.hist.Len(),
		TTLRemaining:  r.d.Governor.Remaining(),
		Results:       st.Results,
		Assessment:    st.Assessment,
		Stats:         r.hist.Stats(),
	}
	if st.Plan != nil {
		res.Plan = st.Plan.Clone()
	}
	return res
}

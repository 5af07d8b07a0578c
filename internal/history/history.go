// Package history keeps the append-only record of completed passes.
//
// Every pass through the A/B/C/D cycle produces one PassRecord. Records
// are validated on append and never mutated afterwards; the tracker can
// replay the recorded refinement actions to reconstruct the final plan
// and cross-check it against the recorded outcome.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/faults"
	"github.com/loopkit/quadra/internal/phase"
	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
)

// PassRecord is the immutable record of one complete pass.
type PassRecord struct {
	PassNumber    int       `json:"pass_number"`
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`

	TTLBefore int `json:"ttl_before"`
	TTLAfter  int `json:"ttl_after"`

	Profile     *profile.Profile                 `json:"task_profile"`
	PlanBefore  *plan.Plan                       `json:"plan_before"`
	PlanAfter   *plan.Plan                       `json:"plan_after"`
	Actions     []plan.RefinementAction          `json:"refinement_actions,omitempty"`
	Results     []collab.StepResult              `json:"step_results,omitempty"`
	Evaluations []collab.Evaluation              `json:"evaluations,omitempty"`
	Assessment  *collab.ConvergenceAssessment    `json:"assessment,omitempty"`
	Revision    *collab.DepthRevision            `json:"depth_revision,omitempty"`
	Validation  *collab.SemanticValidationReport `json:"validation,omitempty"`

	// NextPhase is where the D->A|B route resolved, or empty on the
	// terminal pass.
	NextPhase phase.Phase `json:"next_phase,omitempty"`
}

// validate checks the record's internal consistency before it is
// admitted to the history.
func (r *PassRecord) validate() error {
	if r.PassNumber < 1 {
		return faults.Consistency("history", fmt.Sprintf("pass_number must be >= 1, got %d", r.PassNumber))
	}
	if r.CorrelationID == "" {
		return faults.Consistency("history", "pass record missing correlation_id")
	}
	if r.TTLAfter != r.TTLBefore-1 {
		return faults.Consistency("history", fmt.Sprintf(
			"pass %d: ttl_after %d is not ttl_before %d minus one",
			r.PassNumber, r.TTLAfter, r.TTLBefore))
	}
	if r.PlanBefore == nil || r.PlanAfter == nil {
		return faults.Consistency("history", fmt.Sprintf("pass %d: plan snapshots are required", r.PassNumber))
	}
	return r.checkStepConflicts()
}

// checkStepConflicts rejects a record that marks a step complete while
// an evaluation declares the same step invalid, unless a refinement
// action targeting that step records how the conflict was resolved.
func (r *PassRecord) checkStepConflicts() error {
	completed := make(map[string]bool, len(r.Results))
	for _, sr := range r.Results {
		if sr.Status == plan.StatusComplete {
			completed[sr.StepID] = true
		}
	}
	if len(completed) == 0 {
		return nil
	}
	addressed := make(map[string]bool, len(r.Actions))
	for _, a := range r.Actions {
		if a.TargetStepID != "" {
			addressed[a.TargetStepID] = true
		}
	}
	for _, ev := range r.Evaluations {
		for _, se := range ev.Results {
			if se.Verdict == collab.VerdictInvalid && completed[se.StepID] && !addressed[se.StepID] {
				return faults.Consistency("history", fmt.Sprintf(
					"pass %d: step %q is recorded complete but evaluated invalid with no refinement action explaining it",
					r.PassNumber, se.StepID))
			}
		}
	}
	return nil
}

// Tracker is the append-only pass history. Safe for concurrent readers.
type Tracker struct {
	mu      sync.RWMutex
	corrID  string
	records []PassRecord
}

// NewTracker creates a tracker bound to one request's correlation id.
func NewTracker(correlationID string) *Tracker {
	return &Tracker{corrID: correlationID}
}

// Append admits a completed pass. Records must arrive in order with
// contiguous pass numbers and a matching correlation id.
func (t *Tracker) Append(r PassRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.CorrelationID != t.corrID {
		return faults.Consistency("history", fmt.Sprintf(
			"pass %d: correlation_id %q does not match tracker %q",
			r.PassNumber, r.CorrelationID, t.corrID))
	}
	if want := len(t.records) + 1; r.PassNumber != want {
		return faults.Consistency("history", fmt.Sprintf(
			"pass_number %d out of order, expected %d", r.PassNumber, want))
	}
	if n := len(t.records); n > 0 {
		prev := t.records[n-1]
		if r.TTLBefore > prev.TTLAfter && r.Revision != nil && r.Revision.ReallocatedTTL == 0 {
			return faults.Consistency("history", fmt.Sprintf(
				"pass %d: ttl_before %d exceeds previous ttl_after %d without reallocation",
				r.PassNumber, r.TTLBefore, prev.TTLAfter))
		}
	}
	// Snapshot the plans so later mutation by the caller cannot reach
	// the history.
	r.PlanBefore = r.PlanBefore.Clone()
	r.PlanAfter = r.PlanAfter.Clone()
	t.records = append(t.records, r)
	return nil
}

// Passes returns a copy of the recorded passes in order.
func (t *Tracker) Passes() []PassRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PassRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of completed passes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Last returns the most recent pass, if any.
func (t *Tracker) Last() (PassRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.records) == 0 {
		return PassRecord{}, false
	}
	return t.records[len(t.records)-1], true
}

// Stats summarizes the history.
type Stats struct {
	Passes         int     `json:"passes"`
	StepsExecuted  int     `json:"steps_executed"`
	StepsFailed    int     `json:"steps_failed"`
	RepairAttempts int     `json:"repair_attempts"`
	TTLConsumed    int     `json:"ttl_consumed"`
	TotalSeconds   float64 `json:"total_seconds"`
}

// Stats computes the summary over all recorded passes.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var s Stats
	s.Passes = len(t.records)
	for _, r := range t.records {
		s.TTLConsumed += r.TTLBefore - r.TTLAfter
		for _, sr := range r.Results {
			s.StepsExecuted++
			if sr.Status == plan.StatusFailed {
				s.StepsFailed++
			}
			s.RepairAttempts += sr.RepairAttempts
			s.TotalSeconds += sr.DurationSeconds
		}
	}
	return s
}

// Replay reconstructs the final plan by applying each pass's recorded
// refinement actions to its opening snapshot and checks every pass's
// closing snapshot structurally. A divergence is a consistency violation.
func (t *Tracker) Replay() (*plan.Plan, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var current *plan.Plan
	for _, r := range t.records {
		replayed, err := plan.Apply(r.PlanBefore, r.Actions)
		if err != nil {
			return nil, faults.Consistency("history", fmt.Sprintf(
				"pass %d: replaying refinement actions: %v", r.PassNumber, err))
		}
		if len(replayed.Steps) != len(r.PlanAfter.Steps) {
			return nil, faults.Consistency("history", fmt.Sprintf(
				"pass %d: replay yields %d steps, recorded plan has %d",
				r.PassNumber, len(replayed.Steps), len(r.PlanAfter.Steps)))
		}
		current = r.PlanAfter.Clone()
	}
	return current, nil
}

package collab

import (
	"fmt"

	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
)

// StepResult records the execution of one plan step.
type StepResult struct {
	StepID          string          `json:"step_id"`
	Status          plan.StepStatus `json:"status"`
	Mode            plan.ModeKind   `json:"mode"`
	Tool            string          `json:"tool,omitempty"`
	Output          string          `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	RepairAttempts  int             `json:"repair_attempts,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// StepVerdict is an evaluator's judgment of one executed step.
type StepVerdict string

const (
	VerdictOK              StepVerdict = "ok"
	VerdictNeedsRefinement StepVerdict = "needs_refinement"
	VerdictInvalid         StepVerdict = "invalid"
)

// StepEvaluation is the per-step portion of an Evaluation.
type StepEvaluation struct {
	StepID  string      `json:"step_id"`
	Verdict StepVerdict `json:"verdict"`
	Issues  []string    `json:"issues,omitempty"`
}

// Evaluation is the Phase C evaluate sub-step result.
type Evaluation struct {
	Results []StepEvaluation `json:"results"`
	Summary string           `json:"summary,omitempty"`
}

// Validate shape-checks the evaluation.
func (e *Evaluation) Validate() error {
	for _, r := range e.Results {
		if r.StepID == "" {
			return fmt.Errorf("evaluation result missing step_id")
		}
		switch r.Verdict {
		case VerdictOK, VerdictNeedsRefinement, VerdictInvalid:
		default:
			return fmt.Errorf("step %s: unknown verdict %q", r.StepID, r.Verdict)
		}
	}
	return nil
}

// NeedsRefinement reports whether any step was judged short of ok.
func (e *Evaluation) NeedsRefinement() bool {
	for _, r := range e.Results {
		if r.Verdict != VerdictOK {
			return true
		}
	}
	return false
}

// ValidationIssue is one semantic issue detected in a plan or output.
type ValidationIssue struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Location       string `json:"location,omitempty"`
	ProposedRepair string `json:"proposed_repair,omitempty"`
}

// SemanticValidationReport aggregates validation issues.
type SemanticValidationReport struct {
	Issues          []ValidationIssue `json:"issues"`
	Summary         string            `json:"summary,omitempty"`
	OverallSeverity string            `json:"overall_severity,omitempty"`
}

// Validate shape-checks the report.
func (r *SemanticValidationReport) Validate() error {
	for i, issue := range r.Issues {
		if issue.ID == "" || issue.Description == "" {
			return fmt.Errorf("issue %d: id and description are required", i)
		}
	}
	return nil
}

// ConvergenceScores holds the three convergence dimensions, each in [0,1].
type ConvergenceScores struct {
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
	Consistency  float64 `json:"consistency"`
}

// ConvergenceAssessment is the external convergence judgment, consumed
// read-only by the kernel.
type ConvergenceAssessment struct {
	Converged      bool              `json:"converged"`
	ReasonCodes    []string          `json:"reason_codes"`
	Scores         ConvergenceScores `json:"scores"`
	Explanation    string            `json:"explanation,omitempty"`
	DetectedIssues []ValidationIssue `json:"detected_issues,omitempty"`
}

// Validate shape-checks the assessment.
func (a *ConvergenceAssessment) Validate() error {
	for name, v := range map[string]float64{
		"completeness": a.Scores.Completeness,
		"coherence":    a.Scores.Coherence,
		"consistency":  a.Scores.Consistency,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("score %s out of range: %g", name, v)
		}
	}
	if !a.Converged && len(a.ReasonCodes) == 0 {
		return fmt.Errorf("non-converged assessment requires reason_codes")
	}
	return nil
}

// DepthRevision is the adaptive-depth advisor's answer. When Mismatch is
// false the profile stands and the next pass enters Phase B; when true,
// RevisedProfile carries a new version and the next pass re-enters Phase A.
type DepthRevision struct {
	Mismatch       bool             `json:"mismatch"`
	Reason         string           `json:"reason,omitempty"`
	RevisedProfile *profile.Profile `json:"revised_profile,omitempty"`

	// ReallocatedTTL, when positive, replaces the allocated TTL at the
	// pass boundary. Zero means no change.
	ReallocatedTTL int `json:"reallocated_ttl,omitempty"`
}

// Validate shape-checks the revision.
func (d *DepthRevision) Validate() error {
	if d.Mismatch && d.RevisedProfile == nil {
		return fmt.Errorf("mismatch revision requires revised_profile")
	}
	if d.RevisedProfile != nil {
		if err := d.RevisedProfile.Validate(); err != nil {
			return fmt.Errorf("revised profile: %w", err)
		}
	}
	if d.ReallocatedTTL < 0 {
		return fmt.Errorf("reallocated_ttl must be non-negative, got %d", d.ReallocatedTTL)
	}
	return nil
}

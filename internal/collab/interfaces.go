package collab

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/loopkit/quadra/internal/plan"
	"github.com/loopkit/quadra/internal/profile"
)

// Request is the minimal context forwarded to a reasoning call. Purpose
// tags what the call is for; Context carries only the fields the context
// propagator projected for the target phase.
type Request struct {
	Purpose string         `json:"purpose"`
	Context map[string]any `json:"context"`
}

// Reasoner is the external reasoning collaborator. The payload is opaque
// to the kernel; failures surface through the faults taxonomy as transient
// or permanent external call failures.
type Reasoner interface {
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// Entry is one key/value pair returned by a memory search.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Memory is the key/value collaborator every step and phase result is
// written through.
type Memory interface {
	Write(ctx context.Context, key string, value []byte) error
	// Read returns the value and whether the key exists.
	Read(ctx context.Context, key string) ([]byte, bool, error)
	// Search returns entries whose keys start with prefix, in key order.
	Search(ctx context.Context, prefix string) ([]Entry, error)
}

// ToolDescriptor describes one registered tool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolRegistry resolves and invokes tools. Lookup and List are
// synchronous; List feeds reasoning-call context so the collaborator can
// repair tool references against what actually exists.
type ToolRegistry interface {
	Lookup(name string) (ToolDescriptor, bool)
	List() []ToolDescriptor
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// ErrUnrecoverable is returned by a Supervisor when an artifact cannot be
// repaired within the attempt bound.
var ErrUnrecoverable = errors.New("artifact unrecoverable")

// Supervisor rewrites malformed artifacts into valid ones. Implementations
// make at most two attempts per artifact and return [ErrUnrecoverable]
// when both fail.
type Supervisor interface {
	Repair(ctx context.Context, artifact json.RawMessage, repairCtx map[string]any) (json.RawMessage, error)
}

// Profiler infers a task profile from the task input (Phase A).
type Profiler interface {
	Infer(ctx context.Context, req Request) (*profile.Profile, error)
}

// Planner proposes an initial plan (Phase A) and refinement actions
// (Phases B and C) from read-only snapshots.
type Planner interface {
	Propose(ctx context.Context, req Request) (*plan.Plan, error)
	Refine(ctx context.Context, req Request) ([]plan.RefinementAction, error)
}

// Evaluator judges executed step results (Phase C evaluate sub-step).
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Evaluation, error)
}

// SemanticValidator detects semantic issues in a plan (Phase B).
type SemanticValidator interface {
	Validate(ctx context.Context, req Request) (*SemanticValidationReport, error)
}

// ConvergenceJudge assesses whether the task's output is complete,
// coherent, and consistent (Phase D).
type ConvergenceJudge interface {
	Assess(ctx context.Context, req Request) (*ConvergenceAssessment, error)
}

// DepthAdvisor decides whether the task profile mismatches observed
// behavior and proposes a revision at the pass boundary (Phase D).
type DepthAdvisor interface {
	Advise(ctx context.Context, req Request) (*DepthRevision, error)
}

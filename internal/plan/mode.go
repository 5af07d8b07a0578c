package plan

// ModeKind discriminates the step execution mode variant.
type ModeKind string

const (
	// ModeTool executes through a resolved tool reference.
	ModeTool ModeKind = "tool"

	// ModeReasoning executes as a reasoning call.
	ModeReasoning ModeKind = "reasoning"

	// ModeUnresolved carries a tool reference that did not resolve; it is
	// a candidate for bounded repair before falling back to reasoning.
	ModeUnresolved ModeKind = "unresolved"
)

// Mode is the tagged execution-mode variant chosen once during step
// preparation. It replaces presence-checks on the step's optional tool and
// agent fields, so a step can never be in an ambiguous dual-field state.
type Mode struct {
	Kind    ModeKind
	ToolRef string
	Prompt  string
}

// ToolMode returns a mode executing through the named tool.
func ToolMode(ref string) Mode {
	return Mode{Kind: ModeTool, ToolRef: ref}
}

// ReasoningMode returns a mode executing as a reasoning call with the
// given prompt.
func ReasoningMode(prompt string) Mode {
	return Mode{Kind: ModeReasoning, Prompt: prompt}
}

// UnresolvedMode returns a mode for a tool reference that failed to
// resolve.
func UnresolvedMode(ref string) Mode {
	return Mode{Kind: ModeUnresolved, ToolRef: ref}
}

// Resolve picks the mode for a step in strict precedence: a valid tool
// reference, then the explicit reasoning marker, otherwise unresolved.
// validTool is the registry's lookup predicate.
//
// An unresolved mode (missing or invalid tool reference without a
// reasoning marker) is a candidate for bounded repair; the repair loop and
// the reasoning fallback live in the execution phase.
func Resolve(s Step, validTool func(name string) bool) Mode {
	if s.Tool != "" && validTool(s.Tool) {
		return ToolMode(s.Tool)
	}
	if s.Agent == AgentReasoning {
		return ReasoningMode(s.Description)
	}
	return UnresolvedMode(s.Tool)
}

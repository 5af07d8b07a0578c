// Package profile defines the TaskProfile record.
//
// A profile is created in Phase A and revised only at pass boundaries
// (Phase D) when a mismatch trigger fires. Profiles are versioned values:
// a revision is a new value with an incremented version, never an in-place
// mutation.
package profile

import (
	"encoding/json"
	"fmt"
)

// ToolUsage grades how much tool use the task is expected to need.
type ToolUsage string

const (
	ToolUsageNone      ToolUsage = "none"
	ToolUsageMinimal   ToolUsage = "minimal"
	ToolUsageModerate  ToolUsage = "moderate"
	ToolUsageExtensive ToolUsage = "extensive"
)

// Breadth grades the expected output breadth.
type Breadth string

const (
	BreadthNarrow   Breadth = "narrow"
	BreadthModerate Breadth = "moderate"
	BreadthBroad    Breadth = "broad"
)

// Confidence grades the required answer confidence.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Profile captures the inferred shape of a task.
//
// InformationSufficiency is continuous in [0,1]; the categorical view is
// derived through [Profile.SufficiencyLabel].
type Profile struct {
	Version                int             `json:"profile_version"`
	ReasoningDepth         int             `json:"reasoning_depth"`
	InformationSufficiency float64         `json:"information_sufficiency"`
	ExpectedToolUsage      ToolUsage       `json:"expected_tool_usage"`
	OutputBreadth          Breadth         `json:"output_breadth"`
	ConfidenceRequirement  Confidence      `json:"confidence_requirement"`
	RawInference           json.RawMessage `json:"raw_inference,omitempty"`
}

// Validate checks field domains.
func (p *Profile) Validate() error {
	if p.Version < 1 {
		return fmt.Errorf("profile_version must be >= 1, got %d", p.Version)
	}
	if p.ReasoningDepth < 1 || p.ReasoningDepth > 5 {
		return fmt.Errorf("reasoning_depth must be in [1,5], got %d", p.ReasoningDepth)
	}
	if p.InformationSufficiency < 0 || p.InformationSufficiency > 1 {
		return fmt.Errorf("information_sufficiency must be in [0,1], got %g", p.InformationSufficiency)
	}
	switch p.ExpectedToolUsage {
	case ToolUsageNone, ToolUsageMinimal, ToolUsageModerate, ToolUsageExtensive:
	default:
		return fmt.Errorf("unknown expected_tool_usage %q", p.ExpectedToolUsage)
	}
	switch p.OutputBreadth {
	case BreadthNarrow, BreadthModerate, BreadthBroad:
	default:
		return fmt.Errorf("unknown output_breadth %q", p.OutputBreadth)
	}
	switch p.ConfidenceRequirement {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return fmt.Errorf("unknown confidence_requirement %q", p.ConfidenceRequirement)
	}
	return nil
}

// SufficiencyLabel returns the derived categorical view of
// information_sufficiency.
func (p *Profile) SufficiencyLabel() string {
	switch {
	case p.InformationSufficiency < 0.4:
		return "low"
	case p.InformationSufficiency < 0.75:
		return "moderate"
	default:
		return "high"
	}
}

// Revise returns a new profile with apply's changes and the version
// incremented. The receiver is not modified.
func (p *Profile) Revise(apply func(next *Profile)) (*Profile, error) {
	next := *p
	next.RawInference = append(json.RawMessage(nil), p.RawInference...)
	apply(&next)
	next.Version = p.Version + 1
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("revised profile invalid: %w", err)
	}
	return &next, nil
}

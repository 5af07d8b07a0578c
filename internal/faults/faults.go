// Package faults defines the shared failure taxonomy for the orchestration
// kernel.
//
// Every failure the kernel can surface is one of six kinds, and every
// instance is tagged retryable or not at the point of detection. Callers
// branch on the kind and the retryable flag instead of unwinding ad-hoc
// error chains; the kernel's retry policy (retry exactly once, then abort)
// is implemented in [Once].
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindContractViolation  Kind = "contract_violation"
	KindContextPropagation Kind = "context_propagation_failure"
	KindTTLExpired         Kind = "ttl_expired"
	KindConsistency        Kind = "consistency_violation"
	KindExternalCall       Kind = "external_call_failure"
	KindRepairExhausted    Kind = "repair_exhausted"
)

// ExpirationPoint records where a TTL expiration was detected.
type ExpirationPoint string

const (
	ExpirationPhaseBoundary ExpirationPoint = "phase_boundary"
	ExpirationMidPhase      ExpirationPoint = "mid_phase"
)

// Severity grades a structured error for the caller.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is a classified kernel failure.
//
// Component names the detecting component, Condition the contract failure
// condition (or a short description when no contract owns the failure).
type Error struct {
	Kind          Kind
	Retryable     bool
	Component     string
	Condition     string
	CorrelationID string

	// Expiration is set only for KindTTLExpired.
	Expiration ExpirationPoint

	// Escalated marks a failure that was retried once and failed again.
	Escalated bool

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Kind, e.Component, e.Condition)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ContractViolation reports a contract input/output/invariant failure.
// Retryability follows the owning contract's failure condition tag.
func ContractViolation(component, condition string, retryable bool, err error) *Error {
	return &Error{
		Kind:      KindContractViolation,
		Retryable: retryable,
		Component: component,
		Condition: condition,
		Err:       err,
	}
}

// ContextPropagation reports a context validation failure. Always
// non-retryable: it is raised before any external call is issued.
func ContextPropagation(component, condition string, err error) *Error {
	return &Error{
		Kind:      KindContextPropagation,
		Component: component,
		Condition: condition,
		Err:       err,
	}
}

// TTLExpired reports budget exhaustion at the given checkpoint.
// Never retryable.
func TTLExpired(component string, point ExpirationPoint) *Error {
	return &Error{
		Kind:       KindTTLExpired,
		Component:  component,
		Condition:  "ttl_remaining is zero",
		Expiration: point,
	}
}

// Consistency reports conflicting execution and evaluation results on a
// pass record. Non-retryable.
func Consistency(component, condition string) *Error {
	return &Error{
		Kind:      KindConsistency,
		Component: component,
		Condition: condition,
	}
}

// ExternalCall reports a collaborator call failure. Transient failures are
// retryable, permanent ones are not.
func ExternalCall(component string, transient bool, err error) *Error {
	condition := "permanent external call failure"
	if transient {
		condition = "transient external call failure"
	}
	return &Error{
		Kind:      KindExternalCall,
		Retryable: transient,
		Component: component,
		Condition: condition,
		Err:       err,
	}
}

// RepairExhausted reports that the supervisor could not produce a valid
// artifact within its attempt bound. Non-retryable.
func RepairExhausted(component, condition string, err error) *Error {
	return &Error{
		Kind:      KindRepairExhausted,
		Component: component,
		Condition: condition,
		Err:       err,
	}
}

// As extracts a classified error from err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether err may be retried. TTL expirations and
// escalated failures are never retryable; unclassified errors are treated
// as non-retryable.
func IsRetryable(err error) bool {
	fe, ok := As(err)
	if !ok {
		return false
	}
	if fe.Kind == KindTTLExpired || fe.Escalated {
		return false
	}
	return fe.Retryable
}

// IsTTLExpired reports whether err is a TTL expiration, returning the
// detection point when it is.
func IsTTLExpired(err error) (ExpirationPoint, bool) {
	fe, ok := As(err)
	if !ok || fe.Kind != KindTTLExpired {
		return "", false
	}
	return fe.Expiration, true
}

// Escalate marks err non-retryable after a failed retry. Unclassified
// errors are wrapped as permanent external call failures first.
func Escalate(component string, err error) *Error {
	fe, ok := As(err)
	if !ok {
		fe = ExternalCall(component, false, err)
	}
	fe.Escalated = true
	fe.Retryable = false
	return fe
}

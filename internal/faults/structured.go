package faults

// StructuredError is the user-visible abort payload. It is the only error
// shape returned from a terminated run; internal error chains never leak
// past it.
type StructuredError struct {
	Code              string   `json:"code"`
	Severity          Severity `json:"severity"`
	AffectedComponent string   `json:"affected_component"`
	FailureCondition  string   `json:"failure_condition"`
	CorrelationID     string   `json:"correlation_id"`
}

// Structure converts err into the user-visible abort payload. The
// correlation ID is stamped from the run, not the error, so aborts raised
// before the run context existed still correlate.
func Structure(err error, correlationID string) *StructuredError {
	fe, ok := As(err)
	if !ok {
		return &StructuredError{
			Code:              string(KindExternalCall),
			Severity:          SeverityError,
			AffectedComponent: "orchestrator",
			FailureCondition:  err.Error(),
			CorrelationID:     correlationID,
		}
	}

	severity := SeverityError
	if fe.Kind == KindConsistency || fe.Escalated {
		severity = SeverityCritical
	}

	return &StructuredError{
		Code:              string(fe.Kind),
		Severity:          severity,
		AffectedComponent: fe.Component,
		FailureCondition:  fe.Condition,
		CorrelationID:     correlationID,
	}
}

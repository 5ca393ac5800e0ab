package models

import (
	dErrors "logbook/pkg/domain-errors"
)

// Outcome is the result status carried by every event.
type Outcome string

const (
	OutcomeStarted Outcome = "STARTED"
	OutcomeOK      Outcome = "OK"
	OutcomeKO      Outcome = "KO"
	OutcomeWarning Outcome = "WARNING"
	OutcomeFatal   Outcome = "FATAL"
)

// IsValid reports whether o is one of the known outcomes.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeStarted, OutcomeOK, OutcomeKO, OutcomeWarning, OutcomeFatal:
		return true
	}
	return false
}

// ParseOutcome validates an outcome received from a caller.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown outcome %q", s)
	}
	return o, nil
}

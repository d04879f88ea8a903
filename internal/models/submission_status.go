package models

import "strings"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusPending     SubmissionStatus = "PENDING"
	StatusProcessing  SubmissionStatus = "PROCESSING"
	StatusAccepted    SubmissionStatus = "ACCEPTED"
	StatusPassed      SubmissionStatus = "PASSED"
	StatusFailed      SubmissionStatus = "FAILED"
	StatusWrongAnswer SubmissionStatus = "WRONG_ANSWER"
	StatusError       SubmissionStatus = "ERROR"
)

// ParseSubmissionStatus normalises a wire value into a known status.
func ParseSubmissionStatus(value string) (SubmissionStatus, bool) {
	status := SubmissionStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Valid reports whether the status is one of the known lifecycle states.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAccepted, StatusPassed, StatusFailed, StatusWrongAnswer, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted from s.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusPassed, StatusFailed, StatusWrongAnswer, StatusError:
		return true
	default:
		return false
	}
}

// InFlight reports whether the judge has not settled the submission yet.
func (s SubmissionStatus) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
//
// PENDING may advance to PROCESSING or straight to a terminal status when the
// judge runs synchronously. PROCESSING may only advance to a terminal status.
// Terminal statuses are final.
func CanTransition(from, to SubmissionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to.IsTerminal()
	case StatusProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

package models

import (
	"fmt"
	"strings"
)

// SubmissionType selects which test-case set the judge evaluates and whether
// the attempt is graded.
type SubmissionType string

const (
	TypeSubmission SubmissionType = "SUBMISSION"
	TypeRunVisible SubmissionType = "RUN_VISIBLE"
	TypeRunCustom  SubmissionType = "RUN_CUSTOM"
)

// ParseSubmissionType converts a wire value into a submission type. An empty
// value defaults to a graded submission.
func ParseSubmissionType(value string) (SubmissionType, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return TypeSubmission, nil
	}
	t := SubmissionType(trimmed)
	switch t {
	case TypeSubmission, TypeRunVisible, TypeRunCustom:
		return t, nil
	default:
		return "", fmt.Errorf("unknown submission type %q", value)
	}
}

// IsGraded reports whether the attempt counts toward the graded history and score.
func (t SubmissionType) IsGraded() bool {
	switch t {
	case TypeSubmission:
		return true
	case TypeRunVisible, TypeRunCustom:
		return false
	default:
		return false
	}
}

// Known reports whether t is one of the declared variants.
func (t SubmissionType) Known() bool {
	switch t {
	case TypeSubmission, TypeRunVisible, TypeRunCustom:
		return true
	default:
		return false
	}
}

// RequiresCustomInput reports whether the attempt must carry stdin supplied by the user.
func (t SubmissionType) RequiresCustomInput() bool {
	switch t {
	case TypeRunCustom:
		return true
	case TypeSubmission, TypeRunVisible:
		return false
	default:
		return false
	}
}

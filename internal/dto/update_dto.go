package dto

import (
	"time"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// SubmissionUpdate is the push message broadcast whenever the judge changes a
// submission's status.
type SubmissionUpdate struct {
	ID             uint                    `json:"id"`
	QuestionID     uint                    `json:"questionId"`
	Status         models.SubmissionStatus `json:"status"`
	ResultMetadata *string                 `json:"resultMetadata,omitempty"`
	Type           models.SubmissionType   `json:"type,omitempty"`
	SubmittedAt    *time.Time              `json:"submittedAt,omitempty"`
}

// NewSubmissionUpdate builds the push message for the submission's current state.
// Metadata is only attached once the submission is settled.
func NewSubmissionUpdate(submission models.Submission) SubmissionUpdate {
	update := SubmissionUpdate{
		ID:         submission.ID,
		QuestionID: submission.QuestionID,
		Status:     submission.Status,
		Type:       submission.Type,
	}
	if submission.Status.IsTerminal() {
		metadata := submission.ResultMetadata
		update.ResultMetadata = &metadata
	}
	if !submission.CreatedAt.IsZero() {
		created := submission.CreatedAt.UTC()
		update.SubmittedAt = &created
	}
	return update
}

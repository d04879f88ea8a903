package dto

import (
	"time"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// SubmissionRequest is the payload for creating a submission or a run.
type SubmissionRequest struct {
	QuestionID  uint   `json:"questionId" validate:"required,gt=0"`
	Code        string `json:"code" validate:"required"`
	Language    string `json:"language" validate:"required,max=32"`
	Type        string `json:"type" validate:"omitempty,oneof=SUBMISSION RUN_VISIBLE RUN_CUSTOM"`
	CustomInput string `json:"customInput"`
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	QuestionID uint   `query:"questionId"`
	Type       string `query:"type"`
	Page       int    `query:"page"`
	PageSize   int    `query:"page_size"`
}

// SubmissionResponse represents a submission to API consumers.
type SubmissionResponse struct {
	ID             uint                    `json:"id"`
	QuestionID     uint                    `json:"questionId"`
	UserID         uint                    `json:"userId,omitempty"`
	Code           string                  `json:"code"`
	Language       string                  `json:"language"`
	Type           models.SubmissionType   `json:"type"`
	CustomInput    string                  `json:"customInput,omitempty"`
	Status         models.SubmissionStatus `json:"status"`
	ResultMetadata string                  `json:"resultMetadata,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// NewSubmissionResponse builds a response DTO from a model.
func NewSubmissionResponse(submission models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:             submission.ID,
		QuestionID:     submission.QuestionID,
		UserID:         submission.UserID,
		Code:           submission.Code,
		Language:       submission.Language,
		Type:           submission.Type,
		CustomInput:    submission.CustomInput,
		Status:         submission.Status,
		ResultMetadata: submission.ResultMetadata,
		CreatedAt:      submission.CreatedAt,
	}
}

// NewSubmissionResponseSlice converts a list of models.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}

// SubmissionListResponse wraps a page of submissions.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

// Pagination describes pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
}

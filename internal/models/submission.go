package models

import "time"

// Submission is an immutable snapshot of code sent to the judge together with
// the judge-owned lifecycle fields.
type Submission struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	QuestionID     uint             `gorm:"not null;index" json:"questionId"`
	UserID         uint             `gorm:"not null;index" json:"userId"`
	Type           SubmissionType   `gorm:"size:16;not null" json:"type"`
	Language       string           `gorm:"size:32;not null" json:"language"`
	Code           string           `gorm:"type:text;not null" json:"code"`
	CustomInput    string           `gorm:"type:text" json:"customInput,omitempty"`
	Status         SubmissionStatus `gorm:"size:16;not null;index" json:"status"`
	ResultMetadata string           `gorm:"type:text" json:"resultMetadata,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Question       Question         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsSettled reports whether the judge has written the terminal result.
func (s Submission) IsSettled() bool {
	return s.Status.IsTerminal()
}

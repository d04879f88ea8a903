package models

import (
	"time"

	"gorm.io/datatypes"
)

// Question is a lab problem students submit code against.
type Question struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Title                string         `gorm:"size:255;not null" json:"title"`
	Description          string         `gorm:"type:text" json:"description"`
	Difficulty           string         `gorm:"size:32" json:"difficulty"`
	StarterCode          string         `gorm:"type:text" json:"starterCode"`
	VisibleTestCasesJSON datatypes.JSON `gorm:"column:visible_test_cases_json" json:"visibleTestCasesJson"`
	TimeLimitMs          int            `gorm:"default:2000" json:"timeLimit"`
	MemoryLimitMB        int            `gorm:"default:128" json:"memoryLimit"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	TestCases            []TestCase     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TestCase is a single input/expected-output pair. Hidden cases are never
// returned to students.
type TestCase struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	QuestionID     uint      `gorm:"not null;index" json:"questionId"`
	Position       int       `gorm:"not null;default:0" json:"position"`
	Input          string    `gorm:"type:text;not null" json:"input"`
	ExpectedOutput string    `gorm:"type:text;not null" json:"output"`
	Visible        bool      `gorm:"not null" json:"visible"`
	CreatedAt      time.Time `json:"createdAt"`
}

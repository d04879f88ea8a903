package dto

import "github.com/noah-isme/gema-lab-api/internal/models"

// QuestionResponse is the student-facing representation of a question.
type QuestionResponse struct {
	ID                   uint   `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	Difficulty           string `json:"difficulty"`
	StarterCode          string `json:"starterCode"`
	VisibleTestCasesJSON string `json:"visibleTestCasesJson"`
	TimeLimit            int    `json:"timeLimit"`
	MemoryLimit          int    `json:"memoryLimit"`
}

// TestCaseResponse describes a visible test case.
type TestCaseResponse struct {
	ID      uint   `json:"id"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Visible bool   `json:"visible"`
}

// QuestionDetailResponse bundles a question with its visible test cases.
type QuestionDetailResponse struct {
	Question  QuestionResponse   `json:"question"`
	TestCases []TestCaseResponse `json:"testCases"`
}

// TestCaseRequest is a single test case supplied by an admin.
type TestCaseRequest struct {
	Input   string `json:"input"`
	Output  string `json:"output" validate:"required"`
	Visible *bool  `json:"visible"`
}

// QuestionCreateRequest is the admin payload for creating a question.
type QuestionCreateRequest struct {
	Title                string            `json:"title" validate:"required,max=255"`
	Description          string            `json:"description"`
	Difficulty           string            `json:"difficulty" validate:"omitempty,oneof=EASY MEDIUM HARD easy medium hard"`
	StarterCode          string            `json:"starterCode"`
	VisibleTestCasesJSON string            `json:"visibleTestCasesJson"`
	TimeLimit            int               `json:"timeLimit" validate:"omitempty,gte=100,lte=20000"`
	MemoryLimit          int               `json:"memoryLimit" validate:"omitempty,gte=16,lte=1024"`
	HiddenTestCases      []TestCaseRequest `json:"hiddenTestCases" validate:"dive"`
}

// NewQuestionResponse builds a response DTO from the model.
func NewQuestionResponse(question models.Question) QuestionResponse {
	return QuestionResponse{
		ID:                   question.ID,
		Title:                question.Title,
		Description:          question.Description,
		Difficulty:           question.Difficulty,
		StarterCode:          question.StarterCode,
		VisibleTestCasesJSON: string(question.VisibleTestCasesJSON),
		TimeLimit:            question.TimeLimitMs,
		MemoryLimit:          question.MemoryLimitMB,
	}
}

// NewTestCaseResponse builds a response DTO for a test case.
func NewTestCaseResponse(testCase models.TestCase) TestCaseResponse {
	return TestCaseResponse{
		ID:      testCase.ID,
		Input:   testCase.Input,
		Output:  testCase.ExpectedOutput,
		Visible: testCase.Visible,
	}
}

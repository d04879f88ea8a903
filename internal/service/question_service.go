package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/repository"
)

var (
	// ErrQuestionNotFound indicates the question does not exist.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidTestCases indicates the visible test case document is malformed.
	ErrInvalidTestCases = errors.New("visibleTestCasesJson must be an array of {input, output} objects")
)

const visibleTestCasesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["output"],
    "properties": {
      "input": {"type": "string"},
      "output": {"type": "string"}
    }
  }
}`

// QuestionService manages lab questions and their test cases.
type QuestionService interface {
	List(ctx context.Context) ([]dto.QuestionResponse, error)
	Get(ctx context.Context, id uint) (dto.QuestionDetailResponse, error)
	Create(ctx context.Context, payload dto.QuestionCreateRequest) (dto.QuestionDetailResponse, error)
	AddTestCase(ctx context.Context, questionID uint, payload dto.TestCaseRequest) (dto.TestCaseResponse, error)
	JudgeCases(ctx context.Context, questionID uint) (visible []judge.Case, hidden []judge.Case, err error)
}

type questionService struct {
	questions repository.QuestionRepository
	validator *validator.Validate
	schema    *jsonschema.Schema
	titles    *bluemonday.Policy
	bodies    *bluemonday.Policy
	logger    zerolog.Logger
}

type visibleTestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// NewQuestionService constructs a QuestionService.
func NewQuestionService(repo repository.QuestionRepository, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		questions: repo,
		validator: validate,
		schema:    jsonschema.MustCompileString("visible_test_cases.schema.json", visibleTestCasesSchema),
		titles:    bluemonday.StrictPolicy(),
		bodies:    bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) List(ctx context.Context) ([]dto.QuestionResponse, error) {
	questions, err := s.questions.List(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.QuestionResponse, 0, len(questions))
	for _, question := range questions {
		responses = append(responses, dto.NewQuestionResponse(question))
	}
	return responses, nil
}

func (s *questionService) Get(ctx context.Context, id uint) (dto.QuestionDetailResponse, error) {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionDetailResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionDetailResponse{}, err
	}

	testCases, err := s.questions.ListTestCases(ctx, id, true)
	if err != nil {
		return dto.QuestionDetailResponse{}, err
	}

	return newQuestionDetail(question, testCases), nil
}

func (s *questionService) Create(ctx context.Context, payload dto.QuestionCreateRequest) (dto.QuestionDetailResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuestionDetailResponse{}, err
	}

	visible, err := s.parseVisibleTestCases(payload.VisibleTestCasesJSON)
	if err != nil {
		return dto.QuestionDetailResponse{}, err
	}

	title := strings.TrimSpace(s.titles.Sanitize(payload.Title))
	if title == "" {
		return dto.QuestionDetailResponse{}, fmt.Errorf("title empty after sanitization")
	}

	question := models.Question{
		Title:         title,
		Description:   s.bodies.Sanitize(payload.Description),
		Difficulty:    strings.ToUpper(strings.TrimSpace(payload.Difficulty)),
		StarterCode:   payload.StarterCode,
		TimeLimitMs:   payload.TimeLimit,
		MemoryLimitMB: payload.MemoryLimit,
	}
	if question.TimeLimitMs == 0 {
		question.TimeLimitMs = 2000
	}
	if question.MemoryLimitMB == 0 {
		question.MemoryLimitMB = 128
	}

	for position, tc := range visible {
		question.TestCases = append(question.TestCases, models.TestCase{
			Position:       position,
			Input:          tc.Input,
			ExpectedOutput: tc.Output,
			Visible:        true,
		})
	}
	for position, tc := range payload.HiddenTestCases {
		question.TestCases = append(question.TestCases, models.TestCase{
			Position:       position,
			Input:          tc.Input,
			ExpectedOutput: tc.Output,
			Visible:        false,
		})
	}

	encoded, err := json.Marshal(visible)
	if err != nil {
		return dto.QuestionDetailResponse{}, err
	}
	question.VisibleTestCasesJSON = datatypes.JSON(encoded)

	if err := s.questions.Create(ctx, &question); err != nil {
		return dto.QuestionDetailResponse{}, err
	}

	s.logger.Info().
		Uint("question_id", question.ID).
		Int("visible_cases", len(visible)).
		Int("hidden_cases", len(payload.HiddenTestCases)).
		Msg("question created")

	testCases := make([]models.TestCase, 0, len(visible))
	for _, tc := range question.TestCases {
		if tc.Visible {
			testCases = append(testCases, tc)
		}
	}
	return newQuestionDetail(question, testCases), nil
}

func (s *questionService) AddTestCase(ctx context.Context, questionID uint, payload dto.TestCaseRequest) (dto.TestCaseResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestCaseResponse{}, err
	}

	if _, err := s.questions.GetByID(ctx, questionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestCaseResponse{}, ErrQuestionNotFound
		}
		return dto.TestCaseResponse{}, err
	}

	visible := true
	if payload.Visible != nil {
		visible = *payload.Visible
	}

	testCase := models.TestCase{
		QuestionID:     questionID,
		Input:          payload.Input,
		ExpectedOutput: payload.Output,
		Visible:        visible,
	}
	if err := s.questions.AddTestCase(ctx, &testCase); err != nil {
		return dto.TestCaseResponse{}, err
	}

	if visible {
		if err := s.rebuildVisibleJSON(ctx, questionID); err != nil {
			return dto.TestCaseResponse{}, err
		}
	}

	return dto.NewTestCaseResponse(testCase), nil
}

func (s *questionService) JudgeCases(ctx context.Context, questionID uint) ([]judge.Case, []judge.Case, error) {
	testCases, err := s.questions.ListTestCases(ctx, questionID, false)
	if err != nil {
		return nil, nil, err
	}

	visible := make([]judge.Case, 0, len(testCases))
	hidden := make([]judge.Case, 0)
	for _, tc := range testCases {
		item := judge.Case{Input: tc.Input, Expected: tc.ExpectedOutput}
		if tc.Visible {
			visible = append(visible, item)
			continue
		}
		hidden = append(hidden, item)
	}
	return visible, hidden, nil
}

func (s *questionService) parseVisibleTestCases(raw string) ([]visibleTestCase, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []visibleTestCase{}, nil
	}

	var document interface{}
	if err := json.Unmarshal([]byte(raw), &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestCases, err)
	}
	if err := s.schema.Validate(document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestCases, err)
	}

	var cases []visibleTestCase
	if err := json.Unmarshal([]byte(raw), &cases); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestCases, err)
	}
	return cases, nil
}

func (s *questionService) rebuildVisibleJSON(ctx context.Context, questionID uint) error {
	testCases, err := s.questions.ListTestCases(ctx, questionID, true)
	if err != nil {
		return err
	}

	cases := make([]visibleTestCase, 0, len(testCases))
	for _, tc := range testCases {
		cases = append(cases, visibleTestCase{Input: tc.Input, Output: tc.ExpectedOutput})
	}

	encoded, err := json.Marshal(cases)
	if err != nil {
		return err
	}
	return s.questions.UpdateVisibleTestCasesJSON(ctx, questionID, datatypes.JSON(encoded))
}

func newQuestionDetail(question models.Question, testCases []models.TestCase) dto.QuestionDetailResponse {
	responses := make([]dto.TestCaseResponse, 0, len(testCases))
	for _, tc := range testCases {
		responses = append(responses, dto.NewTestCaseResponse(tc))
	}
	return dto.QuestionDetailResponse{
		Question:  dto.NewQuestionResponse(question),
		TestCases: responses,
	}
}

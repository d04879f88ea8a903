package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// QuestionRepository exposes persistence operations for questions and their test cases.
type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error
	List(ctx context.Context) ([]models.Question, error)
	GetByID(ctx context.Context, id uint) (models.Question, error)
	ListTestCases(ctx context.Context, questionID uint, visibleOnly bool) ([]models.TestCase, error)
	AddTestCase(ctx context.Context, testCase *models.TestCase) error
	UpdateVisibleTestCasesJSON(ctx context.Context, questionID uint, payload datatypes.JSON) error
}

// NewQuestionRepository constructs a question repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

type questionRepository struct {
	db *gorm.DB
}

func (r *questionRepository) Create(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}

func (r *questionRepository) List(ctx context.Context) ([]models.Question, error) {
	var questions []models.Question
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

// ListTestCases returns visible cases before hidden ones, each group in position order.
func (r *questionRepository) ListTestCases(ctx context.Context, questionID uint, visibleOnly bool) ([]models.TestCase, error) {
	query := r.db.WithContext(ctx).Where("question_id = ?", questionID)
	if visibleOnly {
		query = query.Where("visible = ?", true)
	}

	var cases []models.TestCase
	if err := query.Order("visible DESC").Order("position ASC").Order("id ASC").Find(&cases).Error; err != nil {
		return nil, err
	}
	return cases, nil
}

func (r *questionRepository) AddTestCase(ctx context.Context, testCase *models.TestCase) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&models.TestCase{}).
			Where("question_id = ? AND visible = ?", testCase.QuestionID, testCase.Visible).
			Select("COALESCE(MAX(position), -1) + 1").
			Scan(&next).Error; err != nil {
			return err
		}
		testCase.Position = next
		return tx.Create(testCase).Error
	})
}

func (r *questionRepository) UpdateVisibleTestCasesJSON(ctx context.Context, questionID uint, payload datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&models.Question{}).
		Where("id = ?", questionID).
		Update("visible_test_cases_json", payload).Error
}

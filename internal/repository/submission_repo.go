package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// ErrInvalidTransition indicates the requested status change is not allowed by the lifecycle.
var ErrInvalidTransition = errors.New("invalid submission status transition")

// ErrAlreadySettled indicates the submission already holds a terminal status and result.
var ErrAlreadySettled = errors.New("submission already settled")

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	UserID     *uint
	QuestionID *uint
	Type       *models.SubmissionType
	Offset     int
	Limit      int
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	Transition(ctx context.Context, id uint, to models.SubmissionStatus) (models.Submission, error)
	Settle(ctx context.Context, id uint, status models.SubmissionStatus, resultMetadata string) (models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Question").Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.QuestionID != nil {
		query = query.Where("question_id = ?", *filter.QuestionID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", string(*filter.Type))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var submissions []models.Submission
	if err := query.Order("created_at DESC").Order("id DESC").Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

// Transition moves a submission to a non-terminal status. The update is
// conditional on the current status so concurrent workers cannot regress it.
func (r *submissionRepository) Transition(ctx context.Context, id uint, to models.SubmissionStatus) (models.Submission, error) {
	if to.IsTerminal() {
		return models.Submission{}, fmt.Errorf("%w: use Settle for terminal status %s", ErrInvalidTransition, to)
	}
	return r.conditionalUpdate(ctx, id, to, map[string]interface{}{"status": string(to)})
}

// Settle writes the terminal status and result metadata. It succeeds at most
// once per submission.
func (r *submissionRepository) Settle(ctx context.Context, id uint, status models.SubmissionStatus, resultMetadata string) (models.Submission, error) {
	if !status.IsTerminal() {
		return models.Submission{}, fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	return r.conditionalUpdate(ctx, id, status, map[string]interface{}{
		"status":          string(status),
		"result_metadata": resultMetadata,
	})
}

func (r *submissionRepository) conditionalUpdate(ctx context.Context, id uint, to models.SubmissionStatus, values map[string]interface{}) (models.Submission, error) {
	from := sourceStatuses(to)

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(values)
	if result.Error != nil {
		return models.Submission{}, result.Error
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}

	if result.RowsAffected == 0 {
		if current.IsSettled() {
			return current, ErrAlreadySettled
		}
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	return current, nil
}

func sourceStatuses(to models.SubmissionStatus) []string {
	candidates := []models.SubmissionStatus{models.StatusPending, models.StatusProcessing}
	from := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if models.CanTransition(candidate, to) {
			from = append(from, string(candidate))
		}
	}
	return from
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/observability"
	"github.com/noah-isme/gema-lab-api/internal/queue"
	"github.com/noah-isme/gema-lab-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionForbidden indicates the viewer does not own the submission.
	ErrSubmissionForbidden = errors.New("submission belongs to another user")
	// ErrUnsupportedLanguage indicates the requested language is not allowed.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrCodeRequired indicates the submitted code is blank.
	ErrCodeRequired = errors.New("code must not be empty")
	// ErrCustomInputRequired indicates a custom run without input.
	ErrCustomInputRequired = errors.New("customInput is required for RUN_CUSTOM")
	// ErrInvalidSubmissionType indicates an unknown submission type.
	ErrInvalidSubmissionType = errors.New("type must be SUBMISSION, RUN_VISIBLE or RUN_CUSTOM")
)

const queueUnavailableMetadata = `{"error":"queue unavailable"}`

// TransportError reports a submission that was stored but could not be handed
// to the judge. The submission has been settled as ERROR.
type TransportError struct {
	SubmissionID uint
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("submission %d could not be queued: %v", e.SubmissionID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SubmissionService creates submissions and exposes them to their owners.
type SubmissionService interface {
	Submit(ctx context.Context, userID uint, payload dto.SubmissionRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id uint, viewerID uint, role string) (dto.SubmissionResponse, error)
	List(ctx context.Context, userID uint, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error)
	ListAll(ctx context.Context, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	questions   repository.QuestionRepository
	queue       queue.Queue
	publisher   UpdatePublisher
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. The publisher
// may be nil.
func NewSubmissionService(subRepo repository.SubmissionRepository, questionRepo repository.QuestionRepository, jobs queue.Queue, publisher UpdatePublisher, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		questions:   questionRepo,
		queue:       jobs,
		publisher:   publisher,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, userID uint, payload dto.SubmissionRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submissionType, err := models.ParseSubmissionType(payload.Type)
	if err != nil {
		return dto.SubmissionResponse{}, ErrInvalidSubmissionType
	}

	language, ok := judge.NormalizeLanguage(payload.Language)
	if !ok {
		return dto.SubmissionResponse{}, ErrUnsupportedLanguage
	}

	if strings.TrimSpace(payload.Code) == "" {
		return dto.SubmissionResponse{}, ErrCodeRequired
	}

	customInput := payload.CustomInput
	switch submissionType {
	case models.TypeRunCustom:
		if strings.TrimSpace(customInput) == "" {
			return dto.SubmissionResponse{}, ErrCustomInputRequired
		}
	case models.TypeSubmission, models.TypeRunVisible:
		customInput = ""
	}

	question, err := s.questions.GetByID(ctx, payload.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrQuestionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		QuestionID:  question.ID,
		UserID:      userID,
		Type:        submissionType,
		Language:    language,
		Code:        payload.Code,
		CustomInput: customInput,
		Status:      models.StatusPending,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	job := queue.Job{
		SubmissionID:  submission.ID,
		QuestionID:    question.ID,
		Code:          submission.Code,
		Language:      submission.Language,
		TimeLimitMs:   question.TimeLimitMs,
		MemoryLimitMB: question.MemoryLimitMB,
		JobType:       submission.Type,
		CustomInput:   submission.CustomInput,
		EnqueuedAt:    s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to enqueue submission")
		s.failUnqueued(ctx, submission.ID)
		return dto.SubmissionResponse{}, &TransportError{SubmissionID: submission.ID, Err: err}
	}

	observability.SubmissionsCreated().WithLabelValues(string(submission.Type)).Inc()
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("question_id", submission.QuestionID).
		Uint("user_id", userID).
		Str("type", string(submission.Type)).
		Str("language", submission.Language).
		Msg("submission queued")

	return dto.NewSubmissionResponse(submission), nil
}

// failUnqueued settles a submission whose job never reached the queue so it
// does not sit in PENDING forever.
func (s *submissionService) failUnqueued(ctx context.Context, id uint) {
	settled, err := s.submissions.Settle(ctx, id, models.StatusError, queueUnavailableMetadata)
	if err != nil {
		s.logger.Error().Err(err).Uint("submission_id", id).Msg("failed to settle unqueued submission")
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, dto.NewSubmissionUpdate(settled)); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", id).Msg("failed to publish unqueued submission")
	}
}

func (s *submissionService) Get(ctx context.Context, id uint, viewerID uint, role string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if !canViewSubmission(viewerID, role, submission) {
		return dto.SubmissionResponse{}, ErrSubmissionForbidden
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) List(ctx context.Context, userID uint, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error) {
	return s.list(ctx, &userID, filter)
}

func (s *submissionService) ListAll(ctx context.Context, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error) {
	return s.list(ctx, nil, filter)
}

func (s *submissionService) list(ctx context.Context, userID *uint, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	repoFilter := repository.SubmissionFilter{
		UserID: userID,
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	}
	if filter.QuestionID != 0 {
		questionID := filter.QuestionID
		repoFilter.QuestionID = &questionID
	}
	if strings.TrimSpace(filter.Type) != "" {
		submissionType, err := models.ParseSubmissionType(filter.Type)
		if err != nil {
			return dto.SubmissionListResponse{}, ErrInvalidSubmissionType
		}
		repoFilter.Type = &submissionType
	}

	submissions, total, err := s.submissions.List(ctx, repoFilter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	return dto.SubmissionListResponse{
		Items: dto.NewSubmissionResponseSlice(submissions),
		Pagination: dto.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: int(total),
		},
	}, nil
}

func canViewSubmission(viewerID uint, role string, submission models.Submission) bool {
	if viewerID != 0 && viewerID == submission.UserID {
		return true
	}
	role = strings.ToLower(role)
	return role == "teacher" || role == "admin"
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

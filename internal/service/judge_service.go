package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/observability"
	"github.com/noah-isme/gema-lab-api/internal/queue"
	"github.com/noah-isme/gema-lab-api/internal/repository"
)

// TaskEvaluator grades a single judge task.
type TaskEvaluator interface {
	Evaluate(ctx context.Context, task judge.Task) (judge.Verdict, error)
}

// TestCaseSource supplies the cases a question is judged against.
type TestCaseSource interface {
	JudgeCases(ctx context.Context, questionID uint) (visible []judge.Case, hidden []judge.Case, err error)
}

// JudgeConfig tunes the worker pool.
type JudgeConfig struct {
	Workers     int
	PollTimeout time.Duration
	RetryDelay  time.Duration
}

// JudgeService pulls queued submissions, grades them, and publishes every
// status change.
type JudgeService interface {
	Run(ctx context.Context) error
	Process(ctx context.Context, job queue.Job) error
}

type judgeService struct {
	queue       queue.Queue
	submissions repository.SubmissionRepository
	cases       TestCaseSource
	evaluator   TaskEvaluator
	publisher   UpdatePublisher
	cfg         JudgeConfig
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewJudgeService constructs the judge worker pool.
func NewJudgeService(jobs queue.Queue, submissions repository.SubmissionRepository, cases TestCaseSource, evaluator TaskEvaluator, publisher UpdatePublisher, cfg JudgeConfig, logger zerolog.Logger) JudgeService {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &judgeService{
		queue:       jobs,
		submissions: submissions,
		cases:       cases,
		evaluator:   evaluator,
		publisher:   publisher,
		cfg:         cfg,
		tracer:      otel.Tracer("github.com/noah-isme/gema-lab-api/internal/service/judge"),
		logger:      logger.With().Str("component", "judge_service").Logger(),
	}
}

// Run blocks until ctx is cancelled. Each job is handled start to finish by a
// single worker, so updates for one submission are published in order.
func (s *judgeService) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for worker := 0; worker < s.cfg.Workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.work(ctx, worker)
		}(worker)
	}

	s.logger.Info().Int("workers", s.cfg.Workers).Msg("judge workers started")
	wg.Wait()
	s.logger.Info().Msg("judge workers stopped")
	return ctx.Err()
}

func (s *judgeService) work(ctx context.Context, worker int) {
	logger := s.logger.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.queue.Dequeue(ctx, s.cfg.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrEmpty):
			continue
		case ctx.Err() != nil:
			return
		default:
			logger.Error().Err(err).Msg("failed to dequeue judge job")
			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := s.Process(ctx, job); err != nil {
			logger.Error().Err(err).Uint("submission_id", job.SubmissionID).Msg("judge job failed")
		}
	}
}

func (s *judgeService) Process(ctx context.Context, job queue.Job) error {
	ctx, span := s.tracer.Start(ctx, "judge.process", trace.WithAttributes(
		attribute.Int64("submission.id", int64(job.SubmissionID)),
		attribute.String("submission.type", string(job.JobType)),
	))
	defer span.End()

	logger := s.logger.With().Uint("submission_id", job.SubmissionID).Str("type", string(job.JobType)).Logger()
	start := time.Now()

	submission, err := s.submissions.Transition(ctx, job.SubmissionID, models.StatusProcessing)
	switch {
	case err == nil:
		s.publish(ctx, submission)
	case errors.Is(err, repository.ErrAlreadySettled):
		logger.Info().Msg("skipping job for settled submission")
		return nil
	case errors.Is(err, repository.ErrInvalidTransition):
		submission, err = s.submissions.GetByID(ctx, job.SubmissionID)
		if err != nil {
			return err
		}
		if !submission.Status.InFlight() {
			logger.Info().Str("status", string(submission.Status)).Msg("skipping job for settled submission")
			return nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		logger.Warn().Msg("dropping job for unknown submission")
		return nil
	default:
		span.RecordError(err)
		return err
	}

	verdict := s.evaluate(ctx, job, submission, logger)

	settled, err := s.submissions.Settle(ctx, submission.ID, verdict.Status, verdict.Metadata)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			logger.Warn().Msg("submission settled concurrently; discarding verdict")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	observability.JudgeJobDuration().
		WithLabelValues(string(settled.Type), string(settled.Status)).
		Observe(time.Since(start).Seconds())
	logger.Info().
		Str("status", string(settled.Status)).
		Dur("duration", time.Since(start)).
		Msg("submission judged")

	s.publish(ctx, settled)
	return nil
}

// evaluate always yields a terminal verdict. Failures of the judge itself
// settle the submission as ERROR.
func (s *judgeService) evaluate(ctx context.Context, job queue.Job, submission models.Submission, logger zerolog.Logger) judge.Verdict {
	visible, hidden, err := s.cases.JudgeCases(ctx, submission.QuestionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load test cases")
		return errorVerdict("test cases unavailable")
	}

	language := job.Language
	if language == "" {
		language = submission.Language
	}
	code := job.Code
	if code == "" {
		code = submission.Code
	}

	task := judge.Task{
		SubmissionID: submission.ID,
		Type:         submission.Type,
		Program: judge.Program{
			Language:      language,
			Code:          code,
			TimeLimit:     time.Duration(job.TimeLimitMs) * time.Millisecond,
			MemoryLimitMB: int64(job.MemoryLimitMB),
		},
		CustomInput: submission.CustomInput,
		Visible:     visible,
		Hidden:      hidden,
	}

	verdict, err := s.evaluator.Evaluate(ctx, task)
	if err != nil {
		logger.Error().Err(err).Msg("evaluation failed")
		return errorVerdict(err.Error())
	}
	if !verdict.Status.IsTerminal() {
		logger.Error().Str("status", string(verdict.Status)).Msg("evaluator returned non-terminal status")
		return errorVerdict("judge returned an invalid verdict")
	}
	return verdict
}

func (s *judgeService) publish(ctx context.Context, submission models.Submission) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, dto.NewSubmissionUpdate(submission)); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish submission update")
	}
}

func errorVerdict(message string) judge.Verdict {
	encoded, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		encoded = []byte(`{"error":"internal error"}`)
	}
	return judge.Verdict{Status: models.StatusError, Metadata: string(encoded)}
}

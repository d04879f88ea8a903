package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/service"
	"github.com/noah-isme/gema-lab-api/internal/utils"
)

// SubmissionHandler exposes the student submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router, submitLimiter fiber.Handler) {
	if submitLimiter == nil {
		submitLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	router.Post("", submitLimiter, h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.SubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Submit(requestContext(c), userID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", submission.ID).
		Uint("question_id", submission.QuestionID).
		Str("type", string(submission.Type)).
		Msg("submission accepted")

	return utils.SendSuccess(c, "submission queued", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.List(requestContext(c), userIDFromContext(c), filter)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, result.Items, "submissions retrieved", result.Pagination)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(requestContext(c), id, userIDFromContext(c), userRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	var transportErr *service.TransportError
	switch {
	case errors.As(err, &validationErrors):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrors))
	case errors.Is(err, service.ErrCodeRequired):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), map[string]string{"code": err.Error()})
	case errors.Is(err, service.ErrCustomInputRequired):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), map[string]string{"customInput": err.Error()})
	case errors.Is(err, service.ErrUnsupportedLanguage):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), map[string]string{"language": err.Error()})
	case errors.Is(err, service.ErrInvalidSubmissionType):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), map[string]string{"type": err.Error()})
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), map[string]string{"questionId": err.Error()})
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "submission belongs to another user")
	case errors.As(err, &transportErr):
		requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", transportErr.SubmissionID).Msg("judge queue unavailable")
		return utils.Fail(c, fiber.StatusServiceUnavailable, "judge queue unavailable", map[string]uint{"submissionId": transportErr.SubmissionID})
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

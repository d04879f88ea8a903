package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/service"
	"github.com/noah-isme/gema-lab-api/internal/utils"
)

// AdminSubmissionHandler lists submissions across all students.
type AdminSubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewAdminSubmissionHandler constructs an AdminSubmissionHandler.
func NewAdminSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *AdminSubmissionHandler {
	return &AdminSubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_submission_handler").Logger(),
	}
}

// Register binds the admin submission routes.
func (h *AdminSubmissionHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
}

func (h *AdminSubmissionHandler) list(c *fiber.Ctx) error {
	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.ListAll(requestContext(c), filter)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubmissionType) {
			return utils.Fail(c, fiber.StatusBadRequest, err.Error(), map[string]string{"type": err.Error()})
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list submissions")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	return utils.OK(c, result.Items, "submissions retrieved", result.Pagination)
}

func (h *AdminSubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(requestContext(c), id, userIDFromContext(c), userRoleFromContext(c))
	switch {
	case err == nil:
		return utils.SendSuccess(c, "submission retrieved", submission)
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

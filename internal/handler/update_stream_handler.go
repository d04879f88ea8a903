package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/service"
)

// UpdateStreamHandler upgrades clients onto the submission update stream.
type UpdateStreamHandler struct {
	hub    service.UpdateHubService
	logger zerolog.Logger
}

// NewUpdateStreamHandler constructs the handler.
func NewUpdateStreamHandler(hub service.UpdateHubService, logger zerolog.Logger) *UpdateStreamHandler {
	return &UpdateStreamHandler{
		hub:    hub,
		logger: logger.With().Str("component", "update_stream_handler").Logger(),
	}
}

// Register binds the websocket route. It must be registered before any
// "/:id" route on the same group.
func (h *UpdateStreamHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("user_id_string", userIDStringFromContext(c))
		return c.Next()
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *UpdateStreamHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id_string").(string)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}
	correlation, _ := conn.Locals("correlation_id").(string)

	logger := h.logger.With().Str("user_id", userID).Str("correlation_id", correlation).Logger()
	logger.Info().Msg("update stream connected")
	h.hub.ServeConnection(conn, service.UpdateStreamOptions{UserID: userID, CorrelationID: correlation})
	logger.Info().Msg("update stream disconnected")
}

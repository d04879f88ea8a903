package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-lab-api/internal/config"
	"github.com/noah-isme/gema-lab-api/internal/handler"
	"github.com/noah-isme/gema-lab-api/internal/middleware"
	"github.com/noah-isme/gema-lab-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	QuestionHandler        *handler.QuestionHandler
	SubmissionHandler      *handler.SubmissionHandler
	AdminSubmissionHandler *handler.AdminSubmissionHandler
	UpdateStreamHandler    *handler.UpdateStreamHandler
	JWTMiddleware          fiber.Handler
	SubmitLimiter          fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.QuestionHandler != nil {
		deps.QuestionHandler.Register(app.Group("/api/questions", jwtMiddleware))
	}

	submissions := app.Group("/api/submissions", jwtMiddleware)
	// The websocket route goes first so "/ws" is not captured by "/:id".
	if deps.UpdateStreamHandler != nil {
		deps.UpdateStreamHandler.Register(submissions)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions, deps.SubmitLimiter)
	}

	admin := app.Group("/api/admin", jwtMiddleware, middleware.RequireRole("admin", "teacher"))
	if deps.QuestionHandler != nil {
		deps.QuestionHandler.RegisterAdmin(admin.Group("/questions"))
	}
	if deps.AdminSubmissionHandler != nil {
		deps.AdminSubmissionHandler.Register(admin.Group("/submissions"))
	}
}

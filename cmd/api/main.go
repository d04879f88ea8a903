package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/config"
	"github.com/noah-isme/gema-lab-api/internal/database"
	"github.com/noah-isme/gema-lab-api/internal/handler"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/middleware"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/queue"
	"github.com/noah-isme/gema-lab-api/internal/repository"
	"github.com/noah-isme/gema-lab-api/internal/router"
	"github.com/noah-isme/gema-lab-api/internal/service"
	dockerexec "github.com/noah-isme/gema-lab-api/pkg/docker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Question{}, &models.TestCase{}, &models.Submission{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	questionRepo := repository.NewQuestionRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobs := queue.NewRedisQueue(redisClient, cfg.QueueKey)

	publisher := service.NewResultPublisher(redisClient, natsConn, cfg.ChannelBase, logger)
	questionService := service.NewQuestionService(questionRepo, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, questionRepo, jobs, publisher, validate, logger)
	hub := service.NewUpdateHubService(redisClient, natsConn, cfg.ChannelBase, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub.Start(ctx)

	if cfg.JudgeEmbedded {
		sandbox, err := dockerexec.NewContainerSandbox(dockerexec.Config{
			Host:           cfg.DockerHost,
			TimeLimit:      cfg.ExecutionTimeout,
			MemoryLimitMB:  int64(cfg.CodeRunMemoryMB),
			CPUShares:      int64(cfg.CodeRunCPUShares),
			PidsLimit:      int64(cfg.CodeRunPidsLimit),
			MaxOutputBytes: cfg.CodeRunOutputBytes,
			ScratchDir:     cfg.SandboxScratchDir,
			Logger:         logger,
		})
		if err != nil {
			log.Fatalf("failed to create sandbox: %v", err)
		}
		defer sandbox.Close()

		judgeService := service.NewJudgeService(jobs, submissionRepo, questionService,
			judge.NewEvaluator(judge.NewSandboxRunner(sandbox), logger), publisher,
			service.JudgeConfig{Workers: cfg.JudgeWorkers, PollTimeout: cfg.JudgePollTimeout}, logger)
		go runEmbeddedJudge(ctx, judgeService, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		QuestionHandler:        handler.NewQuestionHandler(questionService, logger),
		SubmissionHandler:      handler.NewSubmissionHandler(submissionService, logger),
		AdminSubmissionHandler: handler.NewAdminSubmissionHandler(submissionService, logger),
		UpdateStreamHandler:    handler.NewUpdateStreamHandler(hub, logger),
		JWTMiddleware:          middleware.JWTProtected(cfg.JWTSecret),
		SubmitLimiter:          middleware.RateLimit("submissions", cfg.SubmissionRateLimit, cfg.SubmissionRateTTL),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

// runEmbeddedJudge drains the queue until ctx ends. Cancellation is the normal
// shutdown path and is not logged.
func runEmbeddedJudge(ctx context.Context, judgeService service.JudgeService, logger zerolog.Logger) {
	if err := judgeService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("embedded judge stopped")
	}
}

func waitForShutdown(ctx context.Context, app *fiber.App) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

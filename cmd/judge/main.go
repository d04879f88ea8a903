package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/config"
	"github.com/noah-isme/gema-lab-api/internal/database"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/queue"
	"github.com/noah-isme/gema-lab-api/internal/repository"
	"github.com/noah-isme/gema-lab-api/internal/service"
	dockerexec "github.com/noah-isme/gema-lab-api/pkg/docker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "judge").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName+" judge")
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

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

	questions := service.NewQuestionService(repository.NewQuestionRepository(db), validator.New(validator.WithRequiredStructEnabled()), logger)
	publisher := service.NewResultPublisher(redisClient, natsConn, cfg.ChannelBase, logger)
	judgeService := service.NewJudgeService(
		queue.NewRedisQueue(redisClient, cfg.QueueKey),
		repository.NewSubmissionRepository(db),
		questions,
		judge.NewEvaluator(judge.NewSandboxRunner(sandbox), logger),
		publisher,
		service.JudgeConfig{Workers: cfg.JudgeWorkers, PollTimeout: cfg.JudgePollTimeout},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := judgeService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("judge stopped: %v", err)
	}
	log.Println("judge stopped")
}

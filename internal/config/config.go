package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the lab API and judge.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	ChannelBase         string
	QueueKey            string
	JWTSecret           string
	JudgeWorkers        int
	JudgePollTimeout    time.Duration
	JudgeEmbedded       bool
	DockerHost          string
	ExecutionTimeout    time.Duration
	CodeRunMemoryMB     int
	CodeRunCPUShares    int
	CodeRunPidsLimit    int
	CodeRunOutputBytes  int
	SandboxScratchDir   string
	SubmissionRateLimit int
	SubmissionRateTTL   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Lab API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "gema:lab")
	v.SetDefault("queue.key", "submission_queue")
	v.SetDefault("judge.workers", 2)
	v.SetDefault("judge.poll_timeout", "5s")
	v.SetDefault("judge.embedded", false)
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("code_run_pids_limit", 64)
	v.SetDefault("code_run_output_bytes", 64*1024)
	v.SetDefault("submission.rate_limit", 10)
	v.SetDefault("submission.rate_window", "1m")

	pollTimeout, err := parseDuration(v, "judge.poll_timeout", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "submission.rate_window", time.Minute)
	if err != nil {
		return Config{}, err
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		ChannelBase:         v.GetString("channel.base"),
		QueueKey:            v.GetString("queue.key"),
		JWTSecret:           v.GetString("jwt.secret"),
		JudgeWorkers:        v.GetInt("judge.workers"),
		JudgePollTimeout:    pollTimeout,
		JudgeEmbedded:       v.GetBool("judge.embedded"),
		DockerHost:          v.GetString("docker_host"),
		ExecutionTimeout:    time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:     v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:    v.GetInt("code_run_cpu_shares"),
		CodeRunPidsLimit:    v.GetInt("code_run_pids_limit"),
		CodeRunOutputBytes:  v.GetInt("code_run_output_bytes"),
		SandboxScratchDir:   v.GetString("sandbox.scratch_dir"),
		SubmissionRateLimit: v.GetInt("submission.rate_limit"),
		SubmissionRateTTL:   rateWindow,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.JudgeWorkers <= 0 {
		cfg.JudgeWorkers = 2
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// Package docker runs untrusted programs inside throwaway containers.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lab",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Wall time of sandboxed program runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	runOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lab",
		Subsystem: "sandbox",
		Name:      "runs_total",
		Help:      "Sandboxed runs by outcome",
	}, []string{"image", "outcome"})
)

// StdinFile is the workspace file that holds a run's standard input.
const StdinFile = "input.txt"

// ErrTimeLimit indicates the program exceeded its wall-clock limit.
var ErrTimeLimit = errors.New("time limit exceeded")

// ErrMemoryLimit indicates the container was killed for exceeding its memory limit.
var ErrMemoryLimit = errors.New("memory limit exceeded")

// Sandbox runs a program to completion and reports its output.
type Sandbox interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// RunSpec describes one program run. Files are written into a fresh workspace
// mounted at the container's working directory; Stdin is piped in through
// StdinFile.
type RunSpec struct {
	Image         string
	Command       string
	Files         map[string]string
	Stdin         string
	Env           []string
	TimeLimit     time.Duration
	MemoryLimitMB int64
}

// RunResult is what the program produced.
type RunResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Config groups sandbox defaults.
type Config struct {
	Host           string
	TimeLimit      time.Duration
	MemoryLimitMB  int64
	CPUShares      int64
	PidsLimit      int64
	MaxOutputBytes int
	WorkingDir     string
	ScratchDir     string
	Logger         zerolog.Logger
}

// ContainerSandbox implements Sandbox on top of the Docker engine API.
type ContainerSandbox struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewContainerSandbox connects to the Docker daemon.
func NewContainerSandbox(cfg Config) (*ContainerSandbox, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 * 1024
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = 64
	}

	return &ContainerSandbox{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-lab-api/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "sandbox").Logger(),
	}, nil
}

// Run executes spec.Command with `sh -c` inside a network-less container.
func (s *ContainerSandbox) Run(parent context.Context, spec RunSpec) (RunResult, error) {
	if spec.Image == "" {
		return RunResult{}, errors.New("image is required")
	}
	if spec.Command == "" {
		return RunResult{}, errors.New("command is required")
	}

	ctx, span := s.tracer.Start(parent, "sandbox.run", trace.WithAttributes(
		attribute.String("docker.image", spec.Image),
	))
	defer span.End()

	workspace, err := s.prepareWorkspace(spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}
	defer os.RemoveAll(workspace)

	limit := spec.TimeLimit
	if limit <= 0 {
		limit = s.cfg.TimeLimit
	}
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	memoryMB := spec.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = s.cfg.MemoryLimitMB
	}
	pids := s.cfg.PidsLimit

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     memoryMB * 1024 * 1024,
			MemorySwap: memoryMB * 1024 * 1024,
			CPUShares:  s.cfg.CPUShares,
			PidsLimit:  &pids,
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: s.cfg.WorkingDir,
		}},
	}

	command := fmt.Sprintf("%s < %s", spec.Command, StdinFile)
	containerCfg := &container.Config{
		Image:           spec.Image,
		Cmd:             []string{"sh", "-c", command},
		Env:             spec.Env,
		WorkingDir:      s.cfg.WorkingDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	start := time.Now()
	result := RunResult{}

	created, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return result, s.fail(span, spec.Image, fmt.Errorf("container create: %w", err))
	}
	containerID := created.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := s.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return result, s.fail(span, spec.Image, fmt.Errorf("container start: %w", err))
	}

	statusCh, errCh := s.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	runDuration.WithLabelValues(spec.Image).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			runOutcomes.WithLabelValues(spec.Image, "timeout").Inc()
			span.SetStatus(codes.Error, "time limit exceeded")
			return result, fmt.Errorf("%w after %s", ErrTimeLimit, limit)
		}
		return result, s.fail(span, spec.Image, fmt.Errorf("container wait: %w", waitErr))
	}

	logs, err := s.client.ContainerLogs(parent, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
	} else {
		defer logs.Close()
		stdout, stderr, truncated, err := splitLogs(logs, s.cfg.MaxOutputBytes)
		if err != nil {
			s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		}
		result.Stdout, result.Stderr, result.Truncated = stdout, stderr, truncated
	}

	inspectCtx, cancelInspect := context.WithTimeout(parent, 2*time.Second)
	defer cancelInspect()
	if info, err := s.client.ContainerInspect(inspectCtx, containerID); err == nil && info.State != nil && info.State.OOMKilled {
		runOutcomes.WithLabelValues(spec.Image, "oom").Inc()
		span.SetStatus(codes.Error, "memory limit exceeded")
		return result, fmt.Errorf("%w (%d MB)", ErrMemoryLimit, memoryMB)
	}

	runOutcomes.WithLabelValues(spec.Image, "completed").Inc()
	return result, nil
}

func (s *ContainerSandbox) prepareWorkspace(spec RunSpec) (string, error) {
	dir, err := os.MkdirTemp(s.cfg.ScratchDir, "lab-run-*")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	files := make(map[string]string, len(spec.Files)+1)
	for name, content := range spec.Files {
		files[name] = content
	}
	files[StdinFile] = spec.Stdin

	for name, content := range files {
		if name != filepath.Base(name) {
			os.RemoveAll(dir)
			return "", fmt.Errorf("workspace file %q must not contain a path", name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("write workspace file: %w", err)
		}
	}
	return dir, nil
}

func (s *ContainerSandbox) fail(span trace.Span, image string, err error) error {
	runOutcomes.WithLabelValues(image, "error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// limitedBuffer keeps at most max bytes and records whether more were written.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func splitLogs(reader io.Reader, max int) (string, string, bool, error) {
	stdout := &limitedBuffer{max: max}
	stderr := &limitedBuffer{max: max}
	_, err := stdcopy.StdCopy(stdout, stderr, reader)
	return stdout.buf.String(), stderr.buf.String(), stdout.truncated || stderr.truncated, err
}

// Close releases the Docker client.
func (s *ContainerSandbox) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dockerexec "github.com/noah-isme/gema-lab-api/pkg/docker"
)

var (
	// ErrUnsupportedLanguage indicates no sandbox image exists for the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrTimeLimitExceeded indicates the program ran past its time limit.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")
	// ErrMemoryLimitExceeded indicates the program ran past its memory limit.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
)

// RuntimeError reports a program that exited with a non-zero status, which
// includes compilation failures.
type RuntimeError struct {
	ExitCode int
	Stderr   string
}

func (e *RuntimeError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("process exited with code %d", e.ExitCode)
	}
	return stderr
}

// Program is the code under test.
type Program struct {
	Language      string
	Code          string
	TimeLimit     time.Duration
	MemoryLimitMB int64
}

// Execution is the output of a single program run.
type Execution struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes a program against one input.
type Runner interface {
	Run(ctx context.Context, program Program, stdin string) (Execution, error)
}

// SandboxRunner runs programs inside Docker containers.
type SandboxRunner struct {
	sandbox dockerexec.Sandbox
}

// NewSandboxRunner wraps a sandbox.
func NewSandboxRunner(sandbox dockerexec.Sandbox) *SandboxRunner {
	return &SandboxRunner{sandbox: sandbox}
}

// Run builds the program's workspace and executes it with stdin.
func (r *SandboxRunner) Run(ctx context.Context, program Program, stdin string) (Execution, error) {
	language, ok := LookupLanguage(program.Language)
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, program.Language)
	}

	result, err := r.sandbox.Run(ctx, dockerexec.RunSpec{
		Image:         language.Image,
		Command:       language.Command,
		Files:         map[string]string{language.FileName: program.Code},
		Stdin:         stdin,
		TimeLimit:     program.TimeLimit,
		MemoryLimitMB: program.MemoryLimitMB,
	})
	execution := Execution{Stdout: result.Stdout, Stderr: result.Stderr, Duration: result.Duration}

	switch {
	case errors.Is(err, dockerexec.ErrTimeLimit):
		return execution, ErrTimeLimitExceeded
	case errors.Is(err, dockerexec.ErrMemoryLimit):
		return execution, ErrMemoryLimitExceeded
	case err != nil:
		return execution, err
	case result.ExitCode != 0:
		return execution, &RuntimeError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	return execution, nil
}

// programFailure reports whether err is the program's fault rather than the
// sandbox's, and the message to show the student.
func programFailure(err error) (string, bool) {
	var runtimeErr *RuntimeError
	switch {
	case errors.As(err, &runtimeErr):
		return runtimeErr.Error(), true
	case errors.Is(err, ErrTimeLimitExceeded), errors.Is(err, ErrMemoryLimitExceeded):
		return err.Error(), true
	default:
		return "", false
	}
}

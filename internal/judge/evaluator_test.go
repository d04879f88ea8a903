package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

// scriptedRunner answers from fixed tables and records every stdin it sees.
type scriptedRunner struct {
	outputs map[string]string
	errs    map[string]error
	seen    []string
}

func (r *scriptedRunner) Run(_ context.Context, _ Program, stdin string) (Execution, error) {
	r.seen = append(r.seen, stdin)
	if err, ok := r.errs[stdin]; ok {
		return Execution{}, err
	}
	return Execution{Stdout: r.outputs[stdin]}, nil
}

func newTask(kind models.SubmissionType) Task {
	return Task{
		SubmissionID: 1,
		Type:         kind,
		Program:      Program{Language: "python", Code: "print(int(input())*2)"},
		Visible:      []Case{{Input: "1", Expected: "2"}, {Input: "2", Expected: "4"}},
		Hidden:       []Case{{Input: "10", Expected: "20"}, {Input: "11", Expected: "22"}},
	}
}

func TestSubmissionAcceptedRunsAllCases(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{"1": "2\n", "2": "4\n", "10": "20", "11": " 22 "}}
	verdict, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), newTask(models.TypeSubmission))
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, verdict.Status)
	require.Equal(t, []string{"1", "2", "10", "11"}, runner.seen)

	set, err := reconcile.DecodeResults(verdict.Metadata)
	require.NoError(t, err)
	require.Equal(t, 4, set.Total)
	visible, hidden := reconcile.SplitByVisibility(set.Results)
	require.Len(t, visible, 2)
	require.Len(t, hidden, 2)
	require.Empty(t, hidden[0].Expected)
	require.Empty(t, hidden[0].Actual)
	require.Equal(t, 2, hidden[0].Index)
}

func TestSubmissionStopsAtFirstVisibleFailure(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{"1": "3", "2": "4"}}
	verdict, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), newTask(models.TypeSubmission))
	require.NoError(t, err)
	require.Equal(t, models.StatusWrongAnswer, verdict.Status)
	require.Equal(t, []string{"1"}, runner.seen)

	set, err := reconcile.DecodeResults(verdict.Metadata)
	require.NoError(t, err)
	require.Equal(t, 4, set.Total)
	require.Len(t, set.Results, 1)
	require.Equal(t, "3", set.Results[0].Actual)
	require.Equal(t, 0, reconcile.Score(verdict.Status, set))
}

func TestSubmissionStopsAtFirstHiddenFailure(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{"1": "2", "2": "4", "11": "22"},
		errs:    map[string]error{"10": ErrTimeLimitExceeded},
	}
	verdict, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), newTask(models.TypeSubmission))
	require.NoError(t, err)
	require.Equal(t, models.StatusWrongAnswer, verdict.Status)
	require.Equal(t, []string{"1", "2", "10"}, runner.seen)

	set, err := reconcile.DecodeResults(verdict.Metadata)
	require.NoError(t, err)
	require.Equal(t, 50, reconcile.Score(verdict.Status, set))
}

func TestSubmissionSandboxFailureIsAnError(t *testing.T) {
	runner := &scriptedRunner{errs: map[string]error{"1": errors.New("docker daemon unreachable")}}
	_, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), newTask(models.TypeSubmission))
	require.Error(t, err)
}

func TestVisibleRunReportsEveryCase(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{"2": "4"},
		errs:    map[string]error{"1": &RuntimeError{ExitCode: 1, Stderr: "Traceback"}},
	}
	verdict, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), newTask(models.TypeRunVisible))
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, verdict.Status)
	require.True(t, strings.HasPrefix(verdict.Metadata, "["))
	require.Equal(t, []string{"1", "2"}, runner.seen)

	set, err := reconcile.DecodeResults(verdict.Metadata)
	require.NoError(t, err)
	require.Len(t, set.Results, 2)
	require.Equal(t, "Traceback", set.Results[0].Actual)
	require.Equal(t, "1", set.Results[0].Input)
	require.Equal(t, reconcile.CasePassed, set.Results[1].Status)
}

func TestCustomRun(t *testing.T) {
	task := newTask(models.TypeRunCustom)
	task.CustomInput = "5"

	runner := &scriptedRunner{outputs: map[string]string{"5": "10\n"}}
	verdict, err := NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, models.StatusPassed, verdict.Status)
	output, ok := reconcile.CustomRunOutput(verdict.Metadata)
	require.True(t, ok)
	require.Equal(t, "10\n", output)

	runner = &scriptedRunner{errs: map[string]error{"5": &RuntimeError{ExitCode: 2}}}
	verdict, err = NewEvaluator(runner, zerolog.Nop()).Evaluate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, verdict.Status)
	require.JSONEq(t, `{"error":"process exited with code 2"}`, verdict.Metadata)
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEvaluator(&scriptedRunner{}, zerolog.Nop()).Evaluate(ctx, newTask(models.TypeRunVisible))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLookupLanguage(t *testing.T) {
	language, ok := LookupLanguage(" C++ ")
	require.True(t, ok)
	require.Equal(t, "cpp", language.Name)

	name, ok := NormalizeLanguage("Python3")
	require.True(t, ok)
	require.Equal(t, "python", name)

	_, ok = LookupLanguage("cobol")
	require.False(t, ok)
}

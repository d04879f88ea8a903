// Package judge grades submissions by running them against test cases.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// Case is one test case fed to the program.
type Case struct {
	Input    string
	Expected string
}

// Task is everything the evaluator needs for one submission.
type Task struct {
	SubmissionID uint
	Type         models.SubmissionType
	Program      Program
	CustomInput  string
	Visible      []Case
	Hidden       []Case
}

// Verdict is the terminal status and serialized result metadata.
type Verdict struct {
	Status   models.SubmissionStatus
	Metadata string
}

// Evaluator grades tasks with a Runner.
type Evaluator struct {
	runner Runner
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(runner Runner, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		runner: runner,
		logger: logger.With().Str("component", "judge_evaluator").Logger(),
	}
}

type caseReport struct {
	TestCase int    `json:"testCase"`
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Status   string `json:"status"`
	Type     string `json:"type"`
	Input    string `json:"input,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

type gradedReport struct {
	Total   int          `json:"total"`
	Results []caseReport `json:"results"`
}

// Evaluate runs the task and returns its verdict. An error means the sandbox
// itself failed and no verdict could be reached.
func (e *Evaluator) Evaluate(ctx context.Context, task Task) (Verdict, error) {
	switch task.Type {
	case models.TypeSubmission:
		return e.evaluateSubmission(ctx, task)
	case models.TypeRunVisible:
		return e.evaluateVisibleRun(ctx, task)
	case models.TypeRunCustom:
		return e.evaluateCustomRun(ctx, task)
	default:
		return Verdict{}, fmt.Errorf("unknown submission type %q", task.Type)
	}
}

// evaluateSubmission stops at the first failing case. Hidden cases only run
// once every visible case has passed.
func (e *Evaluator) evaluateSubmission(ctx context.Context, task Task) (Verdict, error) {
	report := gradedReport{
		Total:   len(task.Visible) + len(task.Hidden),
		Results: make([]caseReport, 0, len(task.Visible)+len(task.Hidden)),
	}
	accepted := true

	for _, tc := range task.Visible {
		result, err := e.runCase(ctx, task.Program, tc, len(report.Results))
		if err != nil {
			return Verdict{}, err
		}
		result.Type = "visible"
		report.Results = append(report.Results, result)
		if !result.Passed {
			accepted = false
			break
		}
	}

	if accepted {
		for _, tc := range task.Hidden {
			result, err := e.runCase(ctx, task.Program, tc, len(report.Results))
			if err != nil {
				return Verdict{}, err
			}
			report.Results = append(report.Results, caseReport{
				TestCase: result.TestCase,
				Index:    result.Index,
				Passed:   result.Passed,
				Status:   result.Status,
				Type:     "hidden",
			})
			if !result.Passed {
				accepted = false
				break
			}
		}
	}

	status := models.StatusAccepted
	if !accepted {
		status = models.StatusWrongAnswer
	}
	return encodeVerdict(status, report)
}

func (e *Evaluator) evaluateVisibleRun(ctx context.Context, task Task) (Verdict, error) {
	results := make([]caseReport, 0, len(task.Visible))
	allPassed := true

	for _, tc := range task.Visible {
		result, err := e.runCase(ctx, task.Program, tc, len(results))
		if err != nil {
			return Verdict{}, err
		}
		result.Type = "visible"
		result.Input = tc.Input
		results = append(results, result)
		if !result.Passed {
			allPassed = false
		}
	}

	status := models.StatusPassed
	if !allPassed {
		status = models.StatusFailed
	}
	return encodeVerdict(status, results)
}

func (e *Evaluator) evaluateCustomRun(ctx context.Context, task Task) (Verdict, error) {
	execution, err := e.runner.Run(ctx, task.Program, task.CustomInput)
	if err != nil {
		message, isProgramFault := programFailure(err)
		if !isProgramFault {
			return Verdict{}, err
		}
		return encodeVerdict(models.StatusError, map[string]string{"error": message})
	}
	return encodeVerdict(models.StatusPassed, map[string]string{"output": execution.Stdout})
}

func (e *Evaluator) runCase(ctx context.Context, program Program, tc Case, position int) (caseReport, error) {
	if err := ctx.Err(); err != nil {
		return caseReport{}, err
	}

	report := caseReport{
		TestCase: position + 1,
		Index:    position,
		Expected: tc.Expected,
	}

	execution, err := e.runner.Run(ctx, program, tc.Input)
	if err != nil {
		message, isProgramFault := programFailure(err)
		if !isProgramFault {
			return caseReport{}, err
		}
		report.Actual = message
		report.Status = "FAILED"
		return report, nil
	}

	report.Actual = execution.Stdout
	report.Passed = outputsMatch(execution.Stdout, tc.Expected)
	report.Status = "FAILED"
	if report.Passed {
		report.Status = "PASSED"
	}
	e.logger.Debug().
		Int("test_case", report.TestCase).
		Bool("passed", report.Passed).
		Dur("duration", execution.Duration).
		Msg("test case evaluated")
	return report, nil
}

func outputsMatch(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

func encodeVerdict(status models.SubmissionStatus, payload interface{}) (Verdict, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode result metadata: %w", err)
	}
	return Verdict{Status: status, Metadata: string(encoded)}, nil
}

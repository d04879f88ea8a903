package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// Result statuses for a single test case.
const (
	CasePassed = "PASSED"
	CaseFailed = "FAILED"
)

// Test case visibility.
const (
	CaseVisible = "visible"
	CaseHidden  = "hidden"
)

// TestCaseResult is one judged test case decoded from result metadata.
type TestCaseResult struct {
	Index    int    `json:"index"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Input    string `json:"input,omitempty"`
	Type     string `json:"type"`
}

// Hidden reports whether the case was withheld from the student.
func (r TestCaseResult) Hidden() bool {
	return r.Type == CaseHidden
}

// ResultSet is the decoded form of a submission's result metadata.
type ResultSet struct {
	Results []TestCaseResult
	Total   int
}

// Passed counts results with status PASSED.
func (s ResultSet) Passed() int {
	passed := 0
	for _, result := range s.Results {
		if result.Status == CasePassed {
			passed++
		}
	}
	return passed
}

// DecodeError reports result metadata that could not be parsed.
type DecodeError struct {
	Metadata string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode result metadata: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type rawCaseResult struct {
	Index    *int       `json:"index"`
	TestCase *int       `json:"testCase"`
	Status   string     `json:"status"`
	Passed   *bool      `json:"passed"`
	Expected flexString `json:"expected"`
	Actual   flexString `json:"actual"`
	Input    flexString `json:"input"`
	Type     string     `json:"type"`
}

type rawResultEnvelope struct {
	Results []rawCaseResult `json:"results"`
	Total   int             `json:"total"`
}

// DecodeResults parses result metadata in either the array form
// `[{...}, ...]` or the envelope form `{"results": [...], "total": N}`.
// Empty metadata decodes to an empty set. Objects without a results key
// (custom run output) also decode to an empty set.
func DecodeResults(metadata string) (ResultSet, error) {
	trimmed := bytes.TrimSpace([]byte(metadata))
	if len(trimmed) == 0 {
		return ResultSet{}, nil
	}

	var raws []rawCaseResult
	total := -1

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return ResultSet{}, &DecodeError{Metadata: metadata, Err: err}
		}
	case '{':
		var envelope rawResultEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return ResultSet{}, &DecodeError{Metadata: metadata, Err: err}
		}
		raws = envelope.Results
		if envelope.Total > 0 {
			total = envelope.Total
		}
	default:
		return ResultSet{}, &DecodeError{Metadata: metadata, Err: fmt.Errorf("unexpected token %q", trimmed[0])}
	}

	results := make([]TestCaseResult, 0, len(raws))
	for position, raw := range raws {
		results = append(results, raw.normalise(position))
	}
	if total < 0 {
		total = len(results)
	}

	return ResultSet{Results: results, Total: total}, nil
}

func (r rawCaseResult) normalise(position int) TestCaseResult {
	status := strings.ToUpper(strings.TrimSpace(r.Status))
	if status == "" {
		status = CaseFailed
		if r.Passed != nil && *r.Passed {
			status = CasePassed
		}
	}

	index := position
	switch {
	case r.Index != nil:
		index = *r.Index
	case r.TestCase != nil:
		index = *r.TestCase - 1
	}

	kind := CaseVisible
	if strings.EqualFold(strings.TrimSpace(r.Type), CaseHidden) {
		kind = CaseHidden
	}

	return TestCaseResult{
		Index:    index,
		Status:   status,
		Expected: string(r.Expected),
		Actual:   string(r.Actual),
		Input:    string(r.Input),
		Type:     kind,
	}
}

// Score derives the percentage score for a submission. ACCEPTED always scores
// 100 regardless of what the metadata says.
func Score(status models.SubmissionStatus, set ResultSet) int {
	if status == models.StatusAccepted {
		return 100
	}
	if set.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(set.Passed()) / float64(set.Total) * 100))
}

// SplitByVisibility partitions results preserving their original order.
func SplitByVisibility(results []TestCaseResult) (visible, hidden []TestCaseResult) {
	visible = make([]TestCaseResult, 0, len(results))
	hidden = make([]TestCaseResult, 0)
	for _, result := range results {
		if result.Hidden() {
			hidden = append(hidden, result)
			continue
		}
		visible = append(visible, result)
	}
	return visible, hidden
}

// CustomRunOutput extracts the output, or the error text, of a custom run.
func CustomRunOutput(metadata string) (string, bool) {
	var payload struct {
		Output *string `json:"output"`
		Error  *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(metadata), &payload); err != nil {
		return "", false
	}
	switch {
	case payload.Output != nil && *payload.Output != "":
		return *payload.Output, true
	case payload.Error != nil && *payload.Error != "":
		return *payload.Error, true
	default:
		return "", false
	}
}

// flexString decodes JSON strings as-is and any other scalar as its literal text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*f = flexString(text)
		return nil
	}
	*f = flexString(trimmed)
	return nil
}

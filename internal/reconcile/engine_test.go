package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

func newSubmission(id, questionID uint, kind models.SubmissionType) models.Submission {
	return models.Submission{
		ID:         id,
		QuestionID: questionID,
		Type:       kind,
		Language:   "python",
		Code:       "print(1)",
		Status:     models.StatusPending,
		CreatedAt:  time.Date(2024, 1, 1, 10, 0, int(id), 0, time.UTC),
	}
}

func metadata(value string) *string {
	return &value
}

func uintPtr(value uint) *uint {
	return &value
}

func TestRecordLocalSubmissionPrependsPendingEntry(t *testing.T) {
	engine := NewEngine()

	sub := newSubmission(7, 1, models.TypeSubmission)
	sub.Status = models.StatusAccepted
	sub.ResultMetadata = `[{"status":"PASSED"}]`

	entry, err := engine.RecordLocalSubmission(1, sub)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, entry.Status)
	require.Empty(t, entry.TestResults)
	require.Empty(t, entry.ResultMetadata)

	_, err = engine.RecordLocalSubmission(1, newSubmission(8, 1, models.TypeRunVisible))
	require.NoError(t, err)

	history := engine.History(1)
	require.Len(t, history, 2)
	require.Equal(t, uint(8), history[0].ID)
	require.Equal(t, uint(7), history[1].ID)
}

func TestRecordLocalSubmissionRejectsInvalidRecords(t *testing.T) {
	engine := NewEngine()

	_, err := engine.RecordLocalSubmission(1, newSubmission(0, 1, models.TypeSubmission))
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = engine.RecordLocalSubmission(2, newSubmission(3, 1, models.TypeSubmission))
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = engine.RecordLocalSubmission(1, newSubmission(3, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(3, 1, models.TypeSubmission))
	require.ErrorIs(t, err, ErrDuplicateEntry)
	require.Len(t, engine.History(1), 1)
}

func TestApplyUpdateKeepsLengthAndPosition(t *testing.T) {
	engine := NewEngine()
	for id := uint(1); id <= 3; id++ {
		_, err := engine.RecordLocalSubmission(5, newSubmission(id, 5, models.TypeSubmission))
		require.NoError(t, err)
	}

	outcome, err := engine.ApplyUpdate(Update{
		ID:             2,
		QuestionID:     5,
		Status:         models.StatusWrongAnswer,
		ResultMetadata: metadata(`[{"status":"PASSED"},{"status":"FAILED"}]`),
	})
	require.NoError(t, err)
	require.Equal(t, MergeApplied, outcome)

	history := engine.History(5)
	require.Len(t, history, 3)
	require.Equal(t, []uint{3, 2, 1}, []uint{history[0].ID, history[1].ID, history[2].ID})
	require.Equal(t, models.StatusWrongAnswer, history[1].Status)
	require.Len(t, history[1].TestResults, 2)
	require.Equal(t, models.StatusPending, history[0].Status)
	require.Equal(t, models.StatusPending, history[2].Status)
}

func TestApplyUpdateUnknownIDIsNoop(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(10, 1, models.TypeSubmission))
	require.NoError(t, err)
	before := engine.Snapshot()

	_, err = engine.ApplyUpdate(Update{ID: 99, QuestionID: 1, Status: models.StatusAccepted})
	require.ErrorIs(t, err, ErrReconciliationMiss)

	_, err = engine.ApplyUpdate(Update{ID: 10, QuestionID: 2, Status: models.StatusAccepted})
	require.ErrorIs(t, err, ErrReconciliationMiss)

	after := engine.Snapshot()
	require.Equal(t, before.Questions, after.Questions)
	require.Empty(t, engine.History(2))
	require.ElementsMatch(t, []uint{1}, engine.Questions())
}

func TestScenarioAcceptedInPlace(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(42, 1, models.TypeSubmission))
	require.NoError(t, err)

	history := engine.History(1)
	require.Len(t, history, 1)
	require.Equal(t, models.StatusPending, history[0].Status)

	_, err = engine.ApplyUpdate(Update{
		ID:             42,
		QuestionID:     1,
		Status:         models.StatusAccepted,
		ResultMetadata: metadata(`[{"status":"PASSED"},{"status":"PASSED"}]`),
	})
	require.NoError(t, err)

	history = engine.History(1)
	require.Len(t, history, 1)
	require.Equal(t, models.StatusAccepted, history[0].Status)

	selected, state := engine.SelectSubmission(1, nil)
	require.Equal(t, Selected, state)
	require.Equal(t, uint(42), selected.ID)
	require.Equal(t, 100, engine.Score(1))
	require.Len(t, engine.VisibleResults(1), 2)
}

func TestScenarioIndependentIDs(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(2, 1, models.TypeSubmission))
	require.NoError(t, err)

	_, err = engine.ApplyUpdate(Update{ID: 2, QuestionID: 1, Status: models.StatusAccepted, ResultMetadata: metadata(`[]`)})
	require.NoError(t, err)
	newer := engine.History(1)[0]

	_, err = engine.ApplyUpdate(Update{ID: 1, QuestionID: 1, Status: models.StatusWrongAnswer, ResultMetadata: metadata(`[{"status":"FAILED"}]`)})
	require.NoError(t, err)

	history := engine.History(1)
	require.Equal(t, newer, history[0])
	require.Equal(t, models.StatusWrongAnswer, history[1].Status)
}

func TestTerminalStatusIsNeverSuperseded(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(5, 1, models.TypeSubmission))
	require.NoError(t, err)

	_, err = engine.ApplyUpdate(Update{ID: 5, QuestionID: 1, Status: models.StatusProcessing})
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 5, QuestionID: 1, Status: models.StatusAccepted, ResultMetadata: metadata(`[{"status":"PASSED"}]`)})
	require.NoError(t, err)

	outcome, err := engine.ApplyUpdate(Update{ID: 5, QuestionID: 1, Status: models.StatusProcessing})
	require.NoError(t, err)
	require.Equal(t, MergeStaleIgnored, outcome)

	outcome, err = engine.ApplyUpdate(Update{ID: 5, QuestionID: 1, Status: models.StatusError, ResultMetadata: metadata(`{"error":"boom"}`)})
	require.NoError(t, err)
	require.Equal(t, MergeStaleIgnored, outcome)

	outcome, err = engine.ApplyUpdate(Update{ID: 5, QuestionID: 1, Status: models.StatusAccepted, ResultMetadata: metadata(`[{"status":"PASSED"}]`)})
	require.NoError(t, err)
	require.Equal(t, MergeDuplicate, outcome)

	entry := engine.History(1)[0]
	require.Equal(t, models.StatusAccepted, entry.Status)
	require.Equal(t, `[{"status":"PASSED"}]`, entry.ResultMetadata)
}

func TestNonTerminalUpdatesAreLastWriteWins(t *testing.T) {
	entry := Entry{ID: 1, QuestionID: 1, Type: models.TypeSubmission, Status: models.StatusProcessing}

	require.Equal(t, MergeApplied, Merge(&entry, Update{ID: 1, QuestionID: 1, Status: models.StatusPending}))
	require.Equal(t, models.StatusPending, entry.Status)

	require.Equal(t, MergeDuplicate, Merge(&entry, Update{ID: 1, QuestionID: 1, Status: "BOGUS"}))
	require.Equal(t, models.StatusPending, entry.Status)
}

func TestMetadataWaitsForTerminalStatus(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(10, 1, models.TypeSubmission))
	require.NoError(t, err)

	var update Update
	require.NoError(t, json.Unmarshal([]byte(`{"id":10,"questionId":1,"resultMetadata":"[{\"status\":\"PASSED\"}]"}`), &update))
	outcome, err := engine.ApplyUpdate(update)
	require.NoError(t, err)
	require.Equal(t, MergeDuplicate, outcome)

	outcome, err = engine.ApplyUpdate(Update{ID: 10, QuestionID: 1, Status: models.StatusProcessing, ResultMetadata: metadata(`[{"status":"PASSED"}]`)})
	require.NoError(t, err)
	require.Equal(t, MergeApplied, outcome)

	entry := engine.History(1)[0]
	require.Equal(t, models.StatusProcessing, entry.Status)
	require.Empty(t, entry.ResultMetadata)
	require.Empty(t, entry.TestResults)

	_, err = engine.ApplyUpdate(Update{ID: 10, QuestionID: 1, Status: models.StatusWrongAnswer, ResultMetadata: metadata(`[{"status":"FAILED"}]`)})
	require.NoError(t, err)
	entry = engine.History(1)[0]
	require.Equal(t, `[{"status":"FAILED"}]`, entry.ResultMetadata)
	require.Len(t, entry.TestResults, 1)
}

func TestUpdateDecodingDropsUnknownStatusAndType(t *testing.T) {
	var update Update
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"questionId":1,"status":" wrong_answer ","type":"run_visible"}`), &update))
	require.Equal(t, models.StatusWrongAnswer, update.Status)
	require.Equal(t, models.TypeRunVisible, update.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"questionId":1,"status":"DONE","type":"QUIZ"}`), &update))
	require.Empty(t, update.Status)
	require.Empty(t, update.Type)

	entry := Entry{ID: 4, QuestionID: 1, Type: models.TypeSubmission, Status: models.StatusProcessing}
	require.Equal(t, MergeDuplicate, Merge(&entry, update))
	require.Equal(t, models.StatusProcessing, entry.Status)
	require.Equal(t, models.TypeSubmission, entry.Type)
}

func TestMergePreservesUnknownFields(t *testing.T) {
	var update Update
	require.NoError(t, json.Unmarshal([]byte(`{"id":"3","questionId":1,"status":"passed","runtimeMs":12,"resultMetadata":[{"status":"PASSED"}]}`), &update))
	require.Equal(t, uint(3), update.ID)
	require.Equal(t, models.StatusPassed, update.Status)
	require.Equal(t, `[{"status":"PASSED"}]`, *update.ResultMetadata)

	entry := Entry{ID: 3, QuestionID: 1, Type: models.TypeRunVisible, Status: models.StatusPending,
		Extra: map[string]json.RawMessage{"note": json.RawMessage(`"keep"`)}}
	require.Equal(t, MergeApplied, Merge(&entry, update))
	require.Equal(t, json.RawMessage(`"keep"`), entry.Extra["note"])
	require.Equal(t, json.RawMessage(`12`), entry.Extra["runtimeMs"])
	require.Equal(t, models.TypeRunVisible, entry.Type)
}

func TestSelectSubmissionSkipsRuns(t *testing.T) {
	engine := NewEngine()

	entry, state := engine.SelectSubmission(1, nil)
	require.Nil(t, entry)
	require.Equal(t, PromptSubmit, state)

	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeRunCustom))
	require.NoError(t, err)
	entry, state = engine.SelectSubmission(1, nil)
	require.Nil(t, entry)
	require.Equal(t, PromptSubmit, state)

	_, err = engine.RecordLocalSubmission(1, newSubmission(2, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(3, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(4, 1, models.TypeRunVisible))
	require.NoError(t, err)

	entry, state = engine.SelectSubmission(1, nil)
	require.Equal(t, Selected, state)
	require.Equal(t, uint(3), entry.ID)

	entry, _ = engine.SelectSubmission(1, uintPtr(2))
	require.Equal(t, uint(2), entry.ID)

	entry, _ = engine.SelectSubmission(1, uintPtr(4))
	require.Equal(t, uint(3), entry.ID)

	entry, _ = engine.SelectSubmission(1, uintPtr(404))
	require.Equal(t, uint(3), entry.ID)

	require.Len(t, engine.GradedHistory(1), 2)
}

func TestDerivedResultsFollowMetadataChanges(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)

	require.Empty(t, engine.VisibleResults(1))
	require.Equal(t, 0, engine.Score(1))

	_, err = engine.ApplyUpdate(Update{
		ID:         1,
		QuestionID: 1,
		Status:     models.StatusWrongAnswer,
		ResultMetadata: metadata(`{"total":4,"results":[
			{"testCase":1,"passed":true,"type":"visible","expected":"1","actual":"1"},
			{"testCase":2,"passed":true,"type":"visible","expected":"2","actual":"2"},
			{"testCase":1,"passed":false,"type":"hidden","expected":"3","actual":"4"}]}`),
	})
	require.NoError(t, err)

	visible := engine.VisibleResults(1)
	hidden := engine.HiddenResults(1)
	require.Len(t, visible, 2)
	require.Len(t, hidden, 1)
	require.Equal(t, 1, visible[1].Index)
	require.Equal(t, CaseFailed, hidden[0].Status)
	require.Equal(t, "4", hidden[0].Actual)
	require.Equal(t, 50, engine.Score(1))
}

func TestUndecodableMetadataScoresZero(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 1, QuestionID: 1, Status: models.StatusWrongAnswer, ResultMetadata: metadata(`not json`)})
	require.NoError(t, err)

	_, err = engine.Results(1)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Empty(t, engine.VisibleResults(1))
	require.Equal(t, 0, engine.Score(1))

	entry, _ := engine.Selection(1)
	require.Equal(t, models.StatusWrongAnswer, entry.Status)
}

func TestAcceptedWithBrokenMetadataStillScoresFull(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 1, QuestionID: 1, Status: models.StatusAccepted, ResultMetadata: metadata(`{{{`)})
	require.NoError(t, err)
	require.Equal(t, 100, engine.Score(1))
}

func TestAutoFocusFiresOncePerPendingSubmission(t *testing.T) {
	var mu sync.Mutex
	var events []FocusEvent
	engine := NewEngine(WithLogger(zerolog.Nop()), WithFocusHandler(func(event FocusEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}))

	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeRunVisible))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(2, 1, models.TypeRunCustom))
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = engine.RecordLocalSubmission(1, newSubmission(3, 1, models.TypeSubmission))
	require.NoError(t, err)
	require.Equal(t, []FocusEvent{{QuestionID: 1, SubmissionID: 3}}, events)

	_, err = engine.ApplyUpdate(Update{ID: 3, QuestionID: 1, Status: models.StatusPending})
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 3, QuestionID: 1, Status: models.StatusProcessing})
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = engine.RecordLocalSubmission(1, newSubmission(4, 1, models.TypeSubmission))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint(4), events[1].SubmissionID)

	_, err = engine.ApplyUpdate(Update{ID: 3, QuestionID: 1, Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, events, 2)

	selected, _ := engine.Selection(1)
	require.Equal(t, uint(4), selected.ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(1, newSubmission(2, 1, models.TypeSubmission))
	require.NoError(t, err)
	_, err = engine.RecordLocalSubmission(2, newSubmission(3, 2, models.TypeRunCustom))
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 3, QuestionID: 2, Status: models.StatusPassed, ResultMetadata: metadata(`{"output":"hi"}`)})
	require.NoError(t, err)
	engine.SelectSubmission(1, uintPtr(1))

	snapshot := engine.Snapshot()
	require.Equal(t, SnapshotVersion, snapshot.Version)

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	focused := 0
	restored := NewEngine(WithFocusHandler(func(FocusEvent) { focused++ }))
	require.NoError(t, restored.Restore(decoded))
	require.Zero(t, focused)

	require.Equal(t, engine.History(1), restored.History(1))
	selected, _ := restored.Selection(1)
	require.Equal(t, uint(1), selected.ID)

	output, ok := restored.CustomOutput(2)
	require.True(t, ok)
	require.Equal(t, "hi", output)

	decoded.Version = 2
	require.ErrorIs(t, restored.Restore(decoded), ErrUnsupportedVersion)
}

func TestResetClearsState(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeSubmission))
	require.NoError(t, err)

	engine.Reset()
	require.Empty(t, engine.Questions())
	_, err = engine.ApplyUpdate(Update{ID: 1, QuestionID: 1, Status: models.StatusAccepted})
	require.ErrorIs(t, err, ErrReconciliationMiss)
}

func TestVisibleRunOutputsUsesLatestRun(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RecordLocalSubmission(1, newSubmission(1, 1, models.TypeRunVisible))
	require.NoError(t, err)
	_, err = engine.ApplyUpdate(Update{ID: 1, QuestionID: 1, Status: models.StatusFailed,
		ResultMetadata: metadata(`[{"testCase":1,"passed":true,"actual":"3"},{"testCase":2,"passed":false,"actual":"x"}]`)})
	require.NoError(t, err)

	outputs := engine.VisibleRunOutputs(1)
	require.Len(t, outputs, 2)
	require.Equal(t, "x", outputs[1].Actual)
	require.Equal(t, CasePassed, outputs[0].Status)

	_, err = engine.RecordLocalSubmission(1, newSubmission(2, 1, models.TypeRunVisible))
	require.NoError(t, err)
	require.Empty(t, engine.VisibleRunOutputs(1))
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	engine := NewEngine()
	for id := uint(1); id <= 50; id++ {
		_, err := engine.RecordLocalSubmission(1, newSubmission(id, 1, models.TypeSubmission))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for id := uint(1); id <= 50; id++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, _ = engine.ApplyUpdate(Update{ID: id, QuestionID: 1, Status: models.StatusAccepted, ResultMetadata: metadata(fmt.Sprintf(`[{"index":%d,"status":"PASSED"}]`, id))})
		}(id)
	}
	wg.Wait()

	history := engine.History(1)
	require.Len(t, history, 50)
	for position, entry := range history {
		require.Equal(t, uint(50-position), entry.ID)
		require.Equal(t, models.StatusAccepted, entry.Status)
	}
}

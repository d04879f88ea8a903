// Package reconcile keeps a session's per-question submission histories in
// sync with locally created submissions and asynchronously pushed updates.
package reconcile

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

var (
	// ErrReconciliationMiss indicates an update for a question or submission the session does not track.
	ErrReconciliationMiss = errors.New("update does not match a tracked submission")
	// ErrInvalidEntry indicates a local submission without an id or question.
	ErrInvalidEntry = errors.New("submission record requires id and question id")
	// ErrDuplicateEntry indicates the submission id is already present in the history.
	ErrDuplicateEntry = errors.New("submission already recorded")
)

// SelectionState tells the presentation layer what to show for a question.
type SelectionState int

const (
	// Selected means a graded submission is available.
	Selected SelectionState = iota
	// PromptSubmit means no graded submission exists yet.
	PromptSubmit
)

// FocusEvent asks the presentation layer to switch to the results view.
type FocusEvent struct {
	QuestionID   uint
	SubmissionID uint
}

// FocusHandler receives auto-focus events. It is called without engine locks held.
type FocusHandler func(FocusEvent)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "reconcile_engine").Logger()
	}
}

// WithFocusHandler registers the auto-focus callback.
func WithFocusHandler(handler FocusHandler) Option {
	return func(e *Engine) {
		e.onFocus = handler
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	histories   map[uint][]*Entry
	selected    map[uint]uint
	lastFocused map[uint]uint
	onFocus     FocusHandler
	logger      zerolog.Logger
}

// NewEngine constructs an empty engine.
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{
		histories:   make(map[uint][]*Entry),
		selected:    make(map[uint]uint),
		lastFocused: make(map[uint]uint),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// RecordLocalSubmission prepends a freshly created submission to the question's
// history with status PENDING and no test results.
func (e *Engine) RecordLocalSubmission(questionID uint, sub models.Submission) (Entry, error) {
	if questionID == 0 || sub.ID == 0 {
		return Entry{}, ErrInvalidEntry
	}
	if sub.QuestionID != 0 && sub.QuestionID != questionID {
		return Entry{}, ErrInvalidEntry
	}

	entry := NewEntry(questionID, sub)

	e.mu.Lock()
	for _, existing := range e.histories[questionID] {
		if existing.ID == entry.ID {
			e.mu.Unlock()
			return Entry{}, ErrDuplicateEntry
		}
	}
	stored := entry
	e.histories[questionID] = append([]*Entry{&stored}, e.histories[questionID]...)
	event, focus := e.autoFocusLocked(questionID)
	e.mu.Unlock()

	e.logger.Debug().
		Uint("question_id", questionID).
		Uint("submission_id", entry.ID).
		Str("type", string(entry.Type)).
		Msg("local submission recorded")

	if focus {
		e.emitFocus(event)
	}
	return entry.clone(), nil
}

// ApplyUpdate merges a pushed update into every entry with the same id in the
// update's question history. Updates for untracked ids return
// ErrReconciliationMiss and change nothing.
func (e *Engine) ApplyUpdate(update Update) (MergeOutcome, error) {
	e.mu.Lock()
	history, ok := e.histories[update.QuestionID]
	if !ok {
		e.mu.Unlock()
		e.logMiss(update)
		return MergeDuplicate, ErrReconciliationMiss
	}

	matched := false
	outcome := MergeDuplicate
	for _, entry := range history {
		if entry.ID != update.ID {
			continue
		}
		matched = true
		switch Merge(entry, update) {
		case MergeApplied:
			outcome = MergeApplied
		case MergeStaleIgnored:
			if outcome != MergeApplied {
				outcome = MergeStaleIgnored
			}
		}
	}
	if !matched {
		e.mu.Unlock()
		e.logMiss(update)
		return MergeDuplicate, ErrReconciliationMiss
	}
	event, focus := e.autoFocusLocked(update.QuestionID)
	e.mu.Unlock()

	if outcome == MergeStaleIgnored {
		e.logger.Debug().
			Uint("question_id", update.QuestionID).
			Uint("submission_id", update.ID).
			Str("status", string(update.Status)).
			Msg("ignored status regression after terminal state")
	}
	if focus {
		e.emitFocus(event)
	}
	return outcome, nil
}

// SelectSubmission selects a graded submission for the question. A nil id, or
// an id that is not a graded entry, falls back to the newest graded entry.
// When the question has no graded entry the result is nil with PromptSubmit.
func (e *Engine) SelectSubmission(questionID uint, submissionID *uint) (*Entry, SelectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var requested uint
	if submissionID != nil {
		requested = *submissionID
	}
	entry := e.resolveLocked(questionID, requested)
	if entry == nil {
		delete(e.selected, questionID)
		return nil, PromptSubmit
	}
	e.selected[questionID] = entry.ID
	out := entry.clone()
	return &out, Selected
}

// Selection returns the currently selected graded entry without changing it.
func (e *Engine) Selection(questionID uint) (*Entry, SelectionState) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry := e.resolveLocked(questionID, e.selected[questionID])
	if entry == nil {
		return nil, PromptSubmit
	}
	out := entry.clone()
	return &out, Selected
}

// Results decodes the selected submission's metadata.
func (e *Engine) Results(questionID uint) (ResultSet, error) {
	entry, state := e.Selection(questionID)
	if state != Selected {
		return ResultSet{}, nil
	}
	set, err := DecodeResults(entry.ResultMetadata)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Uint("question_id", questionID).
			Uint("submission_id", entry.ID).
			Msg("result metadata could not be decoded")
		return ResultSet{}, err
	}
	return set, nil
}

// VisibleResults returns the selected submission's visible test results.
func (e *Engine) VisibleResults(questionID uint) []TestCaseResult {
	set, _ := e.Results(questionID)
	visible, _ := SplitByVisibility(set.Results)
	return visible
}

// HiddenResults returns the selected submission's hidden test results.
func (e *Engine) HiddenResults(questionID uint) []TestCaseResult {
	set, _ := e.Results(questionID)
	_, hidden := SplitByVisibility(set.Results)
	return hidden
}

// Score returns the selected submission's score. Undecodable metadata scores 0
// unless the status is ACCEPTED.
func (e *Engine) Score(questionID uint) int {
	entry, state := e.Selection(questionID)
	if state != Selected {
		return 0
	}
	set, _ := e.Results(questionID)
	return Score(entry.Status, set)
}

// History returns a copy of the question's history, newest first.
func (e *Engine) History(questionID uint) []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	history := e.histories[questionID]
	out := make([]Entry, 0, len(history))
	for _, entry := range history {
		out = append(out, entry.clone())
	}
	return out
}

// GradedHistory returns only the SUBMISSION entries, newest first.
func (e *Engine) GradedHistory(questionID uint) []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Entry, 0)
	for _, entry := range e.histories[questionID] {
		if entry.Graded() {
			out = append(out, entry.clone())
		}
	}
	return out
}

// LatestRun returns the newest entry of the given type for the question.
func (e *Engine) LatestRun(questionID uint, kind models.SubmissionType) (*Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, entry := range e.histories[questionID] {
		if entry.Type == kind {
			out := entry.clone()
			return &out, true
		}
	}
	return nil, false
}

// VisibleRunOutputs maps test case index to the result of the newest
// RUN_VISIBLE entry. The map is empty until that run settles.
func (e *Engine) VisibleRunOutputs(questionID uint) map[int]TestCaseResult {
	outputs := make(map[int]TestCaseResult)
	entry, ok := e.LatestRun(questionID, models.TypeRunVisible)
	if !ok || !entry.Status.IsTerminal() {
		return outputs
	}
	set, err := DecodeResults(entry.ResultMetadata)
	if err != nil {
		e.logger.Warn().Err(err).Uint("submission_id", entry.ID).Msg("run metadata could not be decoded")
		return outputs
	}
	for _, result := range set.Results {
		outputs[result.Index] = result
	}
	return outputs
}

// CustomOutput returns the output, or error text, of the newest RUN_CUSTOM entry.
func (e *Engine) CustomOutput(questionID uint) (string, bool) {
	entry, ok := e.LatestRun(questionID, models.TypeRunCustom)
	if !ok || !entry.Status.IsTerminal() {
		return "", false
	}
	return CustomRunOutput(entry.ResultMetadata)
}

// Questions lists the question ids with a tracked history.
func (e *Engine) Questions() []uint {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]uint, 0, len(e.histories))
	for id := range e.histories {
		ids = append(ids, id)
	}
	return ids
}

// Reset drops every history, selection, and focus marker.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.histories = make(map[uint][]*Entry)
	e.selected = make(map[uint]uint)
	e.lastFocused = make(map[uint]uint)
}

func (e *Engine) resolveLocked(questionID, requested uint) *Entry {
	var newest *Entry
	for _, entry := range e.histories[questionID] {
		if !entry.Graded() {
			continue
		}
		if newest == nil {
			newest = entry
		}
		if requested != 0 && entry.ID == requested {
			return entry
		}
	}
	return newest
}

// autoFocusLocked fires when the newest entry is a pending SUBMISSION that has
// not been focused yet. Only the last focused id is remembered.
func (e *Engine) autoFocusLocked(questionID uint) (FocusEvent, bool) {
	history := e.histories[questionID]
	if len(history) == 0 {
		return FocusEvent{}, false
	}
	newest := history[0]

	switch newest.Type {
	case models.TypeSubmission:
	case models.TypeRunVisible, models.TypeRunCustom:
		return FocusEvent{}, false
	default:
		return FocusEvent{}, false
	}
	if newest.Status != models.StatusPending || e.lastFocused[questionID] == newest.ID {
		return FocusEvent{}, false
	}

	e.lastFocused[questionID] = newest.ID
	e.selected[questionID] = newest.ID
	return FocusEvent{QuestionID: questionID, SubmissionID: newest.ID}, true
}

func (e *Engine) emitFocus(event FocusEvent) {
	e.logger.Debug().
		Uint("question_id", event.QuestionID).
		Uint("submission_id", event.SubmissionID).
		Msg("auto focus on new submission")
	if e.onFocus != nil {
		e.onFocus(event)
	}
}

func (e *Engine) logMiss(update Update) {
	e.logger.Debug().
		Uint("question_id", update.QuestionID).
		Uint("submission_id", update.ID).
		Str("status", string(update.Status)).
		Msg("dropping update for untracked submission")
}

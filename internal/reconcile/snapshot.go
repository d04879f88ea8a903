package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// SnapshotVersion is the schema version written by Snapshot.
const SnapshotVersion = 1

// ErrUnsupportedVersion indicates a snapshot written with an unknown schema.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted form of an engine's histories.
type Snapshot struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"savedAt"`
	Questions []QuestionSnapshot `json:"questions"`
}

// QuestionSnapshot holds one question's history, newest first.
type QuestionSnapshot struct {
	QuestionID uint    `json:"questionId"`
	SelectedID uint    `json:"selectedId,omitempty"`
	Entries    []Entry `json:"entries"`
}

// Snapshot captures the current histories and selections.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := Snapshot{
		Version:   SnapshotVersion,
		SavedAt:   time.Now().UTC(),
		Questions: make([]QuestionSnapshot, 0, len(e.histories)),
	}
	for questionID, history := range e.histories {
		entries := make([]Entry, 0, len(history))
		for _, entry := range history {
			entries = append(entries, entry.clone())
		}
		snapshot.Questions = append(snapshot.Questions, QuestionSnapshot{
			QuestionID: questionID,
			SelectedID: e.selected[questionID],
			Entries:    entries,
		})
	}
	sort.Slice(snapshot.Questions, func(i, j int) bool {
		return snapshot.Questions[i].QuestionID < snapshot.Questions[j].QuestionID
	})
	return snapshot
}

// Restore replaces the engine state with the snapshot. Restored pending
// submissions do not trigger auto-focus.
func (e *Engine) Restore(snapshot Snapshot) error {
	if snapshot.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, snapshot.Version)
	}

	histories := make(map[uint][]*Entry, len(snapshot.Questions))
	selected := make(map[uint]uint, len(snapshot.Questions))
	lastFocused := make(map[uint]uint, len(snapshot.Questions))

	for _, question := range snapshot.Questions {
		if question.QuestionID == 0 {
			continue
		}
		history := make([]*Entry, 0, len(question.Entries))
		seen := make(map[uint]struct{}, len(question.Entries))
		for _, entry := range question.Entries {
			if entry.ID == 0 {
				continue
			}
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			seen[entry.ID] = struct{}{}
			restored := entry.clone()
			restored.QuestionID = question.QuestionID
			if !restored.Status.Valid() {
				restored.Status = models.StatusPending
			}
			if restored.Status.IsTerminal() {
				restored.TestResults = decodeOrEmpty(restored.ResultMetadata)
			} else {
				restored.TestResults = []TestCaseResult{}
			}
			history = append(history, &restored)
		}
		if len(history) == 0 {
			continue
		}
		histories[question.QuestionID] = history
		if question.SelectedID != 0 {
			selected[question.QuestionID] = question.SelectedID
		}
		lastFocused[question.QuestionID] = history[0].ID
	}

	e.mu.Lock()
	e.histories = histories
	e.selected = selected
	e.lastFocused = lastFocused
	e.mu.Unlock()

	e.logger.Debug().Int("questions", len(histories)).Msg("histories restored")
	return nil
}

package reconcile

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// MergeOutcome describes what a merge did to an entry.
type MergeOutcome int

const (
	// MergeApplied means at least one field changed.
	MergeApplied MergeOutcome = iota
	// MergeDuplicate means the update carried nothing new.
	MergeDuplicate
	// MergeStaleIgnored means the update tried to move a settled entry backwards.
	MergeStaleIgnored
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeApplied:
		return "applied"
	case MergeDuplicate:
		return "duplicate"
	case MergeStaleIgnored:
		return "stale_ignored"
	default:
		return "unknown"
	}
}

// Merge folds an update into an entry field by field:
//
//	status          terminal wins; a non-terminal status never replaces a terminal one
//	resultMetadata  written only onto a terminal entry, frozen once it holds one
//	type            kept unless the entry has none
//	submittedAt     kept unless the entry has none
//	extra           key-wise overwrite
//
// Unknown status values are ignored. The entry's position in its history is
// never affected.
func Merge(entry *Entry, update Update) MergeOutcome {
	changed := false
	stale := false
	settled := entry.Status.IsTerminal()

	switch {
	case update.Status == "" || !update.Status.Valid():
	case settled && update.Status != entry.Status:
		stale = true
	case entry.Status != update.Status:
		entry.Status = update.Status
		changed = true
	}

	if update.ResultMetadata != nil && !stale && entry.Status.IsTerminal() && (!settled || entry.ResultMetadata == "") {
		if entry.ResultMetadata != *update.ResultMetadata {
			entry.ResultMetadata = *update.ResultMetadata
			changed = true
		}
	}

	if entry.Type == "" && update.Type != "" {
		entry.Type = update.Type
		changed = true
	}

	if entry.SubmittedAt.IsZero() && update.SubmittedAt != nil && !update.SubmittedAt.IsZero() {
		entry.SubmittedAt = update.SubmittedAt.UTC()
		changed = true
	}

	if mergeExtra(entry, update.Extra) {
		changed = true
	}

	if changed && entry.Status.IsTerminal() {
		entry.TestResults = decodeOrEmpty(entry.ResultMetadata)
	}

	switch {
	case changed:
		return MergeApplied
	case stale:
		return MergeStaleIgnored
	default:
		return MergeDuplicate
	}
}

func mergeExtra(entry *Entry, extra map[string]json.RawMessage) bool {
	changed := false
	for key, value := range extra {
		if current, ok := entry.Extra[key]; ok && string(current) == string(value) {
			continue
		}
		if entry.Extra == nil {
			entry.Extra = make(map[string]json.RawMessage, len(extra))
		}
		entry.Extra[key] = append(json.RawMessage(nil), value...)
		changed = true
	}
	return changed
}

func decodeOrEmpty(metadata string) []TestCaseResult {
	set, err := DecodeResults(metadata)
	if err != nil {
		return []TestCaseResult{}
	}
	return set.Results
}

// NewEntry builds a history entry from a freshly created submission.
func NewEntry(questionID uint, sub models.Submission) Entry {
	submittedAt := sub.CreatedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	return Entry{
		ID:          sub.ID,
		QuestionID:  questionID,
		Type:        sub.Type,
		Language:    sub.Language,
		Code:        sub.Code,
		CustomInput: sub.CustomInput,
		Status:      models.StatusPending,
		SubmittedAt: submittedAt.UTC(),
		TestResults: []TestCaseResult{},
	}
}

package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// Entry is one submission inside a question's history as seen by the client.
type Entry struct {
	ID             uint                       `json:"id"`
	QuestionID     uint                       `json:"questionId"`
	Type           models.SubmissionType      `json:"type"`
	Language       string                     `json:"language,omitempty"`
	Code           string                     `json:"code,omitempty"`
	CustomInput    string                     `json:"customInput,omitempty"`
	Status         models.SubmissionStatus    `json:"status"`
	ResultMetadata string                     `json:"resultMetadata,omitempty"`
	SubmittedAt    time.Time                  `json:"submittedAt"`
	TestResults    []TestCaseResult           `json:"testResults"`
	Extra          map[string]json.RawMessage `json:"extra,omitempty"`
}

// Graded reports whether the entry belongs to the graded "all submissions" list.
func (e Entry) Graded() bool {
	return e.Type.IsGraded()
}

func (e Entry) clone() Entry {
	out := e
	if e.TestResults != nil {
		out.TestResults = append([]TestCaseResult{}, e.TestResults...)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for key, value := range e.Extra {
			out.Extra[key] = append(json.RawMessage(nil), value...)
		}
	}
	return out
}

// Update is a push message describing a submission's new state.
// Fields the server adds beyond the known ones are kept in Extra.
type Update struct {
	ID             uint
	QuestionID     uint
	Status         models.SubmissionStatus
	ResultMetadata *string
	Type           models.SubmissionType
	SubmittedAt    *time.Time
	Extra          map[string]json.RawMessage
}

var knownUpdateFields = map[string]struct{}{
	"id":             {},
	"questionId":     {},
	"status":         {},
	"resultMetadata": {},
	"type":           {},
	"submittedAt":    {},
}

// UnmarshalJSON decodes the push message, tolerating numeric or string ids.
// Unrecognised status or type values decode as empty and are ignored by Merge.
func (u *Update) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var decoded Update
	var err error
	if raw, ok := fields["id"]; ok {
		if decoded.ID, err = decodeID(raw); err != nil {
			return fmt.Errorf("id: %w", err)
		}
	}
	if raw, ok := fields["questionId"]; ok {
		if decoded.QuestionID, err = decodeID(raw); err != nil {
			return fmt.Errorf("questionId: %w", err)
		}
	}
	if raw, ok := fields["status"]; ok && !isNull(raw) {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if parsed, ok := models.ParseSubmissionStatus(status); ok {
			decoded.Status = parsed
		}
	}
	if raw, ok := fields["resultMetadata"]; ok && !isNull(raw) {
		metadata, err := decodeMetadataField(raw)
		if err != nil {
			return fmt.Errorf("resultMetadata: %w", err)
		}
		decoded.ResultMetadata = &metadata
	}
	if raw, ok := fields["type"]; ok && !isNull(raw) {
		var kind string
		if err := json.Unmarshal(raw, &kind); err != nil {
			return fmt.Errorf("type: %w", err)
		}
		if parsed := models.SubmissionType(strings.ToUpper(strings.TrimSpace(kind))); parsed.Known() {
			decoded.Type = parsed
		}
	}
	if raw, ok := fields["submittedAt"]; ok && !isNull(raw) {
		var submitted time.Time
		if err := json.Unmarshal(raw, &submitted); err == nil {
			decoded.SubmittedAt = &submitted
		}
	}

	for key, value := range fields {
		if _, known := knownUpdateFields[key]; known {
			continue
		}
		if decoded.Extra == nil {
			decoded.Extra = make(map[string]json.RawMessage)
		}
		decoded.Extra[key] = value
	}

	*u = decoded
	return nil
}

// MarshalJSON encodes the update in the same shape the server publishes.
func (u Update) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(u.Extra)+6)
	for key, value := range u.Extra {
		out[key] = value
	}
	out["id"] = u.ID
	out["questionId"] = u.QuestionID
	out["status"] = u.Status
	if u.ResultMetadata != nil {
		out["resultMetadata"] = *u.ResultMetadata
	}
	if u.Type != "" {
		out["type"] = u.Type
	}
	if u.SubmittedAt != nil {
		out["submittedAt"] = u.SubmittedAt.UTC()
	}
	return json.Marshal(out)
}

func decodeID(raw json.RawMessage) (uint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, err
		}
		trimmed = []byte(strings.TrimSpace(text))
	}
	value, err := strconv.ParseUint(string(trimmed), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

// decodeMetadataField accepts the serialized string form and, for robustness,
// an inline JSON document which is kept verbatim.
func decodeMetadataField(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", err
		}
		return text, nil
	}
	return string(trimmed), nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

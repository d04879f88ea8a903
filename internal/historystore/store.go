// Package historystore persists a lab session's submission histories outside
// the reconciliation engine.
package historystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

// SchemaName identifies the persisted document layout.
const SchemaName = "lab_submission_history_v1"

var (
	// ErrNotFound indicates no history has been saved for the owner.
	ErrNotFound = errors.New("submission history not found")
	// ErrSchemaMismatch indicates a stored document written with a different schema.
	ErrSchemaMismatch = errors.New("submission history schema mismatch")
)

// Store loads and saves engine snapshots per owner.
type Store interface {
	Load(ctx context.Context, owner string) (reconcile.Snapshot, error)
	Save(ctx context.Context, owner string, snapshot reconcile.Snapshot) error
	Clear(ctx context.Context, owner string) error
}

// document is the stored envelope around a snapshot.
type document struct {
	Schema   string             `json:"schema"`
	Owner    string             `json:"owner"`
	StoredAt time.Time          `json:"storedAt"`
	Snapshot reconcile.Snapshot `json:"snapshot"`
}

func encode(owner string, snapshot reconcile.Snapshot) ([]byte, error) {
	if owner == "" {
		return nil, fmt.Errorf("history owner must not be empty")
	}
	if snapshot.Version == 0 {
		snapshot.Version = reconcile.SnapshotVersion
	}
	return json.Marshal(document{
		Schema:   SchemaName,
		Owner:    owner,
		StoredAt: time.Now().UTC(),
		Snapshot: snapshot,
	})
}

func decode(payload []byte) (reconcile.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("decode submission history: %w", err)
	}
	if doc.Schema != SchemaName || doc.Snapshot.Version != reconcile.SnapshotVersion {
		return reconcile.Snapshot{}, fmt.Errorf("%w: %s v%d", ErrSchemaMismatch, doc.Schema, doc.Snapshot.Version)
	}
	return doc.Snapshot, nil
}

// LoadInto restores the owner's saved history into the engine. A missing or
// incompatible document leaves the engine untouched and is not an error.
func LoadInto(ctx context.Context, store Store, owner string, engine *reconcile.Engine) (bool, error) {
	snapshot, err := store.Load(ctx, owner)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSchemaMismatch):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := engine.Restore(snapshot); err != nil {
		return false, err
	}
	return true, nil
}

// SaveFrom persists the engine's current histories for the owner.
func SaveFrom(ctx context.Context, store Store, owner string, engine *reconcile.Engine) error {
	return store.Save(ctx, owner, engine.Snapshot())
}

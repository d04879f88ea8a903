package historystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

var unsafeOwnerChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// FileStore keeps one JSON file per owner inside a directory.
type FileStore struct {
	dir string
}

// NewFileStore constructs a store rooted at dir, creating it when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(owner string) string {
	name := unsafeOwnerChars.ReplaceAllString(owner, "_")
	return filepath.Join(s.dir, SchemaName+"-"+name+".json")
}

// Load reads the owner's snapshot.
func (s *FileStore) Load(_ context.Context, owner string) (reconcile.Snapshot, error) {
	payload, err := os.ReadFile(s.path(owner))
	if errors.Is(err, fs.ErrNotExist) {
		return reconcile.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("load submission history: %w", err)
	}
	return decode(payload)
}

// Save atomically replaces the owner's file.
func (s *FileStore) Save(_ context.Context, owner string, snapshot reconcile.Snapshot) error {
	payload, err := encode(owner, snapshot)
	if err != nil {
		return err
	}
	target := s.path(owner)
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("save submission history: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("save submission history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save submission history: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("save submission history: %w", err)
	}
	return nil
}

// Clear removes the owner's file.
func (s *FileStore) Clear(_ context.Context, owner string) error {
	if err := os.Remove(s.path(owner)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear submission history: %w", err)
	}
	return nil
}

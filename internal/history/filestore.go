package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultMaxSessions is the retention cap applied when none is configured.
const DefaultMaxSessions = 20

var _ Store = (*FileStore)(nil)

// FileStore persists sessions as a single JSON document on disk. The file is
// read once at construction and rewritten atomically on every mutation, so
// external edits between mutations are lost.
type FileStore struct {
	path string
	max  int

	mu       sync.Mutex
	sessions []Session // newest first
}

// NewFileStore opens or creates the store at path. maxSessions <= 0 selects
// [DefaultMaxSessions].
func NewFileStore(path string, maxSessions int) (*FileStore, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	fs := &FileStore{path: path, max: maxSessions}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &fs.sessions); err != nil {
			return nil, fmt.Errorf("history: parse %s: %w", path, err)
		}
		fs.sortAndTrim()
	}
	return fs, nil
}

// Save implements Store. An existing session with the same ID is replaced;
// when the cap is exceeded the oldest sessions are evicted.
func (fs *FileStore) Save(_ context.Context, s Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	kept := fs.sessions[:0]
	for _, existing := range fs.sessions {
		if existing.ID != s.ID {
			kept = append(kept, existing)
		}
	}
	fs.sessions = append([]Session{s}, kept...)
	fs.sortAndTrim()
	return fs.flush()
}

// List implements Store.
func (fs *FileStore) List(_ context.Context) ([]Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]Session, len(fs.sessions))
	copy(out, fs.sessions)
	return out, nil
}

// Delete implements Store.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	kept := fs.sessions[:0]
	for _, s := range fs.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(fs.sessions) {
		fs.sessions = kept
		return nil
	}
	fs.sessions = kept
	return fs.flush()
}

// Clear implements Store.
func (fs *FileStore) Clear(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.sessions = nil
	return fs.flush()
}

// sortAndTrim orders sessions newest first and enforces the retention cap.
// Callers must hold fs.mu.
func (fs *FileStore) sortAndTrim() {
	sort.SliceStable(fs.sessions, func(i, j int) bool {
		return fs.sessions[i].StartedAt.After(fs.sessions[j].StartedAt)
	})
	if len(fs.sessions) > fs.max {
		fs.sessions = fs.sessions[:fs.max]
	}
}

// flush rewrites the backing file via a temp file and rename. Callers must
// hold fs.mu.
func (fs *FileStore) flush() error {
	data, err := json.MarshalIndent(fs.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: mkdir %s: %w", dir, err)
		}
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("history: rename %s: %w", tmp, err)
	}
	return nil
}

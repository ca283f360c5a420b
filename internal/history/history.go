// Package history persists completed practice sessions so they can be
// reviewed, re-summarised or re-evaluated later.
package history

import (
	"context"
	"strings"
	"time"
)

// Entry is one committed line of conversation transcript.
type Entry struct {
	// Speaker is "user" or "model".
	Speaker string `json:"speaker"`

	Text string `json:"text"`

	Timestamp time.Time `json:"timestamp"`
}

// Session is one recorded practice session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`

	// Language, Mode and Situation echo the practice settings the session
	// ran with.
	Language  string `json:"language"`
	Mode      string `json:"mode"`
	Situation string `json:"situation,omitempty"`

	// Preview is the first user line, used as a list label.
	Preview string `json:"preview"`

	Entries []Entry `json:"entries"`
}

// PreviewFromEntries derives a session's list label from its transcript: the
// first non-empty user line, truncated to 80 runes.
func PreviewFromEntries(entries []Entry) string {
	for _, e := range entries {
		if e.Speaker != "user" {
			continue
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > 80 {
			return string(runes[:80]) + "…"
		}
		return text
	}
	return ""
}

// Store persists session records. Implementations cap the number of retained
// sessions and evict the oldest first.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces a session record.
	Save(ctx context.Context, s Session) error

	// List returns all sessions, newest first.
	List(ctx context.Context) ([]Session, error)

	// Delete removes the session with the given id. Deleting an unknown id
	// is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every session.
	Clear(ctx context.Context) error
}

package session

import (
	"strings"
	"sync"
	"time"

	"github.com/polyglotlabs/polyglot/internal/history"
)

// Accumulator gathers the incremental transcription fragments of the current
// turn. Fragments arrive interleaved from the live session; the accumulator
// concatenates them per speaker and converts them into committed transcript
// entries at turn boundaries.
//
// An interruption does not clear the output buffer: whatever the model said
// before being cut off is committed at the next turn boundary.
type Accumulator struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

// AppendInput adds a fragment of the user's speech transcription.
func (a *Accumulator) AppendInput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(text)
}

// AppendOutput adds a fragment of the model's speech transcription.
func (a *Accumulator) AppendOutput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(text)
}

// CommitTurn converts the buffered fragments into transcript entries and
// resets both buffers. Whitespace-only buffers produce no entry. When both
// sides are present the model entry is timestamped one millisecond after the
// user entry so the pair sorts stably.
func (a *Accumulator) CommitTurn(now time.Time) []history.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	user := strings.TrimSpace(a.input.String())
	model := strings.TrimSpace(a.output.String())
	a.input.Reset()
	a.output.Reset()

	var entries []history.Entry
	if user != "" {
		entries = append(entries, history.Entry{Speaker: "user", Text: user, Timestamp: now})
	}
	if model != "" {
		entries = append(entries, history.Entry{Speaker: "model", Text: model, Timestamp: now.Add(time.Millisecond)})
	}
	return entries
}

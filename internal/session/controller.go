// Package session owns the live conversation lifecycle: connecting the
// provider, moving microphone audio up, scheduling model audio for playback,
// assembling transcriptions into committed turns, and tearing everything down
// on stop, close or error.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polyglotlabs/polyglot/internal/coach"
	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/internal/observe"
	"github.com/polyglotlabs/polyglot/pkg/audio"
	"github.com/polyglotlabs/polyglot/pkg/provider/live"
)

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of the controller's state for the client.
type Status struct {
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	Err        string `json:"error,omitempty"`
}

// Notifier receives the controller's outward-facing events. The gateway
// implements it to push updates over the client WebSocket.
//
// Methods are called from the controller's event loop and from short-lived
// coach goroutines; implementations must be safe for concurrent use and must
// not block for long.
type Notifier interface {
	StatusChanged(Status)
	TranscriptCommitted([]history.Entry)
	SuggestionsReady([]string)
	MissionsUpdated([]coach.Mission)
}

// Options are the per-session practice parameters supplied at start.
type Options struct {
	Voice    string
	Settings coach.Settings
}

// Config carries the controller's collaborators.
type Config struct {
	Provider live.Provider
	Queue    *audio.Queue
	Store    history.Store
	Notifier Notifier

	// NewCoach builds the study-aid generator for a session's settings.
	// Nil disables coaching entirely.
	NewCoach func(coach.Settings) *coach.Coach

	// Metrics may be nil.
	Metrics *observe.Metrics

	Log *slog.Logger
}

// Controller runs the session state machine. One Controller serves one
// client connection; Start may be called again after Stop or a failure.
type Controller struct {
	cfg Config
	log *slog.Logger

	// connected gates the capture graph. Shared with capture by pointer.
	connected atomic.Bool

	mu      sync.Mutex
	state   State
	errMsg  string
	handle  live.SessionHandle
	capture *capture
	coach   *coach.Coach
	tracker *coach.MissionTracker
	record  history.Session
	acc     *Accumulator

	// gen identifies the current session epoch. Teardown bumps it, so a
	// loop still draining a dead session's buffered events can tell it no
	// longer speaks for the controller.
	gen    uint64
	loopWG sync.WaitGroup
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, log: log}
}

// Status returns a snapshot of the lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		Connected:  c.state == StateConnected,
		Connecting: c.state == StateConnecting,
		Err:        c.errMsg,
	}
}

// Start connects a live session with the given options. It is a no-op when a
// session is already connecting or connected. A previous error state never
// blocks a new start; the prior error is cleared.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.errMsg = ""
	c.state = StateConnecting
	c.notifyLocked()
	c.mu.Unlock()

	// The previous session's event loop, if still draining, must be gone
	// before the accumulator and record are replaced underneath it.
	c.loopWG.Wait()

	c.mu.Lock()
	if c.gen != gen {
		// Stopped while we waited.
		c.mu.Unlock()
		return nil
	}
	c.record = history.Session{
		ID:        fmt.Sprintf("sess-%d", time.Now().UnixNano()),
		StartedAt: time.Now(),
		Language:  opts.Settings.Language,
		Mode:      opts.Settings.Mode,
		Situation: opts.Settings.Situation,
	}
	c.acc = &Accumulator{}
	if c.cfg.NewCoach != nil {
		c.coach = c.cfg.NewCoach(opts.Settings)
	}
	c.tracker = coach.NewMissionTracker(opts.Settings)
	c.mu.Unlock()

	handle, err := c.cfg.Provider.Connect(ctx, live.SessionConfig{
		Voice:            live.Voice{ID: opts.Voice},
		Instructions:     buildInstructions(opts.Settings),
		TranscribeInput:  true,
		TranscribeOutput: true,
	})
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateError
			c.errMsg = classifyError(err)
			c.notifyLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("session: connect: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stopped while connecting; the session is unwanted.
		c.mu.Unlock()
		_ = handle.Close()
		return nil
	}
	c.handle = handle
	c.capture = newCapture(handle, &c.connected, c.log, c.cfg.Metrics)
	c.loopWG.Add(1)
	c.mu.Unlock()

	go c.eventLoop(handle, gen)
	return nil
}

// Submit forwards one microphone frame. Frames arriving while not connected
// are discarded.
func (c *Controller) Submit(samples []float32) {
	c.mu.Lock()
	capt := c.capture
	c.mu.Unlock()
	if capt != nil {
		capt.Submit(samples)
	}
}

// SendImage forwards a still frame to the live session as visual context.
func (c *Controller) SendImage(mimeType string, data []byte) error {
	c.mu.Lock()
	handle := c.handle
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || handle == nil {
		return fmt.Errorf("session: not connected")
	}
	return handle.SendImage(mimeType, data)
}

// Missions returns the current practice objectives, or nil outside a session.
func (c *Controller) Missions() []coach.Mission {
	c.mu.Lock()
	tracker := c.tracker
	c.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Missions()
}

// Entries returns a copy of the transcript committed so far this session.
func (c *Controller) Entries() []history.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]history.Entry, len(c.record.Entries))
	copy(out, c.record.Entries)
	return out
}

// Evaluate scores the transcript committed so far. It keeps working after the
// session ends so the client can review a finished conversation.
func (c *Controller) Evaluate(ctx context.Context) (*coach.Evaluation, error) {
	co, entries := c.coachSnapshot()
	if co == nil {
		return nil, fmt.Errorf("session: no session to evaluate")
	}
	return co.Evaluate(ctx, entries)
}

// Summarize produces a study summary of the transcript committed so far.
func (c *Controller) Summarize(ctx context.Context) (string, error) {
	co, entries := c.coachSnapshot()
	if co == nil {
		return "", fmt.Errorf("session: no session to summarize")
	}
	return co.Summarize(ctx, entries)
}

func (c *Controller) coachSnapshot() (*coach.Coach, []history.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]history.Entry, len(c.record.Entries))
	copy(entries, c.record.Entries)
	return c.coach, entries
}

// Stop tears the session down to idle. Safe to call at any time, including
// when nothing is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.teardown(gen, StateIdle, "")
}

// teardown moves the controller to the given terminal state, releasing every
// session resource on the way. A stale gen means the session it belonged to
// was already torn down; nothing happens. The error message is kept only for
// StateError.
func (c *Controller) teardown(gen uint64, to State, errMsg string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.state == StateIdle && c.handle == nil {
		// Nothing running; still record an error if one was reported.
		if to == StateError {
			c.state = StateError
			c.errMsg = errMsg
			c.notifyLocked()
		}
		c.mu.Unlock()
		return
	}

	c.gen++
	handle := c.handle
	capt := c.capture
	record := c.record
	c.handle = nil
	c.capture = nil
	c.connected.Store(false)
	c.state = to
	c.errMsg = errMsg
	// The flush happens under the same lock that guards scheduling, so no
	// chunk of the dead session lands on the queue after it.
	if c.cfg.Queue != nil {
		c.cfg.Queue.StopAll()
	}
	c.notifyLocked()
	c.mu.Unlock()

	if handle != nil {
		_ = handle.Close() // double-close is tolerated by the provider
	}
	if capt != nil {
		capt.Close()
		if n := capt.Dropped(); n > 0 {
			c.log.Info("session capture dropped frames", "dropped", n)
		}
	}

	c.persist(record)
}

// persist saves the session record when it has any transcript.
func (c *Controller) persist(record history.Session) {
	if c.cfg.Store == nil || len(record.Entries) == 0 {
		return
	}
	record.Preview = history.PreviewFromEntries(record.Entries)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cfg.Store.Save(ctx, record); err != nil {
		c.log.Error("persist session record", "error", err, "session", record.ID)
	}
}

// eventLoop consumes the live session's ordered event stream. It exits when
// the stream closes, which the provider guarantees after any terminal event.
// Events still buffered when the session is torn down belong to a dead
// conversation and are discarded.
func (c *Controller) eventLoop(handle live.SessionHandle, gen uint64) {
	defer c.loopWG.Done()

	for ev := range handle.Events() {
		if c.stale(gen) {
			continue
		}
		switch ev.Kind {
		case live.EventOpened:
			c.onOpened()

		case live.EventInputText:
			c.acc.AppendInput(ev.Text)

		case live.EventOutputText:
			c.acc.AppendOutput(ev.Text)

		case live.EventTurnComplete:
			c.onTurnComplete(gen)

		case live.EventInterrupted:
			c.onInterrupted(gen)

		case live.EventAudio:
			c.onAudio(gen, ev.PCM)

		case live.EventError:
			c.log.Error("live session error", "error", ev.Err)
			c.teardown(gen, StateError, classifyError(ev.Err))
			return

		case live.EventClosed:
			c.teardown(gen, StateIdle, "")
			return
		}
	}

	// Stream ended without a terminal event: treat as a remote close.
	c.teardown(gen, StateIdle, "")
}

// stale reports whether the session epoch gen has been torn down.
func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

// onOpened marks the session connected and kicks off the opening suggestion
// request with empty history.
func (c *Controller) onOpened() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.connected.Store(true)
	co := c.coach
	tracker := c.tracker
	c.notifyLocked()
	c.mu.Unlock()

	if tracker != nil && c.cfg.Notifier != nil {
		c.cfg.Notifier.MissionsUpdated(tracker.Missions())
	}
	c.spawnSuggestions(co, nil)
}

// onTurnComplete commits the accumulated fragments, persists the record and
// fans out the follow-up coach work.
func (c *Controller) onTurnComplete(gen uint64) {
	entries := c.acc.CommitTurn(time.Now())
	if len(entries) == 0 {
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.record.Entries = append(c.record.Entries, entries...)
	record := c.record
	co := c.coach
	tracker := c.tracker
	c.mu.Unlock()

	if c.cfg.Notifier != nil {
		c.cfg.Notifier.TranscriptCommitted(entries)
	}

	if tracker != nil {
		changed := false
		for _, e := range entries {
			if e.Speaker == "user" && tracker.Observe(e.Text) {
				changed = true
			}
		}
		if changed && c.cfg.Notifier != nil {
			c.cfg.Notifier.MissionsUpdated(tracker.Missions())
		}
	}

	c.persist(record)
	c.spawnSuggestions(co, record.Entries)
}

// onInterrupted flushes pending playback on a barge-in.
func (c *Controller) onInterrupted(gen uint64) {
	if c.cfg.Queue == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.cfg.Queue.StopAll()
}

// spawnSuggestions requests next-reply suggestions off the live path.
// All failures are logged and swallowed.
func (c *Controller) spawnSuggestions(co *coach.Coach, entries []history.Entry) {
	if co == nil || c.cfg.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		suggestions, err := co.Suggestions(ctx, entries)
		if err != nil {
			c.log.Debug("suggestion generation failed", "error", err)
			return
		}
		c.cfg.Notifier.SuggestionsReady(suggestions)
	}()
}

// onAudio decodes one model audio chunk and schedules it for playback. A
// malformed chunk is dropped; the session continues.
func (c *Controller) onAudio(gen uint64, pcm []byte) {
	if c.cfg.Queue == nil {
		return
	}
	buf, err := audio.NewBuffer(pcm, audio.OutputSampleRate, 1)
	if err != nil {
		c.log.Warn("drop malformed audio chunk", "error", err, "bytes", len(pcm))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.cfg.Queue.Schedule(buf)
}

// notifyLocked pushes the current status. Callers must hold c.mu; the
// notifier must not call back into the controller synchronously.
func (c *Controller) notifyLocked() {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.StatusChanged(c.statusLocked())
	}
}

// buildInstructions frames the live model as a conversation partner for the
// session's practice settings.
func buildInstructions(s coach.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"You are a friendly %s conversation partner helping the user practice speaking. "+
			"Speak only %s, keep replies short and conversational, and gently rephrase "+
			"what the user says when it contains mistakes.",
		s.Language, s.Language)
	if s.Mode == "business" {
		b.WriteString(" This is a professional business conversation")
		if s.Situation != "" {
			fmt.Fprintf(&b, " simulating: %s", s.Situation)
		}
		b.WriteString(". Stay in character for the scenario.")
	}
	return b.String()
}

// classifyError maps a session-fatal error to a user-facing message by
// best-effort substring matching.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Requested entity was not found"), strings.Contains(msg, "404"):
		return "The selected model is not available for this API key. Check the model name and key permissions."
	case strings.Contains(msg, "Network error"):
		return "Network connection lost. Check your connection and start a new session."
	default:
		return "The session ended unexpectedly: " + msg
	}
}

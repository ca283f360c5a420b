// Package live defines the interface for real-time speech-to-speech
// conversation providers.
//
// A live provider maintains a bidirectional streaming session: microphone
// audio flows up as raw PCM chunks, and synthesised speech, transcriptions
// and turn boundaries flow back as a single ordered event stream.
package live

import "context"

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventOpened signals that the session setup handshake completed and
	// the provider is ready to accept audio.
	EventOpened EventKind = iota
	// EventAudio carries a chunk of synthesised speech (24 kHz s16le mono).
	EventAudio
	// EventInputText carries an incremental transcription fragment of the
	// user's speech.
	EventInputText
	// EventOutputText carries an incremental transcription fragment of the
	// model's spoken reply.
	EventOutputText
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
	// EventInterrupted signals that the user spoke over the model and all
	// scheduled playback should be discarded.
	EventInterrupted
	// EventError carries a fatal session error. The stream ends after it.
	EventError
	// EventClosed marks the clean end of the event stream.
	EventClosed
)

// Event is one item on a session's ordered event stream.
type Event struct {
	Kind EventKind
	// PCM holds decoded audio bytes for EventAudio.
	PCM []byte
	// Text holds the transcription fragment for EventInputText and
	// EventOutputText.
	Text string
	// Err holds the failure for EventError.
	Err error
}

// Voice identifies a synthesised voice offered by a provider.
type Voice struct {
	ID   string
	Name string
}

// SessionConfig carries everything needed to open a live session.
type SessionConfig struct {
	// Voice selects the prebuilt voice for synthesised replies.
	Voice Voice
	// Instructions is the system prompt framing the conversation.
	Instructions string
	// TranscribeInput requests incremental transcription of user speech.
	TranscribeInput bool
	// TranscribeOutput requests incremental transcription of model speech.
	TranscribeOutput bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	ContextWindow        int
	MaxSessionDurationMs int
	SupportsVision       bool
	Voices               []Voice
}

// Provider opens live conversation sessions.
type Provider interface {
	// Connect establishes a session. The handle's event stream begins with
	// EventOpened once the provider acknowledges setup.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
	// Capabilities returns static provider metadata.
	Capabilities() Capabilities
}

// SessionHandle is an open live session.
//
// Events returns a channel that yields the session's events in protocol
// order. The channel is closed after an EventError or EventClosed; callers
// must drain it until closure.
type SessionHandle interface {
	// SendRealtimeAudio delivers a chunk of user microphone audio
	// (16 kHz s16le mono PCM).
	SendRealtimeAudio(chunk []byte) error
	// SendImage delivers a still frame for visual context. mimeType is an
	// image MIME type such as "image/jpeg"; data is the raw image bytes.
	SendImage(mimeType string, data []byte) error
	// Events returns the session's ordered event stream.
	Events() <-chan Event
	// Close terminates the session. Idempotent.
	Close() error
}

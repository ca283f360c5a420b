// Package mock provides a scriptable in-memory implementation of the live
// provider interfaces for tests.
package mock

import (
	"context"
	"sync"

	"github.com/polyglotlabs/polyglot/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider implements live.Provider. Each Connect call hands out a fresh
// Session whose event stream the test drives via [Session.Emit].
type Provider struct {
	// ConnectErr, when set, is returned from Connect instead of a session.
	ConnectErr error

	mu       sync.Mutex
	sessions []*Session
	lastCfg  live.SessionConfig
}

// New creates an empty mock Provider.
func New() *Provider {
	return &Provider{}
}

// Connect records cfg and returns a new scriptable session.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := &Session{events: make(chan live.Event, 256)}
	p.sessions = append(p.sessions, s)
	p.lastCfg = cfg
	return s, nil
}

// Capabilities returns fixed metadata.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		ContextWindow:  32_000,
		SupportsVision: true,
		Voices:         []live.Voice{{ID: "test", Name: "Test"}},
	}
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// ConnectCount returns how many sessions have been opened.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// LastConfig returns the SessionConfig passed to the most recent Connect.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCfg
}

// Session implements live.SessionHandle with recorded inputs and a
// test-driven event stream.
type Session struct {
	// SendErr, when set, is returned from SendRealtimeAudio and SendImage.
	SendErr error

	events chan live.Event

	mu        sync.Mutex
	audio     [][]byte
	images    []Image
	closed    bool
	closeOnce sync.Once
}

// Image is one frame recorded by SendImage.
type Image struct {
	MIMEType string
	Data     []byte
}

// Emit places an event on the session's stream.
func (s *Session) Emit(ev live.Event) {
	s.events <- ev
}

// End closes the event stream, as the real provider does at session end.
func (s *Session) End() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *Session) SendRealtimeAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *Session) SendImage(mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.images = append(s.images, Image{MIMEType: mimeType, Data: cp})
	return nil
}

func (s *Session) Events() <-chan live.Event { return s.events }

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.End()
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentAudio returns copies of every chunk passed to SendRealtimeAudio.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// SentImages returns every frame passed to SendImage.
func (s *Session) SentImages() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Image, len(s.images))
	copy(out, s.images)
	return out
}

package gateway

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polyglotlabs/polyglot/internal/coach"
	"github.com/polyglotlabs/polyglot/internal/health"
	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/internal/observe"
	"github.com/polyglotlabs/polyglot/internal/session"
	"github.com/polyglotlabs/polyglot/pkg/audio"
	"github.com/polyglotlabs/polyglot/pkg/provider/live"
	"github.com/polyglotlabs/polyglot/pkg/provider/llm"
)

// coachCallTimeout bounds on-demand evaluation and summary requests.
const coachCallTimeout = 30 * time.Second

// Defaults are the practice parameters applied when a start message leaves
// fields empty.
type Defaults struct {
	Voice     string
	Language  string
	Mode      string
	Situation string
}

// Config carries the server's collaborators.
type Config struct {
	// Live connects realtime audio sessions. Required.
	Live live.Provider

	// Coach generates suggestions, evaluations and summaries. Nil disables
	// all coaching features.
	Coach llm.Provider

	// Store persists finished sessions. Nil disables history.
	Store history.Store

	Defaults Defaults

	// Suggestions tunes suggestion generation for new sessions.
	Suggestions SuggestionsPolicy

	Metrics *observe.Metrics
	Log     *slog.Logger
}

// SuggestionsPolicy controls whether and how many reply suggestions a
// session's coach produces.
type SuggestionsPolicy struct {
	Disabled bool

	// Count is the number of options per call; zero means the coach default.
	Count int
}

// Server accepts client WebSockets on /session and runs one practice session
// controller per connection.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	defaults Defaults
}

// New creates a gateway server.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{cfg: cfg, log: log, metrics: metrics, defaults: cfg.Defaults}
}

// SetDefaults swaps the practice defaults applied to new sessions. Running
// sessions are unaffected. Used for config hot-reload.
func (s *Server) SetDefaults(d Defaults) {
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

// Defaults returns the practice defaults currently applied to new sessions.
func (s *Server) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Handler returns the full HTTP surface: the session WebSocket, liveness and
// readiness probes, and the Prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", s.handleSession)
	mux.Handle("GET /metrics", promhttp.Handler())

	var checkers []health.Checker
	if s.cfg.Store != nil {
		checkers = append(checkers, health.Checker{
			Name: "history",
			Check: func(ctx context.Context) error {
				_, err := s.cfg.Store.List(ctx)
				return err
			},
		})
	}
	health.New(checkers...).Register(mux)

	return mux
}

// handleSession upgrades the request and serves the connection until the
// client goes away.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect cross-origin during local development.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	s.serve(r.Context(), ws)
}

// serve owns one client connection end to end: it wires the playback queue
// and controller to the socket, then runs the read loop until the client
// disconnects.
func (s *Server) serve(ctx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newConn(ws, s.log, s.metrics)
	queue := audio.NewQueue(audio.NewMonotonicClock(), c)
	ctrl := session.NewController(session.Config{
		Provider: s.cfg.Live,
		Queue:    queue,
		Store:    s.cfg.Store,
		Notifier: c,
		NewCoach: s.newCoach,
		Metrics:  s.metrics,
		Log:      s.log,
	})

	s.metrics.ActiveSessions.Add(ctx, 1)
	start := time.Now()
	defer func() {
		ctrl.Stop()
		c.close()
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.SessionDuration.Record(context.Background(), time.Since(start).Seconds())
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	go c.writeLoop(ctx)

	// Greet the client with its current (idle) status.
	c.StatusChanged(ctrl.Status())

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			s.log.Debug("client read ended", "error", err)
			return
		}
		switch typ {
		case websocket.MessageBinary:
			samples := samplesFromBinary(data)
			samples = audio.ResampleFloat32(samples, int(c.sampleRate.Load()), audio.InputSampleRate)
			ctrl.Submit(samples)
			s.metrics.AudioFramesSent.Add(ctx, 1)
		case websocket.MessageText:
			s.dispatch(ctx, c, ctrl, data)
		}
	}
}

// newCoach builds a session coach, or nil when no coach provider is
// configured.
func (s *Server) newCoach(settings coach.Settings) *coach.Coach {
	if s.cfg.Coach == nil {
		return nil
	}
	return coach.New(s.cfg.Coach, settings, s.log)
}

// dispatch handles one JSON control message from the client. Unknown or
// malformed messages produce an error message, never a disconnect.
func (s *Server) dispatch(ctx context.Context, c *conn, ctrl *session.Controller, data []byte) {
	msg, err := decodeClientMessage(data)
	if err != nil {
		c.send(serverMessage{Type: msgError, Message: "invalid message: " + err.Error()})
		return
	}

	switch msg.Type {
	case msgStart:
		s.handleStart(ctx, c, ctrl, msg)

	case msgStop:
		ctrl.Stop()

	case msgImage:
		s.handleImage(c, ctrl, msg)

	case msgHistoryList:
		s.handleHistoryList(ctx, c)

	case msgHistoryDelete:
		s.handleHistoryDelete(ctx, c, msg.ID)

	case msgHistoryClear:
		s.handleHistoryClear(ctx, c)

	case msgEvaluate:
		go s.handleEvaluate(c, ctrl)

	case msgSummarize:
		go s.handleSummarize(c, ctrl)

	default:
		c.send(serverMessage{Type: msgError, Message: "unknown message type: " + msg.Type})
	}
}

func (s *Server) handleStart(ctx context.Context, c *conn, ctrl *session.Controller, msg clientMessage) {
	c.sampleRate.Store(int64(msg.SampleRate))
	def := s.Defaults()
	opts := session.Options{
		Voice: orDefault(msg.Voice, def.Voice),
		Settings: coach.Settings{
			Language:            orDefault(msg.Language, def.Language),
			Mode:                orDefault(msg.Mode, def.Mode),
			Situation:           orDefault(msg.Situation, def.Situation),
			SuggestionCount:     s.cfg.Suggestions.Count,
			SuggestionsDisabled: s.cfg.Suggestions.Disabled,
		},
	}
	if err := ctrl.Start(ctx, opts); err != nil {
		// The controller already pushed the classified error status.
		s.log.Warn("session start failed", "error", err)
	}
}

func (s *Server) handleImage(c *conn, ctrl *session.Controller, msg clientMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.send(serverMessage{Type: msgError, Message: "invalid image payload"})
		return
	}
	if err := ctrl.SendImage(msg.MIMEType, data); err != nil {
		c.send(serverMessage{Type: msgError, Message: err.Error()})
	}
}

func (s *Server) handleHistoryList(ctx context.Context, c *conn) {
	if s.cfg.Store == nil {
		c.send(serverMessage{Type: msgHistory, Sessions: []history.Session{}})
		return
	}
	sessions, err := s.cfg.Store.List(ctx)
	if err != nil {
		c.send(serverMessage{Type: msgError, Message: "history unavailable: " + err.Error()})
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	c.send(serverMessage{Type: msgHistory, Sessions: sessions})
}

func (s *Server) handleHistoryDelete(ctx context.Context, c *conn, id string) {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.Delete(ctx, id); err != nil {
		c.send(serverMessage{Type: msgError, Message: "history delete failed: " + err.Error()})
		return
	}
	s.handleHistoryList(ctx, c)
}

func (s *Server) handleHistoryClear(ctx context.Context, c *conn) {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.Clear(ctx); err != nil {
		c.send(serverMessage{Type: msgError, Message: "history clear failed: " + err.Error()})
		return
	}
	c.send(serverMessage{Type: msgHistory, Sessions: []history.Session{}})
}

func (s *Server) handleEvaluate(c *conn, ctrl *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), coachCallTimeout)
	defer cancel()

	start := time.Now()
	eval, err := ctrl.Evaluate(ctx)
	s.metrics.RecordCoachCall(ctx, "evaluate", time.Since(start).Seconds(), err)
	if err != nil {
		c.send(serverMessage{Type: msgError, Message: "evaluation failed: " + err.Error()})
		return
	}
	c.send(serverMessage{Type: msgEvaluation, Evaluation: eval})
}

func (s *Server) handleSummarize(c *conn, ctrl *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), coachCallTimeout)
	defer cancel()

	start := time.Now()
	text, err := ctrl.Summarize(ctx)
	s.metrics.RecordCoachCall(ctx, "summarize", time.Since(start).Seconds(), err)
	if err != nil {
		c.send(serverMessage{Type: msgError, Message: "summary failed: " + err.Error()})
		return
	}
	c.send(serverMessage{Type: msgSummary, Text: text})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

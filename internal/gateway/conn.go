package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polyglotlabs/polyglot/internal/coach"
	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/internal/observe"
	"github.com/polyglotlabs/polyglot/internal/session"
	"github.com/polyglotlabs/polyglot/pkg/audio"
)

// outboundQueueSize bounds messages waiting for the client. Playback calls
// into the sink with the queue lock held, so sends must never block.
const outboundQueueSize = 256

// conn serves one client WebSocket. It is both the controller's
// [session.Notifier] and the playback queue's [audio.Sink]: every outward
// event becomes a JSON message on the out channel, drained by a single
// writer goroutine.
type conn struct {
	ws      *websocket.Conn
	log     *slog.Logger
	metrics *observe.Metrics

	out     chan serverMessage
	dropped atomic.Int64

	// sampleRate is the client's microphone capture rate from the latest
	// start message. Zero means the client already captures at 16 kHz.
	sampleRate atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

var (
	_ session.Notifier = (*conn)(nil)
	_ audio.Sink       = (*conn)(nil)
)

func newConn(ws *websocket.Conn, log *slog.Logger, metrics *observe.Metrics) *conn {
	return &conn{
		ws:      ws,
		log:     log,
		metrics: metrics,
		out:     make(chan serverMessage, outboundQueueSize),
		done:    make(chan struct{}),
	}
}

// writeLoop drains the out channel onto the wire. It exits when ctx ends or
// the out channel closes, after which the socket is unusable.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("marshal outbound message", "type", msg.Type, "error", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.log.Debug("client write failed", "error", err)
				return
			}
		}
	}
}

// send enqueues a message without blocking. When the client cannot keep up
// the message is dropped; the session itself is unaffected.
func (c *conn) send(msg serverMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- msg:
	default:
		n := c.dropped.Add(1)
		if msg.Type == msgAudio {
			c.metrics.AudioFramesDropped.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("path", "client")))
		}
		if n == 1 || n%100 == 0 {
			c.log.Warn("dropping outbound messages, client too slow", "dropped", n, "type", msg.Type)
		}
	}
}

// close stops send from enqueueing further messages.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ─── session.Notifier ────────────────────────────────────────────────────────

func (c *conn) StatusChanged(st session.Status) {
	if st.Err != "" {
		c.metrics.RecordSessionError(context.Background(), "live")
	}
	c.send(serverMessage{Type: msgStatus, Status: &st})
}

func (c *conn) TranscriptCommitted(entries []history.Entry) {
	c.metrics.TurnsCommitted.Add(context.Background(), 1)
	c.send(serverMessage{Type: msgTranscript, Entries: entries})
}

func (c *conn) SuggestionsReady(suggestions []string) {
	c.send(serverMessage{Type: msgSuggestions, Suggestions: suggestions})
}

func (c *conn) MissionsUpdated(missions []coach.Mission) {
	c.send(serverMessage{Type: msgMissions, Missions: missions})
}

// ─── audio.Sink ──────────────────────────────────────────────────────────────

// Play forwards one playback chunk to the client with its assigned slot.
// Called with the playback queue's lock held; must not block.
func (c *conn) Play(buf audio.Buffer, startAt float64) {
	c.metrics.AudioChunksReceived.Add(context.Background(), 1)
	c.send(serverMessage{
		Type:     msgAudio,
		Data:     base64.StdEncoding.EncodeToString(buf.Data),
		StartAt:  startAt,
		Duration: buf.Seconds(),
	})
}

// Flush tells the client to discard everything it has queued but not played.
func (c *conn) Flush() {
	c.metrics.PlaybackStops.Add(context.Background(), 1)
	c.send(serverMessage{Type: msgStopAudio})
}

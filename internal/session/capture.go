package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polyglotlabs/polyglot/internal/observe"
	"github.com/polyglotlabs/polyglot/pkg/audio"
	"github.com/polyglotlabs/polyglot/pkg/provider/live"
)

// captureQueueSize bounds the outbound frame queue. At the 16 kHz input rate
// with typical 20-40 ms frames this is several seconds of backlog; a consumer
// that far behind is better served by dropping.
const captureQueueSize = 64

// capture moves microphone frames from the gateway to the live session
// through a bounded queue with a dedicated drain goroutine. When the queue is
// full the frame is dropped and counted rather than blocking the caller.
type capture struct {
	handle  live.SessionHandle
	log     *slog.Logger
	metrics *observe.Metrics

	// connected gates Submit. It is checked on every invocation so frames
	// arriving after teardown began are rejected even while the queue
	// still drains.
	connected *atomic.Bool

	frames    chan []byte
	dropped   atomic.Int64
	closeOnce sync.Once

	// stop ends the drain goroutine. The frames channel itself is never
	// closed: Submit may race with teardown, and a send must stay safe at
	// any point of the shutdown.
	stop chan struct{}
	done chan struct{}
}

// newCapture starts the drain goroutine and returns the capture graph.
// connected is shared with the controller; capture never flips it.
// metrics may be nil.
func newCapture(handle live.SessionHandle, connected *atomic.Bool, log *slog.Logger, metrics *observe.Metrics) *capture {
	c := &capture{
		handle:    handle,
		log:       log,
		metrics:   metrics,
		connected: connected,
		frames:    make(chan []byte, captureQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.drain()
	return c
}

// Submit encodes one microphone frame and enqueues it for sending. Frames
// are silently ignored while disconnected and dropped when the queue is full.
func (c *capture) Submit(samples []float32) {
	if !c.connected.Load() {
		return
	}

	pcm := audio.EncodePCM16(samples)

	select {
	case <-c.stop:
	case c.frames <- pcm:
	default:
		n := c.dropped.Add(1)
		if c.metrics != nil {
			c.metrics.AudioFramesDropped.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("path", "capture")))
		}
		if n == 1 || n%100 == 0 {
			c.log.Warn("capture queue full, dropping frames", "dropped", n)
		}
	}
}

// Dropped returns how many frames have been dropped so far.
func (c *capture) Dropped() int64 {
	return c.dropped.Load()
}

// Close unwires the capture graph and waits for the drain goroutine to exit.
// Frames still queued at that point are discarded; the live session is being
// torn down and would reject them anyway. Idempotent.
func (c *capture) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

// drain forwards encoded frames to the live session. Send errors are logged
// and swallowed; a failing session surfaces through its own event stream.
func (c *capture) drain() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case pcm := <-c.frames:
			if err := c.handle.SendRealtimeAudio(pcm); err != nil {
				c.log.Debug("drop outbound audio frame", "error", err)
			}
		}
	}
}

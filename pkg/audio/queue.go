package audio

import (
	"sync"
	"time"
)

// Clock provides the playback timebase in seconds. The production
// implementation is monotonic wall time since queue creation; tests inject a
// fake to make scheduling decisions deterministic.
type Clock interface {
	Now() float64
}

// NewMonotonicClock returns a Clock that reads zero at creation and advances
// with wall time.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

type monotonicClock struct {
	start time.Time
}

func (c *monotonicClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Sink receives the queue's output. Play is called once per scheduled buffer
// with its assigned start time; Flush is called when playback is cancelled
// and any buffered audio downstream must be discarded.
//
// Both methods are called with the queue lock held and must not block or call
// back into the queue.
type Sink interface {
	Play(buf Buffer, startAt float64)
	Flush()
}

// source is one scheduled buffer awaiting completion. It is tracked by the
// queue so an interruption can cancel it before it finishes.
type source struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	onEnded func()
}

// stop cancels the completion timer. Stopping an already-stopped or
// already-completed source is a no-op.
func (s *source) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// ended fires when the buffer's playback window elapses naturally.
func (s *source) ended() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.onEnded()
}

// Queue schedules decoded audio buffers for gapless sequential playback.
//
// A single virtual play-head (the next free start time, in seconds on the
// queue's Clock) advances monotonically as buffers are scheduled; it is reset
// to zero only by [Queue.StopAll]. Buffers are never reordered — playback
// order is arrival order.
//
// All methods are safe for concurrent use, though in practice every mutation
// comes from the session controller's single event loop.
type Queue struct {
	clock Clock
	sink  Sink

	mu     sync.Mutex
	next   float64
	active map[*source]struct{}
}

// NewQueue creates a Queue over the given clock, delivering output to sink.
func NewQueue(clock Clock, sink Sink) *Queue {
	return &Queue{
		clock:  clock,
		sink:   sink,
		active: make(map[*source]struct{}),
	}
}

// Schedule assigns buf the earliest gapless start time, forwards it to the
// sink, and advances the play-head by the buffer's duration. It returns the
// assigned start time.
func (q *Queue) Schedule(buf Buffer) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	startAt := q.next
	if now > startAt {
		startAt = now
	}

	src := &source{}
	src.onEnded = func() {
		q.mu.Lock()
		delete(q.active, src)
		q.mu.Unlock()
	}
	// The completion timer runs on wall time; with a fake clock it simply
	// never fires within the test window, which is fine — tests drive
	// removal through StopAll.
	src.timer = time.AfterFunc(secondsToDuration(startAt+buf.Seconds()-now), src.ended)

	q.active[src] = struct{}{}
	q.next = startAt + buf.Seconds()
	q.sink.Play(buf, startAt)
	return startAt
}

// StopAll cancels every active source, clears the active set, resets the
// play-head to zero, and tells the sink to flush. It is invoked on the live
// session's interrupted signal (barge-in) and at session teardown; calling it
// with nothing playing is harmless.
func (q *Queue) StopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for src := range q.active {
		src.stop()
	}
	clear(q.active)
	q.next = 0
	q.sink.Flush()
}

// ActiveCount returns the number of scheduled-but-unfinished sources.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// NextStart returns the current play-head position in seconds.
func (q *Queue) NextStart() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

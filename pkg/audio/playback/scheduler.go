// Package playback schedules decoded audio chunks for gap-free, in-order
// playback on an output clock.
//
// Chunks arrive asynchronously and at irregular intervals from the live
// transport; the [Scheduler] keeps a monotonically advancing cursor so that
// each buffer starts exactly when the previous one ends, regardless of
// arrival jitter. All in-flight buffers are tracked in a live set so that an
// interruption (barge-in) can stop everything at once and reset the cursor.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
)

// Sink is the output device a [Scheduler] plays into. The real
// implementation is [SpeakerSink]; tests supply fakes with a manual clock.
type Sink interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Start schedules samples to begin playing at the given clock position.
	// onEnded is invoked once, from the sink's own goroutine, when the
	// buffer finishes naturally; it is never invoked for a buffer cancelled
	// via the returned stop function. Start must not block on playback and
	// must not call onEnded synchronously.
	Start(samples []float64, at time.Duration, onEnded func()) (stop func(), err error)

	// Close drops all active buffers and releases the output device. Must be
	// idempotent.
	Close() error
}

// handle tracks one scheduled buffer between schedule time and either
// natural completion or forced stop.
type handle struct {
	stop  func()
	ended bool
}

// Scheduler maintains the live set of playing buffers and the next-start
// cursor. Safe for concurrent use.
type Scheduler struct {
	sink       Sink
	sampleRate int

	mu        sync.Mutex
	nextStart time.Duration
	live      map[uint64]*handle
	nextID    uint64
	onDrained func()
	closed    bool
}

// New creates a Scheduler playing PCM at the given sample rate into sink.
func New(sink Sink, sampleRate int) *Scheduler {
	return &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
		live:       make(map[uint64]*handle),
	}
}

// OnDrained registers cb to be invoked whenever the live set becomes empty
// through natural buffer completion. A [Scheduler.Flush] does not fire it.
// Only one callback may be registered; subsequent calls replace it.
func (s *Scheduler) OnDrained(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = cb
}

// Schedule decodes one PCM16 chunk and queues it to start exactly when the
// previously scheduled chunk ends (or immediately if the cursor has fallen
// behind the output clock). Returns [audio.ErrMalformedAudio] for chunks
// that cannot be decoded; the caller should drop the chunk and continue.
func (s *Scheduler) Schedule(pcm []byte) error {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(s.sampleRate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("playback: scheduler closed")
	}
	startAt := s.nextStart
	if now := s.sink.Now(); now > startAt {
		startAt = now
	}
	s.nextStart = startAt + dur

	id := s.nextID
	s.nextID++
	h := &handle{}
	s.live[id] = h
	s.mu.Unlock()

	stop, err := s.sink.Start(samples, startAt, func() { s.finish(id) })
	if err != nil {
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
		return fmt.Errorf("playback: start: %w", err)
	}

	s.mu.Lock()
	if h.ended {
		// The buffer already completed before the stop function was stored.
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.live[id]; !ok {
		// A Flush or Close removed the handle while the sink call was in
		// flight; its stop function was never stored, so cancel here.
		s.mu.Unlock()
		stop()
		return nil
	}
	h.stop = stop
	s.mu.Unlock()
	return nil
}

// finish removes a naturally completed buffer from the live set and fires
// the drained callback when the set empties.
func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	h, ok := s.live[id]
	if !ok {
		// Already removed by Flush; the completion is stale.
		s.mu.Unlock()
		return
	}
	h.ended = true
	delete(s.live, id)
	drained := len(s.live) == 0 && !s.closed
	cb := s.onDrained
	s.mu.Unlock()

	if drained && cb != nil {
		cb()
	}
}

// Flush implements barge-in: it stops every live buffer, clears the live
// set, and resets the cursor to the current output clock so the next chunk
// starts immediately. The drained callback is not fired.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.live))
	for id, h := range s.live {
		if h.stop != nil {
			stops = append(stops, h.stop)
		}
		delete(s.live, id)
	}
	s.nextStart = s.sink.Now()
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Pending returns the size of the live set.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Cursor returns the earliest time the next scheduled buffer may start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Lead reports how far the cursor sits ahead of the output clock, i.e. how
// much scheduled audio is still waiting to play. Zero when playback has
// caught up.
func (s *Scheduler) Lead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead := s.nextStart - s.sink.Now(); lead > 0 {
		return lead
	}
	return 0
}

// Close flushes all live buffers, rejects further scheduling, and releases
// the output device. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.Flush()
	return s.sink.Close()
}

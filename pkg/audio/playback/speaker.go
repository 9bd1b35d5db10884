package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// scheduled is one buffer registered with the speaker, keyed by its absolute
// sample offset on the output timeline.
type scheduled struct {
	samples []float64
	start   int64
	onEnded func()
}

// SpeakerSink plays scheduled buffers through the system speaker. It is a
// [beep.Streamer] that mixes every registered buffer at its absolute sample
// offset, so back-to-back buffers are rendered sample-accurately without
// gaps. The number of samples streamed so far is the output clock.
type SpeakerSink struct {
	sampleRate int

	mu     sync.Mutex
	pos    int64
	active map[uint64]*scheduled
	nextID uint64
	closed bool

	closeOnce sync.Once
}

var _ Sink = (*SpeakerSink)(nil)
var _ beep.Streamer = (*SpeakerSink)(nil)

// NewSpeakerSink initialises the system speaker at the given sample rate and
// begins streaming. bufferSize is the speaker buffer in samples; around a
// tenth of the sample rate keeps latency low without underruns.
func NewSpeakerSink(sampleRate, bufferSize int) (*SpeakerSink, error) {
	s := &SpeakerSink{
		sampleRate: sampleRate,
		active:     make(map[uint64]*scheduled),
	}
	if err := speaker.Init(beep.SampleRate(sampleRate), bufferSize); err != nil {
		return nil, fmt.Errorf("playback: speaker init: %w", err)
	}
	speaker.Play(s)
	return s, nil
}

// Now returns the output clock position: the duration of audio streamed to
// the speaker since the sink was created.
func (s *SpeakerSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockLocked()
}

func (s *SpeakerSink) clockLocked() time.Duration {
	return time.Duration(s.pos) * time.Second / time.Duration(s.sampleRate)
}

// Start registers samples to begin playing at the given clock position. A
// position already in the past starts the buffer on the next streamed block.
func (s *SpeakerSink) Start(samples []float64, at time.Duration, onEnded func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("playback: speaker closed")
	}

	// Round to the nearest sample so truncated nanosecond durations from the
	// scheduler's cursor land back on exact sample boundaries.
	startSample := (int64(at)*int64(s.sampleRate) + int64(time.Second)/2) / int64(time.Second)
	if startSample < s.pos {
		startSample = s.pos
	}

	id := s.nextID
	s.nextID++
	s.active[id] = &scheduled{
		samples: samples,
		start:   startSample,
		onEnded: onEnded,
	}

	stop := func() {
		s.mu.Lock()
		delete(s.active, id) // onEnded never fires for a stopped buffer
		s.mu.Unlock()
	}
	return stop, nil
}

// Stream implements [beep.Streamer]. It mixes all active buffers into the
// output block and fires completion callbacks for buffers that ended inside
// the block.
func (s *SpeakerSink) Stream(out [][2]float64) (int, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, false
	}

	for i := range out {
		out[i] = [2]float64{}
	}

	blockStart := s.pos
	blockEnd := s.pos + int64(len(out))
	var ended []func()

	for id, b := range s.active {
		bufEnd := b.start + int64(len(b.samples))
		from := max(b.start, blockStart)
		to := min(bufEnd, blockEnd)
		for idx := from; idx < to; idx++ {
			v := b.samples[idx-b.start]
			out[idx-blockStart][0] += v
			out[idx-blockStart][1] += v
		}
		if bufEnd <= blockEnd {
			delete(s.active, id)
			if b.onEnded != nil {
				ended = append(ended, b.onEnded)
			}
		}
	}

	s.pos = blockEnd
	s.mu.Unlock()

	// Completion callbacks run outside the lock: they re-enter the scheduler.
	for _, fn := range ended {
		fn()
	}
	return len(out), true
}

// Err implements [beep.Streamer].
func (s *SpeakerSink) Err() error { return nil }

// Close drops all active buffers and releases the speaker device.
// Idempotent.
func (s *SpeakerSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.active = make(map[uint64]*scheduled)
		s.mu.Unlock()
		speaker.Close()
	})
	return nil
}

// Package capture acquires microphone audio, segments it into fixed-size
// frames, encodes each frame as 16-bit PCM and forwards it to the live
// transport session.
//
// The pipeline owns the microphone stream exclusively for the session's
// duration. Muting drops frames at the pipeline level without closing the
// stream, and delivery to the transport is best-effort: a frame that cannot
// be sent is dropped, never buffered or retried — stale speech has no replay
// value.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
)

// ErrCaptureUnavailable indicates that the microphone could not be acquired.
// This is fatal to session initialisation.
var ErrCaptureUnavailable = errors.New("capture: microphone unavailable")

const (
	// DefaultFrameSize is the number of samples per capture frame.
	DefaultFrameSize = 4096

	// readChunk is the size of the low-level read buffer handed to the mic
	// stream. Kept well below the frame size so that mute toggles take
	// effect with little latency.
	readChunk = 512
)

// Mic is the minimal surface of a microphone input stream. The real
// implementation is returned by [OpenMicrophone]; tests supply fakes.
//
// Stream follows the beep streamer convention: it fills samples with
// interleaved stereo pairs (mono sources duplicate the sample across both
// channels) and reports false when the stream has ended.
type Mic interface {
	Start() error
	Stream(samples [][2]float64) (n int, ok bool)
	Stop() error
	Close() error
}

// Sender consumes encoded capture frames. Implemented by the live transport
// session. SendAudio must not block the capture goroutine for long; errors
// cause the frame to be dropped.
type Sender interface {
	SendAudio(chunk []byte) error
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithFrameSize overrides the number of samples per capture frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// Pipeline segments microphone audio into frames and forwards them to a
// Sender. Create with [New], start with [Pipeline.Start], and always stop
// with [Pipeline.Stop]. Safe for concurrent use of the mute controls; Start
// and Stop must not be called concurrently with each other.
type Pipeline struct {
	mic        Mic
	sender     Sender
	sampleRate int
	frameSize  int

	muted atomic.Bool

	mu      sync.Mutex
	started bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a capture pipeline reading from mic at the given sample rate
// and forwarding encoded frames to sender.
func New(mic Mic, sender Sender, sampleRate int, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:        mic,
		sender:     sender,
		sampleRate: sampleRate,
		frameSize:  DefaultFrameSize,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start begins capturing. It starts the microphone stream and launches the
// frame-production goroutine.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("capture: pipeline already started")
	}
	if err := p.mic.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrCaptureUnavailable, err)
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
	return nil
}

// SetMuted toggles the mute flag. While muted, frames are silently dropped —
// not sent, not buffered — and the microphone stream stays open.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Stop halts frame production and stops and releases the microphone stream.
// The mic is released before waiting on the frame goroutine so that a
// blocked stream read unblocks. Idempotent.
func (p *Pipeline) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.done)
		if serr := p.mic.Stop(); serr != nil {
			err = serr
		}
		if cerr := p.mic.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.wg.Wait()
	})
	return err
}

// run is the frame-production loop. It reads small chunks from the mic,
// downmixes to mono, and emits one encoded frame per frameSize samples.
func (p *Pipeline) run() {
	defer p.wg.Done()

	frame := make([]float64, 0, p.frameSize)
	buf := make([][2]float64, readChunk)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, ok := p.mic.Stream(buf)
		if !ok {
			select {
			case <-p.done:
			default:
				slog.Warn("capture: microphone stream ended")
			}
			return
		}
		for _, s := range buf[:n] {
			frame = append(frame, (s[0]+s[1])/2)
			if len(frame) == p.frameSize {
				p.deliver(frame)
				frame = frame[:0]
			}
		}
	}
}

// deliver encodes one frame and hands it to the sender, honouring the mute
// flag. Send errors drop the frame.
func (p *Pipeline) deliver(samples []float64) {
	if p.muted.Load() {
		return
	}
	pcm := audio.EncodeFloatPCM16(samples)
	if err := p.sender.SendAudio(pcm); err != nil {
		slog.Warn("capture: dropping frame",
			"bytes", len(pcm),
			"sampleRate", p.sampleRate,
			"err", err,
		)
	}
}

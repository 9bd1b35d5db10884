package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamerzmahi07-prog/Language-Learn/internal/lesson"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/observe"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio/capture"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/provider/live"
)

// Transport is the realtime provider session surface the tutor drives.
// Implemented by [live.Session].
type Transport interface {
	Events() <-chan live.Event
	SendAudio(chunk []byte) error
	Close() error
}

// DialFunc opens a [Transport] for a session.
type DialFunc func(ctx context.Context, cfg live.SessionConfig) (Transport, error)

// Dial adapts a [live.Provider] to a [DialFunc].
func Dial(p *live.Provider) DialFunc {
	return func(ctx context.Context, cfg live.SessionConfig) (Transport, error) {
		s, err := p.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Recorder is the microphone capture surface. Implemented by
// [capture.Pipeline].
type Recorder interface {
	Start() error
	SetMuted(muted bool)
	Stop() error
}

// Player is the playback scheduling surface. Implemented by
// [playback.Scheduler]. Close releases the output device.
type Player interface {
	Schedule(pcm []byte) error
	OnDrained(cb func())
	Flush()
	Lead() time.Duration
	Close() error
}

// Config assembles a tutoring session's collaborators.
type Config struct {
	// Dial opens the realtime transport. Required.
	Dial DialFunc

	// NewRecorder builds the capture pipeline once the transport is ready,
	// so that captured frames flow into the given sender. Required.
	NewRecorder func(sender capture.Sender) Recorder

	// Player schedules received tutor audio for playback. Required.
	Player Player

	// Lesson grounds the session: its vocabulary and story feed the system
	// instructions and the coverage report. Required.
	Lesson *lesson.Lesson

	// Language is the language being taught, e.g. "Spanish".
	Language string

	// Voice selects the tutor's speech voice. Empty picks the provider
	// default.
	Voice string

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// CoverageReport lists which lesson vocabulary the student used during the
// session and which went unspoken.
type CoverageReport struct {
	Used   []string
	Missed []string
}

// Session is one live tutoring conversation. Create with [NewSession],
// register callbacks, then call [Session.Start].
//
// The microphone starts capturing only after the transport is connected and
// set up, so no audio is recorded into the void.
type Session struct {
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	coverage *lesson.CoverageTracker

	mu           sync.Mutex
	state        State
	err          error
	onStatus     func(Status)
	onTranscript func(tutorLine, studentLine string)

	transport Transport
	recorder  Recorder

	drained      chan struct{}
	done         chan struct{}
	teardownOnce sync.Once
}

// NewSession creates a session from cfg. It does not touch the network or
// the microphone; that happens in [Session.Start].
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		coverage: lesson.NewCoverageTracker(cfg.Lesson),
		state:    State{Status: StatusConnecting},
		drained:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnStatus registers a callback invoked on every status change. Must be set
// before [Session.Start].
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// OnTranscript registers a callback invoked whenever either transcript line
// of the current turn changes. Must be set before [Session.Start].
func (s *Session) OnTranscript(fn func(tutorLine, studentLine string)) {
	s.mu.Lock()
	s.onTranscript = fn
	s.mu.Unlock()
}

// Start dials the transport, begins microphone capture, and launches the
// event loop. On failure the session transitions to [StatusError] and all
// acquired resources are released.
func (s *Session) Start(ctx context.Context) error {
	s.notifyStatus(StatusConnecting)

	voice := s.cfg.Voice
	if voice == "" {
		voice = live.DefaultVoice
	}

	dialStart := time.Now()
	transport, err := s.cfg.Dial(ctx, live.SessionConfig{
		Voice:        voice,
		Instructions: s.cfg.Lesson.SystemInstruction(voice, s.cfg.Language),
	})
	if err != nil {
		s.metrics.RecordConnect(ctx, time.Since(dialStart).Seconds(), "error")
		s.fail(fmt.Errorf("tutor: connect: %w", err))
		close(s.done)
		return fmt.Errorf("tutor: connect: %w", err)
	}
	s.metrics.RecordConnect(ctx, time.Since(dialStart).Seconds(), "ok")
	s.transport = transport
	s.metrics.ActiveSessions.Add(ctx, 1)

	s.cfg.Player.OnDrained(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})

	s.recorder = s.cfg.NewRecorder(&meteredSender{transport: transport, metrics: s.metrics})
	if err := s.recorder.Start(); err != nil {
		s.fail(fmt.Errorf("tutor: capture: %w", err))
		s.teardown()
		close(s.done)
		return fmt.Errorf("tutor: capture: %w", err)
	}

	s.setStatus(StatusListening)
	s.log.Info("session started",
		slog.String("lesson", s.cfg.Lesson.Title),
		slog.String("voice", voice))

	go s.run(ctx)
	return nil
}

// SetMuted pauses or resumes sending microphone audio. The capture stream
// keeps running so unmuting is instant.
func (s *Session) SetMuted(muted bool) {
	if s.recorder != nil {
		s.recorder.SetMuted(muted)
	}
}

// State returns a snapshot of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Exit ends the session: capture stops, playback flushes, and the transport
// closes. Safe to call multiple times and concurrently with a remote close.
func (s *Session) Exit() {
	s.teardown()
}

// Wait blocks until the event loop has finished and returns the session
// error, if any. Only valid after [Session.Start] returned.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FinishPractice ends the session and reports which lesson vocabulary the
// student used.
func (s *Session) FinishPractice() CoverageReport {
	s.Exit()
	<-s.done
	used, missed := s.coverage.Report()
	return CoverageReport{Used: used, Missed: missed}
}

// run is the session event loop. It owns all state transitions after Start.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			s.setStatus(StatusClosed)
			return
		case <-s.drained:
			s.applyDrained()
		case ev, ok := <-s.transport.Events():
			if !ok {
				s.setStatus(StatusClosed)
				return
			}
			if terminal := s.handleEvent(ctx, ev); terminal {
				return
			}
		}
	}
}

// handleEvent reacts to one transport event and reports whether the session
// reached a terminal state.
func (s *Session) handleEvent(ctx context.Context, ev live.Event) bool {
	switch ev.Type {
	case live.EventAudio:
		s.metrics.ChunksReceived.Add(ctx, 1)
		if err := s.cfg.Player.Schedule(ev.Audio); err != nil {
			s.metrics.MalformedChunks.Add(ctx, 1)
			s.log.Warn("dropping malformed audio chunk", slog.String("error", err.Error()))
			return false
		}
		s.metrics.PlaybackLead.Record(ctx, s.cfg.Player.Lead().Seconds())

	case live.EventInterrupted:
		s.metrics.Interruptions.Add(ctx, 1)
		s.cfg.Player.Flush()
		s.log.Debug("barge-in, playback flushed")

	case live.EventInputTranscript:
		s.coverage.Observe(ev.Text)

	case live.EventError:
		s.mu.Lock()
		if s.err == nil {
			s.err = ev.Err
		}
		s.mu.Unlock()
		s.log.Error("transport error", slog.String("error", ev.Err.Error()))
	}

	s.apply(ev)

	st := s.State().Status
	return st == StatusError || st == StatusClosed
}

// apply advances the pure state machine and fires callbacks on change.
func (s *Session) apply(ev live.Event) {
	s.mu.Lock()
	old := s.state
	s.state = Apply(s.state, ev)
	st := s.state
	onStatus, onTranscript := s.onStatus, s.onTranscript
	s.mu.Unlock()

	if onStatus != nil && st.Status != old.Status {
		onStatus(st.Status)
	}
	if onTranscript != nil && (st.TutorLine != old.TutorLine || st.StudentLine != old.StudentLine) {
		onTranscript(st.TutorLine, st.StudentLine)
	}
}

func (s *Session) applyDrained() {
	s.mu.Lock()
	old := s.state
	s.state = Drained(s.state)
	st := s.state
	onStatus := s.onStatus
	s.mu.Unlock()

	if onStatus != nil && st.Status != old.Status {
		onStatus(st.Status)
	}
}

// setStatus forces a status outside the event-driven transitions (session
// ready, context cancelled). Terminal states stay put.
func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	if s.state.Status == StatusError || s.state.Status == StatusClosed {
		s.mu.Unlock()
		return
	}
	changed := s.state.Status != status
	s.state.Status = status
	onStatus := s.onStatus
	s.mu.Unlock()

	if changed && onStatus != nil {
		onStatus(status)
	}
}

// notifyStatus fires the status callback without requiring a change, used
// for the initial connecting notification.
func (s *Session) notifyStatus(status Status) {
	s.mu.Lock()
	s.state.Status = status
	onStatus := s.onStatus
	s.mu.Unlock()
	if onStatus != nil {
		onStatus(status)
	}
}

// fail records err and moves the session to the terminal error state.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.state.Status = StatusError
	onStatus := s.onStatus
	s.mu.Unlock()
	if onStatus != nil {
		onStatus(StatusError)
	}
}

// teardown releases every acquired resource exactly once: capture first so
// no more frames hit a closing transport, then playback together with its
// output device, then the transport itself.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		if s.recorder != nil {
			if err := s.recorder.Stop(); err != nil {
				s.log.Warn("stopping capture", slog.String("error", err.Error()))
			}
		}
		if err := s.cfg.Player.Close(); err != nil {
			s.log.Warn("closing playback", slog.String("error", err.Error()))
		}
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.log.Warn("closing transport", slog.String("error", err.Error()))
			}
			// Consume whatever the transport still emits so its receive
			// loop can finish.
			go audio.Drain(s.transport.Events())
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.log.Info("session torn down")
	})
}

// meteredSender counts capture frames on their way to the transport.
type meteredSender struct {
	transport Transport
	metrics   *observe.Metrics
}

var _ capture.Sender = (*meteredSender)(nil)

func (m *meteredSender) SendAudio(chunk []byte) error {
	if err := m.transport.SendAudio(chunk); err != nil {
		m.metrics.DroppedFrames.Add(context.Background(), 1)
		return err
	}
	m.metrics.ChunksSent.Add(context.Background(), 1)
	return nil
}

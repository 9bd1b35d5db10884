// Package live implements the bidirectional audio streaming transport for a
// voice-tutor session against Google's Gemini Live API.
//
// It establishes a WebSocket connection to the Gemini Live endpoint and
// exchanges JSON messages according to the BidiGenerateContent protocol.
// Outbound audio is transmitted as base64-encoded PCM chunks; inbound server
// traffic is surfaced as a single, ordered stream of [Event] values covering
// synthesised audio, transcript deltas, interruption signals and lifecycle
// changes.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultVoice is the prebuilt voice persona used when SessionConfig
	// leaves Voice empty.
	DefaultVoice = "Zephyr"

	// outputSampleRate is the fixed rate of synthesised audio returned by the
	// Gemini Live models.
	outputSampleRate = audio.PlaybackRate

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// eventBuf is the buffer depth of the session event channel. Consumers
	// must drain Events promptly; a full buffer stalls the receive loop.
	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Events ─────────────────────────────────────────────────────────────────────

// EventType classifies the events emitted on a session's Events stream.
type EventType int

const (
	// EventOutputTranscript carries a transcript delta of the tutor's
	// synthesised speech.
	EventOutputTranscript EventType = iota

	// EventInputTranscript carries a transcript delta of the student's
	// recognised speech.
	EventInputTranscript

	// EventAudio carries one chunk of synthesised PCM audio.
	EventAudio

	// EventTurnComplete marks the end of a model response turn.
	EventTurnComplete

	// EventInterrupted signals barge-in: the student spoke over the tutor and
	// all pending playback should be flushed.
	EventInterrupted

	// EventError reports a transport-level failure. It is followed by
	// EventClosed.
	EventError

	// EventClosed is the final event on the stream, emitted exactly once,
	// whether the session ended remotely or via Close.
	EventClosed
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOutputTranscript:
		return "OUTPUT_TRANSCRIPT"
	case EventInputTranscript:
		return "INPUT_TRANSCRIPT"
	case EventAudio:
		return "AUDIO"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry on the ordered server event stream. Exactly one payload
// field is meaningful per event, selected by Type.
type Event struct {
	Type EventType

	// Text is the transcript delta for transcript events.
	Text string

	// Audio is raw PCM for EventAudio; SampleRate declares its rate.
	Audio      []byte
	SampleRate int

	// Err is the failure for EventError.
	Err error
}

// SessionConfig is the connect-time configuration for a tutor session.
type SessionConfig struct {
	// Voice selects the prebuilt voice persona. Defaults to [DefaultVoice].
	Voice string

	// Instructions is the system instruction describing tutor behaviour,
	// including the lesson grounding text. May be empty.
	Instructions string
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider opens Gemini Live sessions.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session with the given configuration.
// The returned Session is ready to accept audio immediately after the setup
// message is sent. The Session never reconnects on its own: any transport
// failure surfaces as EventError followed by EventClosed, and reconnection is
// the caller's decision.
func (p *Provider) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		events: make(chan Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("live: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *systemInstruction   `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionConfig `json:"outputAudioTranscription,omitempty"`
}

// transcriptionConfig enables automatic transcription of one audio direction.
// The protocol takes an empty object.
type transcriptionConfig struct{}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // transport text encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // transport text encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is an open bidirectional streaming connection to the tutor model.
//
// Consumers must drain [Session.Events] until it closes; the receive loop
// stalls when the event buffer fills. All methods are safe for concurrent use.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message. Audio-only
// responses with both transcription directions enabled, matching what the
// session state machine expects downstream.
func (s *Session) sendSetup(model string, cfg SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
			InputAudioTranscription:  &transcriptionConfig{},
			OutputAudioTranscription: &transcriptionConfig{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them onto the
// event stream. It owns the events channel: it emits the final EventClosed
// and closes the channel when it exits.
func (s *Session) receiveLoop() {
	defer func() {
		// EventClosed is the last event on the stream. A consumer that obeys
		// the drain contract always receives it; if it stopped draining long
		// ago, the channel close below still signals termination.
		select {
		case s.events <- Event{Type: EventClosed}:
		default:
		}
		close(s.events)
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A cancelled session context means Close was called: end the
			// stream cleanly without an error event.
			if s.ctx.Err() != nil {
				return
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("live: receive: %w", err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *Session) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil {
		text := "unknown error"
		if msg.Error.Message != "" {
			text = msg.Error.Message
		}
		s.emit(Event{Type: EventError, Err: fmt.Errorf("live: %s", text)})
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
}

// handleServerContent translates one serverContent message into events,
// preserving the wire order: interruption first (it invalidates everything
// already queued), then transcripts, then audio, then turn completion.
func (s *Session) handleServerContent(sc *serverContent) {
	if sc.Interrupted {
		s.emit(Event{Type: EventInterrupted})
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(Event{Type: EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(Event{Type: EventInputTranscript, Text: sc.InputTranscription.Text})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := audio.DecodeTransportText(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			s.emit(Event{Type: EventAudio, Audio: pcm, SampleRate: outputSampleRate})
		}
	}

	if sc.TurnComplete {
		s.emit(Event{Type: EventTurnComplete})
	}
}

// emit delivers ev on the event stream, giving up when the session context is
// cancelled mid-send.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// SendAudio delivers one raw PCM capture chunk (16 kHz, s16le, mono) to the
// model. Best-effort and non-blocking from the caller's perspective: the
// chunk is written directly to the WebSocket and never queued or retried.
// Returns an error if the session is closed.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("live: session closed")
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{
					MIMEType: audio.PCMMimeType(audio.CaptureRate),
					Data:     audio.EncodeTransportText(chunk),
				},
			},
		},
	}
	return s.writeJSON(msg)
}

// Events returns the ordered server event stream. The transport never
// reorders or duplicates events. The channel is closed after the final
// EventClosed.
func (s *Session) Events() <-chan Event { return s.events }

// Close terminates the connection and releases all resources. The event
// stream ends with EventClosed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.cancel()    // unblocks receiveLoop and keepaliveLoop
		close(s.done) // signals keepaliveLoop via done channel
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

package tutor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gamerzmahi07-prog/Language-Learn/internal/lesson"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio/capture"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/provider/live"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeTransport struct {
	events chan live.Event

	mu     sync.Mutex
	sent   [][]byte
	closes int

	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan live.Event, 16)}
}

func (f *fakeTransport) Events() <-chan live.Event { return f.events }

func (f *fakeTransport) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		f.events <- live.Event{Type: live.EventClosed}
		close(f.events)
	})
	return nil
}

func (f *fakeTransport) emit(ev live.Event) { f.events <- ev }

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeRecorder struct {
	mu       sync.Mutex
	starts   int
	stops    int
	muted    bool
	startErr error
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeRecorder) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
}

func (f *fakeRecorder) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecorder) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakePlayer struct {
	mu        sync.Mutex
	scheduled [][]byte
	flushes   int
	closes    int
	onDrained func()
	schedErr  error
}

func (f *fakePlayer) Schedule(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schedErr != nil {
		err := f.schedErr
		f.schedErr = nil
		return err
	}
	f.scheduled = append(f.scheduled, pcm)
	return nil
}

func (f *fakePlayer) OnDrained(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDrained = cb
}

func (f *fakePlayer) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakePlayer) Lead() time.Duration { return 0 }

func (f *fakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakePlayer) fireDrained() {
	f.mu.Lock()
	cb := f.onDrained
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakePlayer) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

// ── Fixture ───────────────────────────────────────────────────────────────────

func testLesson() *lesson.Lesson {
	return &lesson.Lesson{
		Title: "Ordering Coffee",
		Vocabulary: []lesson.VocabEntry{
			{Word: "café", Translation: "coffee"},
			{Word: "gracias", Translation: "thanks"},
		},
	}
}

type fixture struct {
	transport *fakeTransport
	recorder  *fakeRecorder
	player    *fakePlayer
	sess      *Session
	statuses  chan Status
	lines     chan [2]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: newFakeTransport(),
		recorder:  &fakeRecorder{},
		player:    &fakePlayer{},
		statuses:  make(chan Status, 32),
		lines:     make(chan [2]string, 32),
	}
	f.sess = NewSession(Config{
		Dial: func(context.Context, live.SessionConfig) (Transport, error) {
			return f.transport, nil
		},
		NewRecorder: func(capture.Sender) Recorder { return f.recorder },
		Player:      f.player,
		Lesson:      testLesson(),
		Language:    "Spanish",
	})
	f.sess.OnStatus(func(s Status) { f.statuses <- s })
	f.sess.OnTranscript(func(tutorLine, studentLine string) {
		f.lines <- [2]string{tutorLine, studentLine}
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		f.sess.Exit()
		_ = f.sess.Wait()
	})
}

func waitStatus(t *testing.T, ch <-chan Status, want Status) {
	t.Helper()
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for status %v", want)
		}
	}
}

func waitLines(t *testing.T, ch <-chan [2]string) [2]string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for transcript callback")
		panic("unreachable")
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSession_StartsListening(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	waitStatus(t, f.statuses, StatusConnecting)
	waitStatus(t, f.statuses, StatusListening)

	if starts, _ := f.recorder.counts(); starts != 1 {
		t.Errorf("recorder starts = %d; want 1", starts)
	}
}

func TestSession_SpeakingThenDrained(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.transport.emit(live.Event{Type: live.EventAudio, Audio: []byte{1, 0, 2, 0}})
	waitStatus(t, f.statuses, StatusSpeaking)

	if got := f.player.scheduledCount(); got != 1 {
		t.Errorf("scheduled chunks = %d; want 1", got)
	}

	f.player.fireDrained()
	waitStatus(t, f.statuses, StatusListening)
}

func TestSession_InterruptedFlushesPlayback(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.transport.emit(live.Event{Type: live.EventOutputTranscript, Text: "Hola"})
	waitLines(t, f.lines)
	f.transport.emit(live.Event{Type: live.EventAudio, Audio: []byte{1, 0}})
	waitStatus(t, f.statuses, StatusSpeaking)

	f.transport.emit(live.Event{Type: live.EventInterrupted})
	waitStatus(t, f.statuses, StatusListening)

	got := waitLines(t, f.lines)
	if got[0] != "" || got[1] != "" {
		t.Errorf("transcripts after barge-in = %q / %q; want cleared", got[0], got[1])
	}

	f.player.mu.Lock()
	flushes := f.player.flushes
	f.player.mu.Unlock()
	if flushes != 1 {
		t.Errorf("flushes = %d; want 1", flushes)
	}
}

func TestSession_MalformedChunkDoesNotChangeState(t *testing.T) {
	f := newFixture(t)
	f.player.schedErr = audio.ErrMalformedAudio
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	// First chunk is rejected by the player and dropped; the session must
	// stay listening and keep going.
	f.transport.emit(live.Event{Type: live.EventAudio, Audio: []byte{1}})
	f.transport.emit(live.Event{Type: live.EventAudio, Audio: []byte{1, 0}})
	waitStatus(t, f.statuses, StatusSpeaking)

	if got := f.player.scheduledCount(); got != 1 {
		t.Errorf("scheduled chunks = %d; want 1", got)
	}
}

func TestSession_TranscriptCallbacks(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.transport.emit(live.Event{Type: live.EventOutputTranscript, Text: "Buenos "})
	f.transport.emit(live.Event{Type: live.EventOutputTranscript, Text: "días"})
	f.transport.emit(live.Event{Type: live.EventInputTranscript, Text: "gracias"})

	waitLines(t, f.lines)
	waitLines(t, f.lines)
	got := waitLines(t, f.lines)
	if got[0] != "Buenos días" || got[1] != "gracias" {
		t.Errorf("lines = %q / %q", got[0], got[1])
	}
}

func TestSession_ErrorTearsDownOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.transport.emit(live.Event{Type: live.EventError, Err: errors.New("socket reset")})
	waitStatus(t, f.statuses, StatusError)

	if err := f.sess.Wait(); err == nil || !strings.Contains(err.Error(), "socket reset") {
		t.Errorf("Wait = %v; want socket reset", err)
	}
	if _, stops := f.recorder.counts(); stops != 1 {
		t.Errorf("recorder stops = %d; want 1", stops)
	}
	if got := f.transport.closeCount(); got != 1 {
		t.Errorf("transport closes = %d; want 1", got)
	}

	// No further status changes after the terminal error.
	select {
	case s := <-f.statuses:
		t.Errorf("unexpected status after error: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ExitIdempotent(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	var wg sync.WaitGroup
	for n := 0; n < 3; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sess.Exit()
		}()
	}
	wg.Wait()
	_ = f.sess.Wait()
	waitStatus(t, f.statuses, StatusClosed)

	if _, stops := f.recorder.counts(); stops != 1 {
		t.Errorf("recorder stops = %d; want 1", stops)
	}
	if got := f.transport.closeCount(); got != 1 {
		t.Errorf("transport closes = %d; want 1", got)
	}
	f.player.mu.Lock()
	closes := f.player.closes
	f.player.mu.Unlock()
	if closes != 1 {
		t.Errorf("player closes = %d; want 1", closes)
	}
}

func TestSession_DialFailure(t *testing.T) {
	f := newFixture(t)
	f.sess = NewSession(Config{
		Dial: func(context.Context, live.SessionConfig) (Transport, error) {
			return nil, errors.New("no route")
		},
		NewRecorder: func(capture.Sender) Recorder { return f.recorder },
		Player:      f.player,
		Lesson:      testLesson(),
	})

	err := f.sess.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no route") {
		t.Fatalf("Start = %v; want dial error", err)
	}
	if got := f.sess.State().Status; got != StatusError {
		t.Errorf("status = %v; want error", got)
	}
	if err := f.sess.Wait(); err == nil {
		t.Error("Wait = nil; want dial error")
	}
}

func TestSession_CaptureFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	f.recorder.startErr = capture.ErrCaptureUnavailable

	err := f.sess.Start(context.Background())
	if !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Fatalf("Start = %v; want ErrCaptureUnavailable", err)
	}
	if got := f.transport.closeCount(); got != 1 {
		t.Errorf("transport closes = %d; want 1", got)
	}
	if got := f.sess.State().Status; got != StatusError {
		t.Errorf("status = %v; want error", got)
	}
}

func TestSession_SetMuted(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.sess.SetMuted(true)
	f.recorder.mu.Lock()
	muted := f.recorder.muted
	f.recorder.mu.Unlock()
	if !muted {
		t.Error("recorder not muted")
	}
}

func TestSession_FinishPracticeReportsCoverage(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitStatus(t, f.statuses, StatusListening)

	f.transport.emit(live.Event{Type: live.EventInputTranscript, Text: "un cafe por favor"})
	waitLines(t, f.lines)

	report := f.sess.FinishPractice()
	if want := []string{"café"}; len(report.Used) != 1 || report.Used[0] != want[0] {
		t.Errorf("used = %v; want %v", report.Used, want)
	}
	if want := []string{"gracias"}; len(report.Missed) != 1 || report.Missed[0] != want[0] {
		t.Errorf("missed = %v; want %v", report.Missed, want)
	}
}

// ── End-to-end against a mock transport server ────────────────────────────────

func TestSession_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Consume the setup frame.
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}

		write := func(v any) {
			data, _ := json.Marshal(v)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		write(map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Hola, bienvenido"},
		}})
		write(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{map[string]any{
				"inlineData": map[string]any{
					"data":     base64.StdEncoding.EncodeToString([]byte{0x10, 0x00, 0x20, 0x00}),
					"mimeType": "audio/pcm;rate=24000",
				},
			}}},
		}})
		write(map[string]any{"serverContent": map[string]any{"turnComplete": true}})

		// Hold the connection open until the client closes it.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)

	provider := live.New("test-key",
		live.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))

	recorder := &fakeRecorder{}
	player := &fakePlayer{}
	statuses := make(chan Status, 32)
	lines := make(chan [2]string, 32)

	sess := NewSession(Config{
		Dial:        Dial(provider),
		NewRecorder: func(capture.Sender) Recorder { return recorder },
		Player:      player,
		Lesson:      testLesson(),
		Language:    "Spanish",
	})
	sess.OnStatus(func(s Status) { statuses <- s })
	sess.OnTranscript(func(tutorLine, studentLine string) {
		lines <- [2]string{tutorLine, studentLine}
	})

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sess.Exit()
		_ = sess.Wait()
	})

	waitStatus(t, statuses, StatusListening)
	got := waitLines(t, lines)
	if got[0] != "Hola, bienvenido" {
		t.Errorf("tutor line = %q", got[0])
	}
	waitStatus(t, statuses, StatusSpeaking)

	deadline := time.After(3 * time.Second)
	for player.scheduledCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for scheduled audio")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Package tutor orchestrates a live language-tutoring session: it owns the
// realtime transport, the microphone capture pipeline, and the playback
// scheduler, and drives the observable session state from transport events.
//
// The state transitions themselves are a pure function ([Apply], [Drained])
// over [State], so the conversational logic is testable without a microphone
// or a network connection.
package tutor

import "github.com/gamerzmahi07-prog/Language-Learn/pkg/provider/live"

// Status is the observable lifecycle phase of a tutoring session.
type Status int

const (
	// StatusConnecting means the transport is being dialled; the microphone
	// is not yet capturing.
	StatusConnecting Status = iota

	// StatusListening means the session is live and waiting for the student
	// to speak.
	StatusListening

	// StatusSpeaking means tutor audio is scheduled or playing.
	StatusSpeaking

	// StatusError means the session failed and was torn down. Terminal.
	StatusError

	// StatusClosed means the session ended normally. Terminal.
	StatusClosed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is the observable session state: the lifecycle phase plus the
// transcript lines of the current conversational turn.
type State struct {
	Status Status

	// TutorLine accumulates the tutor's speech transcript for the current
	// turn. StudentLine accumulates the student's.
	TutorLine   string
	StudentLine string

	// turnDone marks that the model finished a response turn; the first
	// content of the next turn clears both transcript lines.
	turnDone bool
}

// Apply returns the state after one transport event. Error and Closed are
// absorbing: once reached, further events change nothing.
func Apply(s State, ev live.Event) State {
	if s.Status == StatusError || s.Status == StatusClosed {
		return s
	}
	switch ev.Type {
	case live.EventAudio:
		s = freshTurn(s)
		s.Status = StatusSpeaking
	case live.EventOutputTranscript:
		s = freshTurn(s)
		s.TutorLine += ev.Text
	case live.EventInputTranscript:
		s = freshTurn(s)
		s.StudentLine += ev.Text
	case live.EventTurnComplete:
		s.turnDone = true
	case live.EventInterrupted:
		// Barge-in: the student spoke over the tutor. Playback is flushed
		// by the session; here the transcripts reset and we go back to
		// listening.
		s.TutorLine, s.StudentLine = "", ""
		s.turnDone = false
		s.Status = StatusListening
	case live.EventError:
		s.Status = StatusError
	case live.EventClosed:
		s.Status = StatusClosed
	}
	return s
}

// Drained returns the state after all scheduled tutor audio finished playing.
func Drained(s State) State {
	if s.Status == StatusSpeaking {
		s.Status = StatusListening
	}
	return s
}

// freshTurn clears the transcript lines when the previous turn completed.
func freshTurn(s State) State {
	if s.turnDone {
		s.TutorLine, s.StudentLine = "", ""
		s.turnDone = false
	}
	return s
}

package capture

import (
	"fmt"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
)

// systemMic adapts a portaudio-backed microphone stream to the [Mic]
// interface. Closing it also terminates the portaudio runtime.
type systemMic struct {
	stream *microphone.Streamer
}

// OpenMicrophone acquires the default system microphone as a mono stream at
// the given sample rate. Returns [ErrCaptureUnavailable] when no input
// device can be opened; the caller must treat that as fatal to session
// start-up.
func OpenMicrophone(sampleRate int) (Mic, error) {
	if err := microphone.Init(); err != nil {
		return nil, fmt.Errorf("%w: init: %v", ErrCaptureUnavailable, err)
	}
	stream, _, err := microphone.OpenDefaultStream(beep.SampleRate(sampleRate), 1)
	if err != nil {
		_ = microphone.Terminate()
		return nil, fmt.Errorf("%w: open stream: %v", ErrCaptureUnavailable, err)
	}
	return &systemMic{stream: stream}, nil
}

func (m *systemMic) Start() error { return m.stream.Start() }

func (m *systemMic) Stream(samples [][2]float64) (int, bool) {
	return m.stream.Stream(samples)
}

func (m *systemMic) Stop() error { return m.stream.Stop() }

func (m *systemMic) Close() error {
	err := m.stream.Close()
	if terr := microphone.Terminate(); terr != nil && err == nil {
		err = terr
	}
	return err
}

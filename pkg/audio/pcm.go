package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedAudio indicates PCM data that cannot be decoded, e.g. a
	// byte buffer of odd length. The offending chunk should be dropped; the
	// session continues.
	ErrMalformedAudio = errors.New("audio: malformed PCM data")

	// ErrTransportText indicates a transport text payload that is not valid
	// for the byte↔text mapping. Under correct input this is unreachable and
	// signals a protocol-level defect.
	ErrTransportText = errors.New("audio: invalid transport text")
)

// EncodeFloatPCM16 converts normalised float samples in [-1, 1] to 16-bit
// signed little-endian PCM. Each sample is scaled by 32768 and truncated.
// Out-of-range input is not clamped: it wraps, matching the behaviour of the
// capture stack this codec interoperates with. The int32 hop keeps the
// wraparound deterministic across platforms.
func EncodeFloatPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM to normalised float
// samples. Each sample pair is divided by 32768.0. Returns
// [ErrMalformedAudio] when the byte length is odd.
func DecodePCM16(pcm []byte) ([]float64, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedAudio, len(pcm))
	}
	out := make([]float64, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(s) / 32768.0
	}
	return out, nil
}

// EncodeTransportText maps raw bytes to the transport-safe text encoding used
// for audio payloads on the wire. The mapping is lossless for all byte values.
func EncodeTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeTransportText reverses [EncodeTransportText]. Returns
// [ErrTransportText] when the input is not a valid encoding.
func DecodeTransportText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportText, err)
	}
	return b, nil
}

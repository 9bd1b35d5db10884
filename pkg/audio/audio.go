// Package audio provides the PCM primitives shared by the voice-tutor
// pipeline: conversion between normalised float samples and 16-bit signed
// little-endian PCM, the transport text encoding used on the wire, and the
// [Frame] type that carries audio between the capture, transport and
// playback stages.
package audio

import (
	"fmt"
	"time"
)

// Standard sample rates for a tutor session. The capture leg sends 16 kHz
// mono PCM to the model; the model synthesises speech at 24 kHz.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// Frame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the
// microphone, encoded for the transport session, and decoded for scheduled
// playback. Frames are ephemeral and never persisted.
type Frame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono. The tutor pipeline is mono end to end, but the
	// field is carried so that misconfigured sources are detectable.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// MimeType returns the transport MIME tag for the frame, e.g.
// "audio/pcm;rate=16000".
func (f Frame) MimeType() string {
	return PCMMimeType(f.SampleRate)
}

// PCMDuration returns the duration of byteLen bytes of int16 PCM at the given
// sample rate and channel count. Returns zero for non-positive rates or
// channel counts.
func PCMDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// PCMMimeType returns the MIME tag declaring raw PCM at the given sample
// rate, in the form the live transport expects.
func PCMMimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

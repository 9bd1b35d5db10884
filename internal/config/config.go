// Package config provides the configuration schema, loader, and file watcher
// for the voice tutor.
package config

import (
	"log/slog"

	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding [slog.Level]. Unrecognised values
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the voice tutor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Audio    AudioConfig    `yaml:"audio"`
	Lesson   LessonConfig   `yaml:"lesson"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics and /healthz.
	// Empty disables the telemetry endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderConfig configures the realtime speech provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider API. When empty, the
	// GEMINI_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// Model overrides the default realtime model.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Voice selects the tutor's speech voice (e.g., "Zephyr").
	Voice string `yaml:"voice"`
}

// AudioConfig holds sample-rate and framing settings for the audio path.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Default: 16000.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in Hz. Default: 24000.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSize is the number of samples per captured frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`
}

// LessonConfig selects the lesson content for the session.
type LessonConfig struct {
	// Path is the lesson YAML file. Required.
	Path string `yaml:"path"`

	// Language is the language being taught, e.g. "Spanish".
	Language string `yaml:"language"`
}

// HistoryConfig configures the practice-history store.
type HistoryConfig struct {
	// Path is the JSON-lines file recording past practice sessions.
	// Empty disables history.
	Path string `yaml:"path"`
}

// Default returns a config populated with all default values. The lesson
// path is left empty and must be supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.CaptureRate == 0 {
		c.Audio.CaptureRate = audio.CaptureRate
	}
	if c.Audio.PlaybackRate == 0 {
		c.Audio.PlaybackRate = audio.PlaybackRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = 4096
	}
	if c.Lesson.Language == "" {
		c.Lesson.Language = "Spanish"
	}
}

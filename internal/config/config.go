// Package config provides the configuration schema, loader, and component
// registry for the voxslice server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

// LogLevel controls log verbosity for the voxslice server.
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

// SlogLevel maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
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

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultSampleRate        = 48000
	DefaultFrameSize         = 128
	DefaultVAD               = "energy"
	DefaultSilenceThreshold  = 0.01
	DefaultSilenceDuration   = 500 * time.Millisecond
	DefaultMinSpeechDuration = 300 * time.Millisecond
	DefaultMessageBuffer     = 32
	DefaultCodec             = "pcm"
	DefaultChannels          = 1
	DefaultMaxRetained       = 256
	DefaultServiceName       = "voxslice"
)

// Config is the root configuration structure for voxslice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Segments  SegmentsConfig  `yaml:"segments"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied live on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the PCM clients stream to the server.
type AudioConfig struct {
	// SampleRate of incoming audio in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the segmenter frame length in samples.
	FrameSize int `yaml:"frame_size"`
}

// SegmenterConfig tunes utterance detection.
type SegmenterConfig struct {
	// VAD selects the registered engine. Only "energy" is built in.
	VAD string `yaml:"vad"`

	// SilenceThreshold is the RMS energy at or below which a frame is silent.
	// Zero or omitted means DefaultSilenceThreshold.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is the trailing silence that closes an utterance.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// MinSpeechDuration is the minimum time since onset before an utterance
	// may close.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// PreRoll bounds the audio kept before onset. Zero keeps everything
	// since the previous utterance.
	PreRoll time.Duration `yaml:"pre_roll"`

	// MessageBuffer is the per-stream sentence queue depth.
	MessageBuffer int `yaml:"message_buffer"`
}

// RecorderConfig selects how extractor slots are stored.
type RecorderConfig struct {
	// Codec selects the registered slot codec: "pcm" or "opus".
	Codec string `yaml:"codec"`

	// Channels is the recording channel count.
	Channels int `yaml:"channels"`

	// Bitrate in bits per second for lossy codecs. Zero keeps the codec
	// default.
	Bitrate int `yaml:"bitrate"`
}

// SegmentsConfig bounds the segment handle store.
type SegmentsConfig struct {
	// MaxRetained is how many segments are kept before the oldest is evicted.
	MaxRetained int `yaml:"max_retained"`
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	// ServiceName is reported on all metrics and spans.
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = DefaultFrameSize
	}
	if c.Segmenter.VAD == "" {
		c.Segmenter.VAD = DefaultVAD
	}
	if c.Segmenter.SilenceThreshold == 0 {
		c.Segmenter.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.Segmenter.SilenceDuration == 0 {
		c.Segmenter.SilenceDuration = DefaultSilenceDuration
	}
	if c.Segmenter.MinSpeechDuration == 0 {
		c.Segmenter.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.Segmenter.MessageBuffer == 0 {
		c.Segmenter.MessageBuffer = DefaultMessageBuffer
	}
	if c.Recorder.Codec == "" {
		c.Recorder.Codec = DefaultCodec
	}
	if c.Recorder.Channels == 0 {
		c.Recorder.Channels = DefaultChannels
	}
	if c.Segments.MaxRetained == 0 {
		c.Segments.MaxRetained = DefaultMaxRetained
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// VADConfig returns the session configuration for new segmenters.
func (c *Config) VADConfig() vad.Config {
	return vad.Config{
		SampleRate:        c.Audio.SampleRate,
		FrameSize:         c.Audio.FrameSize,
		SilenceThreshold:  c.Segmenter.SilenceThreshold,
		SilenceDuration:   c.Segmenter.SilenceDuration,
		MinSpeechDuration: c.Segmenter.MinSpeechDuration,
		PreRoll:           c.Segmenter.PreRoll,
	}
}

// RecordFormat returns the format extractor slots record in.
func (c *Config) RecordFormat() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Recorder.Channels}
}

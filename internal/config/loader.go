package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidComponentNames lists the built-in component names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"vad":   {"energy"},
	"codec": {"pcm", "opus"},
}

// opusRates lists the sample rates the opus codec accepts.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default config.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is [LoadFromReader] over an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate expects defaults to have been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// Segmenter
	seg := cfg.Segmenter
	validateComponentName("vad", seg.VAD)
	if seg.SilenceThreshold < 0 || seg.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold %g is out of range [0, 1]", seg.SilenceThreshold))
	}
	if seg.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_duration %s must not be negative", seg.SilenceDuration))
	}
	if seg.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_duration %s must not be negative", seg.MinSpeechDuration))
	}
	if seg.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll %s must not be negative", seg.PreRoll))
	}
	if seg.MessageBuffer < 0 {
		errs = append(errs, fmt.Errorf("segmenter.message_buffer %d must not be negative", seg.MessageBuffer))
	}
	if seg.PreRoll == 0 {
		slog.Debug("segmenter.pre_roll is 0; idle audio is buffered until the next utterance closes")
	}

	// Recorder
	rec := cfg.Recorder
	validateComponentName("codec", rec.Codec)
	if rec.Channels != 1 && rec.Channels != 2 {
		errs = append(errs, fmt.Errorf("recorder.channels %d is invalid; valid values: 1, 2", rec.Channels))
	}
	if rec.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("recorder.bitrate %d must not be negative", rec.Bitrate))
	}
	if rec.Codec == "opus" && !slices.Contains(opusRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("recorder.codec opus requires audio.sample_rate in %v, got %d", opusRates, cfg.Audio.SampleRate))
	}
	if rec.Codec == "opus" {
		slog.Warn("recorder.codec is opus; extracted segments are lossy and not sample-exact")
	}

	// Segments
	if cfg.Segments.MaxRetained < 0 {
		errs = append(errs, fmt.Errorf("segments.max_retained %d must not be negative", cfg.Segments.MaxRetained))
	}

	return errors.Join(errs...)
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxslice/internal/config"
	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxslice/pkg/provider/vad/mock"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
audio:
  sample_rate: 16000
  frame_size: 160
segmenter:
  vad: energy
  silence_threshold: 0.02
  silence_duration: 400ms
  min_speech_duration: 250ms
  pre_roll: 200ms
  message_buffer: 8
recorder:
  codec: opus
  channels: 2
  bitrate: 32000
segments:
  max_retained: 16
telemetry:
  service_name: voxslice-test
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Segmenter.SilenceDuration != 400*time.Millisecond {
		t.Errorf("silence_duration: got %s, want 400ms", cfg.Segmenter.SilenceDuration)
	}
	if cfg.Segmenter.PreRoll != 200*time.Millisecond {
		t.Errorf("pre_roll: got %s, want 200ms", cfg.Segmenter.PreRoll)
	}
	if cfg.Recorder.Codec != "opus" || cfg.Recorder.Channels != 2 || cfg.Recorder.Bitrate != 32000 {
		t.Errorf("recorder: got %+v", cfg.Recorder)
	}
	if cfg.Segments.MaxRetained != 16 {
		t.Errorf("max_retained: got %d, want 16", cfg.Segments.MaxRetained)
	}
	if cfg.Telemetry.ServiceName != "voxslice-test" {
		t.Errorf("service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}

	want := vad.Config{
		SampleRate:        config.DefaultSampleRate,
		FrameSize:         config.DefaultFrameSize,
		SilenceThreshold:  config.DefaultSilenceThreshold,
		SilenceDuration:   config.DefaultSilenceDuration,
		MinSpeechDuration: config.DefaultMinSpeechDuration,
	}
	if got := cfg.VADConfig(); got != want {
		t.Errorf("VADConfig() = %+v, want %+v", got, want)
	}
	if got := cfg.RecordFormat(); got.SampleRate != 48000 || got.Channels != 1 {
		t.Errorf("RecordFormat() = %+v, want 48000 Hz mono", got)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Recorder.Codec != "pcm" {
		t.Errorf("codec: got %q, want pcm", cfg.Recorder.Codec)
	}
	if cfg.Segmenter.MessageBuffer != config.DefaultMessageBuffer {
		t.Errorf("message_buffer: got %d", cfg.Segmenter.MessageBuffer)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("segmenter:\n  silense_threshold: 0.1\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/voxslice.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateVAD(config.SegmenterConfig{VAD: "silero"}); !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Errorf("CreateVAD: err = %v, want ErrComponentNotRegistered", err)
	}
	if _, err := reg.CreateCodec(config.RecorderConfig{Codec: "flac"}); !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Errorf("CreateCodec: err = %v, want ErrComponentNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	engine := &vadmock.Engine{}
	reg.RegisterVAD("mock", func(config.SegmenterConfig) (vad.Engine, error) { return engine, nil })
	reg.RegisterCodec("pcm", func(config.RecorderConfig) (extract.Codec, error) { return extract.PCMCodec{}, nil })

	got, err := reg.CreateVAD(config.SegmenterConfig{VAD: "mock"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if got != engine {
		t.Error("CreateVAD returned a different engine")
	}
	codec, err := reg.CreateCodec(config.RecorderConfig{Codec: "pcm"})
	if err != nil {
		t.Fatalf("CreateCodec: %v", err)
	}
	if codec.Name() != "pcm" {
		t.Errorf("codec name = %q, want pcm", codec.Name())
	}
	if names := reg.Names("vad"); len(names) != 1 || names[0] != "mock" {
		t.Errorf("Names(vad) = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterCodec("bad", func(config.RecorderConfig) (extract.Codec, error) { return nil, boom })

	if _, err := reg.CreateCodec(config.RecorderConfig{Codec: "bad"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}

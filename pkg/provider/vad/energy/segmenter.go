// Package energy provides a VAD engine that classifies frames by RMS energy
// and cuts the stream into utterances.
//
// The [Segmenter] is the whole algorithm: a frame louder than the silence
// threshold opens (or extends) a speech run, every frame is buffered so the
// onset is never clipped, and once enough trailing silence follows enough
// speech the buffered samples are emitted as one [vad.Utterance]. [Engine]
// exposes the Segmenter through the [vad.Engine] interface.
package energy

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

// Defaults applied to zero-valued [vad.Config] fields.
const (
	DefaultSampleRate        = 48000
	DefaultFrameSize         = 128
	DefaultSilenceThreshold  = 0.01
	DefaultSilenceDuration   = 500 * time.Millisecond
	DefaultMinSpeechDuration = 300 * time.Millisecond
)

// State is a snapshot of a Segmenter's counters.
type State struct {
	SilenceRunFrames int
	SpeechRunFrames  int
	Speaking         bool
	Buffered         int
}

// Segmenter tracks speech and silence runs over fixed-size frames. It is
// meant to live on the audio callback goroutine: ProcessFrame never blocks and
// only allocates when the sample buffer grows or an utterance is emitted.
//
// Not safe for concurrent use.
type Segmenter struct {
	frameSize      int
	sampleRate     float64
	threshold      float64
	silenceSecs    float64
	minSpeechSecs  float64
	preRollSamples int

	silenceRunFrames int
	speechRunFrames  int
	speaking         bool
	samples          []float32
	lastEnergy       float64
}

// WithDefaults returns cfg with every zero field replaced by its default. A
// zero SilenceThreshold is therefore never used as-is.
func WithDefaults(cfg vad.Config) vad.Config {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	return cfg
}

// Validate reports configuration values the segmenter cannot work with.
func Validate(cfg vad.Config) error {
	switch {
	case cfg.SampleRate < 0:
		return fmt.Errorf("energy: sample rate %d must be positive", cfg.SampleRate)
	case cfg.FrameSize < 0:
		return fmt.Errorf("energy: frame size %d must be positive", cfg.FrameSize)
	case cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1:
		return fmt.Errorf("energy: silence threshold %g is out of range [0, 1]", cfg.SilenceThreshold)
	case cfg.SilenceDuration < 0:
		return fmt.Errorf("energy: silence duration %s must not be negative", cfg.SilenceDuration)
	case cfg.MinSpeechDuration < 0:
		return fmt.Errorf("energy: min speech duration %s must not be negative", cfg.MinSpeechDuration)
	case cfg.PreRoll < 0:
		return fmt.Errorf("energy: pre-roll %s must not be negative", cfg.PreRoll)
	}
	return nil
}

// NewSegmenter creates a Segmenter in the idle state. Zero config fields take
// their defaults.
func NewSegmenter(cfg vad.Config) (*Segmenter, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg = WithDefaults(cfg)
	s := &Segmenter{
		frameSize:     cfg.FrameSize,
		sampleRate:    float64(cfg.SampleRate),
		threshold:     cfg.SilenceThreshold,
		silenceSecs:   cfg.SilenceDuration.Seconds(),
		minSpeechSecs: cfg.MinSpeechDuration.Seconds(),
	}
	if cfg.PreRoll > 0 {
		s.preRollSamples = int(cfg.PreRoll.Seconds() * s.sampleRate)
	}
	return s, nil
}

// RMS returns the root-mean-square of frame, or 0 for an empty frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// ProcessFrame consumes one frame and returns an utterance when the frame
// closes a speech run.
//
// The silence counter is intentionally left untouched when an utterance
// closes. With speaking cleared it cannot trigger another emission, and the
// next loud frame resets it.
func (s *Segmenter) ProcessFrame(frame []float32) (vad.Utterance, bool) {
	energy := RMS(frame)
	s.lastEnergy = energy

	if energy > s.threshold {
		s.silenceRunFrames = 0
		s.speechRunFrames++
		s.speaking = true
	} else {
		s.silenceRunFrames++
		if s.speaking {
			s.speechRunFrames++
		}
	}

	s.samples = append(s.samples, frame...)
	if !s.speaking && s.preRollSamples > 0 && len(s.samples) > s.preRollSamples {
		n := copy(s.samples, s.samples[len(s.samples)-s.preRollSamples:])
		s.samples = s.samples[:n]
	}

	silenceElapsed := s.elapsed(s.silenceRunFrames)
	speechElapsed := s.elapsed(s.speechRunFrames)

	if s.speaking && silenceElapsed >= s.silenceSecs && speechElapsed >= s.minSpeechSecs {
		out := make([]float32, len(s.samples))
		copy(out, s.samples)
		s.samples = s.samples[:0]
		s.speaking = false
		s.speechRunFrames = 0
		return vad.Utterance{Samples: out, Duration: speechElapsed}, true
	}
	return vad.Utterance{}, false
}

// elapsed converts a frame count to seconds using the nominal frame size.
func (s *Segmenter) elapsed(frames int) float64 {
	return float64(frames*s.frameSize) / s.sampleRate
}

// Speaking reports whether a speech run is open.
func (s *Segmenter) Speaking() bool { return s.speaking }

// LastEnergy returns the RMS energy of the most recent frame.
func (s *Segmenter) LastEnergy() float64 { return s.lastEnergy }

// State returns a snapshot of the counters.
func (s *Segmenter) State() State {
	return State{
		SilenceRunFrames: s.silenceRunFrames,
		SpeechRunFrames:  s.speechRunFrames,
		Speaking:         s.speaking,
		Buffered:         len(s.samples),
	}
}

// Reset returns the segmenter to its initial idle state, keeping buffer
// capacity.
func (s *Segmenter) Reset() {
	s.silenceRunFrames = 0
	s.speechRunFrames = 0
	s.speaking = false
	s.samples = s.samples[:0]
	s.lastEnergy = 0
}

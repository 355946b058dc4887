// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own counters and sample
// buffer, so multiple concurrent audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for a real-time audio callback. When a
// speech run closes, the event carries the complete [Utterance].
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"time"
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Zero values select the
// engine's defaults.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Default: 48000.
	SampleRate int

	// FrameSize is the number of samples per frame, fixed by the audio
	// callback granularity. Default: 128.
	FrameSize int

	// SilenceThreshold is the RMS energy at or below which a frame counts as
	// silence. Samples are normalised floats, so the range is [0, 1].
	// Zero means the default of 0.01; to treat any non-zero signal as speech,
	// use a tiny positive value such as 1e-9.
	SilenceThreshold float64

	// SilenceDuration is the trailing silence required to close an utterance.
	// Default: 500ms.
	SilenceDuration time.Duration

	// MinSpeechDuration is the minimum time since speech onset (trailing
	// silence included) before an utterance may close. Default: 300ms.
	MinSpeechDuration time.Duration

	// PreRoll, when positive, bounds the samples kept while no speech is open
	// to the most recent PreRoll worth. Zero keeps everything since the last
	// utterance.
	PreRoll time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of normalised mono samples and
	// returns the detection result. When the frame closes a speech run, the
	// returned event has Type [SpeechEnd] and a non-nil Utterance.
	//
	// This method is designed to be called synchronously in the audio
	// callback; it must not block.
	ProcessFrame(frame []float32) (Event, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrSessionClosed]. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept frames.
	//
	// Returns an error if the configuration is invalid (e.g., negative
	// threshold or sample rate).
	NewSession(cfg Config) (SessionHandle, error)
}

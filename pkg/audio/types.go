// Package audio holds the frame types, PCM conversions, and the WAV codec
// shared by the segmenter and the gapless extractor.
//
// Frames travel as little-endian int16 PCM ([AudioFrame]) because that is what
// the transport delivers. Everything downstream of the transport works on
// normalised float32 samples in [-1, 1]; use [PCMToFloat32] and [Float32ToPCM]
// at the boundary.
package audio

import "time"

// AudioFrame represents a single block of audio delivered by a stream source.
// Frames are immutable once sent on a channel and are consumed exactly once.
type AudioFrame struct {
	// PCM audio data, little-endian int16, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser capture, 16000 for telephony).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel carried by the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (2 * ch)
}

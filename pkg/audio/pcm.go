package audio

// PCMBuffer is decoded, planar audio: one float32 slice per channel plus the
// sample rate. It is an intermediate value; nothing retains it after the call
// that produced it returns.
type PCMBuffer struct {
	// Channels holds one sample slice per channel. All slices have the same
	// length.
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// NumChannels returns the channel count.
func (b PCMBuffer) NumChannels() int { return len(b.Channels) }

// Frames returns the number of samples per channel.
func (b PCMBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// DurationMs returns the buffer length in milliseconds.
func (b PCMBuffer) DurationMs() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) * 1000 / float64(b.SampleRate)
}

// Slice returns a copy of the sample range [start, end) of every channel.
// Bounds are clamped to the buffer, and start > end yields an empty buffer.
func (b PCMBuffer) Slice(start, end int) PCMBuffer {
	n := b.Frames()
	start = max(0, min(start, n))
	end = max(start, min(end, n))

	out := PCMBuffer{
		Channels:   make([][]float32, len(b.Channels)),
		SampleRate: b.SampleRate,
	}
	for ch, data := range b.Channels {
		seg := make([]float32, end-start)
		copy(seg, data[start:end])
		out.Channels[ch] = seg
	}
	return out
}

// Append extends every channel of b with the matching channel of other.
// Channel counts must match; a buffer with no channels adopts other's layout.
func (b *PCMBuffer) Append(other PCMBuffer) {
	if len(b.Channels) == 0 {
		b.Channels = make([][]float32, len(other.Channels))
		if b.SampleRate == 0 {
			b.SampleRate = other.SampleRate
		}
	}
	for ch := range b.Channels {
		if ch < len(other.Channels) {
			b.Channels[ch] = append(b.Channels[ch], other.Channels[ch]...)
		}
	}
}

// PCMBufferFromInt16 de-interleaves 16-bit samples into a PCMBuffer using the
// same scaling as [DecodeWAV]. Trailing samples that do not fill a whole
// frame are dropped.
func PCMBufferFromInt16(samples []int16, channels, sampleRate int) PCMBuffer {
	channels = max(channels, 1)
	frames := len(samples) / channels
	out := PCMBuffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			out.Channels[ch][i] = int16ToFloat(int(samples[i*channels+ch]))
		}
	}
	return out
}

package audio

// Framer cuts an arbitrary run of mono samples into fixed-size frames, the
// way an audio callback delivers one render quantum at a time. Samples that
// do not fill a complete frame stay buffered until the next Push.
//
// Not safe for concurrent use.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer returns a Framer that emits frames of exactly size samples.
// A non-positive size is treated as 128.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 128
	}
	return &Framer{size: size, pending: make([]float32, 0, size)}
}

// Size returns the frame length in samples.
func (f *Framer) Size() int { return f.size }

// Pending returns how many samples are waiting for a complete frame.
func (f *Framer) Pending() int { return len(f.pending) }

// Push appends samples and calls emit once per completed frame, in order.
// The slice passed to emit is reused after emit returns; callers that keep it
// must copy.
func (f *Framer) Push(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		need := f.size - len(f.pending)
		if len(f.pending) == 0 && len(samples) >= f.size {
			emit(samples[:f.size])
			samples = samples[f.size:]
			continue
		}
		n := min(need, len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			emit(f.pending)
			f.pending = f.pending[:0]
		}
	}
}

// Reset discards any buffered partial frame.
func (f *Framer) Reset() { f.pending = f.pending[:0] }

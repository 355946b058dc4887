package extract

// slot is one of the two recorders. Only the pump goroutine touches it.
type slot struct {
	enc     ChunkEncoder
	chunks  [][]byte
	samples int // per channel
	err     error
}

// snapshot is what an extraction takes away from a stopped slot.
type snapshot struct {
	chunks  [][]byte
	samples int
	startMs float64
}

func newSlot(enc ChunkEncoder) *slot {
	return &slot{enc: enc}
}

// write encodes interleaved pcm and returns how many samples per channel were
// kept. After the first encoder error the slot stops accepting audio, keeps
// returning 0, and reports the error when it is stopped.
func (s *slot) write(pcm []int16, channels int) int {
	if s.err != nil {
		return 0
	}
	chunks, err := s.enc.Encode(pcm)
	if err != nil {
		s.err = err
		return 0
	}
	n := len(pcm) / channels
	s.chunks = append(s.chunks, chunks...)
	s.samples += n
	return n
}

// stop flushes the encoder and hands over everything the slot recorded.
func (s *slot) stop() (snapshot, error) {
	if s.err == nil {
		tail, err := s.enc.Flush()
		if err != nil {
			s.err = err
		}
		s.chunks = append(s.chunks, tail...)
	}
	snap := snapshot{chunks: s.chunks, samples: s.samples}
	s.chunks = nil
	return snap, s.err
}

package extract

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxslice/pkg/audio"
)

// ErrMalformedChunk is returned by a ChunkDecoder for data it cannot parse.
var ErrMalformedChunk = errors.New("extract: malformed chunk")

// ChunkEncoder turns a slot's incoming PCM into encoded chunks. A new encoder
// is created every time a slot starts recording.
type ChunkEncoder interface {
	// Encode consumes interleaved int16 samples and returns any chunks that
	// are complete. Samples may be buffered internally until a chunk fills.
	Encode(pcm []int16) ([][]byte, error)

	// Flush returns the final chunks for everything still buffered. The
	// encoder is not used after Flush.
	Flush() ([][]byte, error)
}

// ChunkDecoder turns encoded chunks back into interleaved int16 samples.
// Chunks must be passed in the order they were produced.
type ChunkDecoder interface {
	Decode(chunk []byte) ([]int16, error)
}

// Codec creates the encoder used while recording a slot and the decoder used
// when a slot is extracted.
type Codec interface {
	// Name identifies the codec in configuration and metrics.
	Name() string

	NewEncoder(f audio.Format) (ChunkEncoder, error)
	NewDecoder(f audio.Format) (ChunkDecoder, error)
}

// PCMCodec stores slots as raw little-endian int16 chunks. It is lossless
// past the 16-bit quantisation of the input.
type PCMCodec struct{}

var _ Codec = PCMCodec{}

// Name implements [Codec].
func (PCMCodec) Name() string { return "pcm" }

// NewEncoder implements [Codec].
func (PCMCodec) NewEncoder(f audio.Format) (ChunkEncoder, error) {
	if err := validateFormat(f); err != nil {
		return nil, err
	}
	return pcmEncoder{}, nil
}

// NewDecoder implements [Codec].
func (PCMCodec) NewDecoder(f audio.Format) (ChunkDecoder, error) {
	if err := validateFormat(f); err != nil {
		return nil, err
	}
	return pcmDecoder{channels: f.Channels}, nil
}

type pcmEncoder struct{}

func (pcmEncoder) Encode(pcm []int16) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	return [][]byte{audio.Int16ToPCM(pcm)}, nil
}

func (pcmEncoder) Flush() ([][]byte, error) { return nil, nil }

type pcmDecoder struct{ channels int }

func (d pcmDecoder) Decode(chunk []byte) ([]int16, error) {
	if len(chunk)%(2*d.channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames",
			ErrMalformedChunk, len(chunk), d.channels)
	}
	return audio.PCMToInt16(chunk), nil
}

func validateFormat(f audio.Format) error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("extract: sample rate %d must be positive", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("extract: channel count %d must be positive", f.Channels)
	}
	return nil
}

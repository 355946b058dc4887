package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a readable
// 16-bit PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// wavHeader mirrors the canonical 44-byte header field by field.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV packs buf into a 16-bit linear PCM WAV container: a 44-byte
// header followed by interleaved little-endian samples. Each sample is clamped
// to [-1, 1] and quantised with [FloatToInt16].
//
// A buffer with no frames still produces a valid, playable (empty) file.
func EncodeWAV(buf PCMBuffer) []byte {
	channels := max(buf.NumChannels(), 1)
	frames := buf.Frames()
	dataSize := frames * channels * 2
	total := WAVHeaderSize + dataSize

	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(total - 8),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(buf.SampleRate),
		ByteRate:      uint32(buf.SampleRate * 2 * channels),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(total - WAVHeaderSize),
	}

	out := bytes.NewBuffer(make([]byte, 0, total))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(out, binary.LittleEndian, h)

	sample := make([]byte, 2)
	for i := range frames {
		for ch := range buf.NumChannels() {
			binary.LittleEndian.PutUint16(sample, uint16(FloatToInt16(buf.Channels[ch][i])))
			out.Write(sample)
		}
	}
	return out.Bytes()
}

// DecodeWAV reads a 16-bit PCM WAV file into a planar [PCMBuffer]. It is the
// inverse of [EncodeWAV] up to 16-bit quantisation.
func DecodeWAV(data []byte) (PCMBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCMBuffer{}, ErrInvalidWAV
	}
	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	return intBufferToPCM(ib)
}

// intBufferToPCM de-interleaves a go-audio IntBuffer holding 16-bit samples.
func intBufferToPCM(ib *goaudio.IntBuffer) (PCMBuffer, error) {
	if ib == nil || ib.Format == nil || ib.Format.NumChannels <= 0 {
		return PCMBuffer{}, ErrInvalidWAV
	}
	if ib.SourceBitDepth != 0 && ib.SourceBitDepth != 16 {
		return PCMBuffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, ib.SourceBitDepth)
	}
	channels := ib.Format.NumChannels
	frames := len(ib.Data) / channels
	out := PCMBuffer{
		Channels:   make([][]float32, channels),
		SampleRate: ib.Format.SampleRate,
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			out.Channels[ch][i] = int16ToFloat(ib.Data[i*channels+ch])
		}
	}
	return out, nil
}

// int16ToFloat inverts [FloatToInt16] exactly for in-range values.
func int16ToFloat(v int) float32 {
	if v < 0 {
		return float32(v) / 0x8000
	}
	return float32(v) / 0x7fff
}

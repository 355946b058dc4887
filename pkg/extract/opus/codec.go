// Package opus provides an Opus chunk codec for recorder slots.
//
// Each chunk is one 20 ms Opus packet. Opus is lossy and its decoder output
// lags the input by the codec's look-ahead, so segments cut from an Opus slot
// are close to, but not sample-exact with, the original stream.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/extract"
)

const (
	frameMs = 20

	// maxPacketBytes bounds a single encoded packet. 4000 bytes is the
	// recommended ceiling from the Opus encoder documentation.
	maxPacketBytes = 4000
)

// supportedRates lists the sample rates libopus accepts.
var supportedRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// Codec records slots as Opus packets. The zero value uses the general audio
// application mode.
type Codec struct {
	// Bitrate in bits per second. Zero leaves the libopus default.
	Bitrate int
}

var _ extract.Codec = Codec{}

// Name implements [extract.Codec].
func (Codec) Name() string { return "opus" }

// NewEncoder implements [extract.Codec].
func (c Codec) NewEncoder(f audio.Format) (extract.ChunkEncoder, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if c.Bitrate > 0 {
		enc.SetBitrate(c.Bitrate)
	}
	frame := f.SampleRate * frameMs / 1000
	return &encoder{
		enc:      enc,
		frame:    frame,
		channels: f.Channels,
		pending:  make([]int16, 0, frame*f.Channels),
	}, nil
}

// NewDecoder implements [extract.Codec].
func (Codec) NewDecoder(f audio.Format) (extract.ChunkDecoder, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &decoder{dec: dec, frame: f.SampleRate * frameMs / 1000}, nil
}

func validate(f audio.Format) error {
	if !supportedRates[f.SampleRate] {
		return fmt.Errorf("opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("opus: unsupported channel count %d", f.Channels)
	}
	return nil
}

// encoder buffers samples until a full 20 ms frame is available.
type encoder struct {
	enc      *gopus.Encoder
	frame    int // samples per channel per packet
	channels int
	pending  []int16
}

func (e *encoder) Encode(pcm []int16) ([][]byte, error) {
	var out [][]byte
	need := e.frame * e.channels
	for len(pcm) > 0 {
		n := min(need-len(e.pending), len(pcm))
		e.pending = append(e.pending, pcm[:n]...)
		pcm = pcm[n:]
		if len(e.pending) < need {
			break
		}
		pkt, err := e.enc.Encode(e.pending, e.frame, maxPacketBytes)
		if err != nil {
			return out, fmt.Errorf("opus: encode: %w", err)
		}
		out = append(out, pkt)
		e.pending = e.pending[:0]
	}
	return out, nil
}

// Flush pads the partial frame with silence and encodes it.
func (e *encoder) Flush() ([][]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	need := e.frame * e.channels
	padded := make([]int16, need)
	copy(padded, e.pending)
	e.pending = e.pending[:0]
	pkt, err := e.enc.Encode(padded, e.frame, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return [][]byte{pkt}, nil
}

type decoder struct {
	dec   *gopus.Decoder
	frame int
}

func (d *decoder) Decode(chunk []byte) ([]int16, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("%w: empty opus packet", extract.ErrMalformedChunk)
	}
	pcm, err := d.dec.Decode(chunk, d.frame, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedChunk, err)
	}
	return pcm, nil
}

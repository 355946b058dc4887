// Package extract records a live audio stream into two alternating slots so
// that any window of it can be cut out as a WAV segment at any moment without
// a gap in coverage.
//
// # Slot rotation
//
// A single pump goroutine owns both slots. On every extraction it starts the
// idle slot first and only then stops the active one, so no frame arrives
// while neither slot is recording. The stopped slot's chunks are handed to
// the caller, which decodes, clamps, slices, and encodes them on its own
// goroutine while the pump keeps recording into the new slot.
//
// The next extraction's time origin is the end of the window just extracted.
// Sequential, contiguous windows whose end is "now" therefore concatenate
// back into the original stream sample for sample (with a lossless codec).
//
// Time is measured in recorded samples, not wall-clock time.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/pkg/audio"
)

// ErrNotRecording is returned by extraction when no recording is running.
var ErrNotRecording = errors.New("extract: not recording")

// ErrEmptySnapshot is returned, wrapped as a decode failure, when the slot
// being extracted recorded no chunks at all.
var ErrEmptySnapshot = errors.New("extract: empty snapshot")

// DefaultURLPrefix is prepended to segment IDs to form [Segment.URL].
const DefaultURLPrefix = "/v1/segments/"

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithCodec sets the codec slots are recorded with. Default is [PCMCodec].
func WithCodec(c Codec) Option {
	return func(e *Extractor) { e.codec = c }
}

// WithFormat sets the recording format. Incoming frames are converted to it.
// Default is 48000 Hz mono.
func WithFormat(f audio.Format) Option {
	return func(e *Extractor) { e.format = f }
}

// WithStore sets where produced segments are registered. Default is a
// private [MemoryStore] with [DefaultMaxRetained] capacity.
func WithStore(s Store) Option {
	return func(e *Extractor) { e.store = s }
}

// WithMetrics records extraction latency, segment counts, and failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithURLPrefix overrides [DefaultURLPrefix].
func WithURLPrefix(p string) Option {
	return func(e *Extractor) { e.urlPrefix = p }
}

// WithStreamID labels log lines with the owning stream.
func WithStreamID(id string) Option {
	return func(e *Extractor) { e.streamID = id }
}

// Extractor is a gapless segment recorder for one audio stream.
//
// All methods are safe for concurrent use. Extractions are serialised by the
// pump; windows are meant to be requested in order.
type Extractor struct {
	codec     Codec
	format    audio.Format
	store     Store
	metrics   *observe.Metrics
	urlPrefix string
	streamID  string

	rotate chan rotateRequest
	clock  atomic.Int64 // samples per channel since recording started

	mu        sync.Mutex
	recording bool
	stop      chan struct{}
	done      chan struct{}

	producedMu sync.Mutex
	produced   []string
}

type rotateRequest struct {
	endMs float64
	toNow bool
	reply chan rotateResult
}

type rotateResult struct {
	snap  snapshot
	endMs float64
	err   error
}

// New returns an idle Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		codec:     PCMCodec{},
		format:    audio.Format{SampleRate: 48000, Channels: 1},
		urlPrefix: DefaultURLPrefix,
		rotate:    make(chan rotateRequest),
	}
	for _, o := range opts {
		o(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore(DefaultMaxRetained)
	}
	return e
}

// Codec returns the slot codec.
func (e *Extractor) Codec() Codec { return e.codec }

// Format returns the recording format.
func (e *Extractor) Format() audio.Format { return e.format }

// Recording reports whether a recording is running.
func (e *Extractor) Recording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Position returns how many milliseconds have been recorded since
// [Extractor.StartLocalRecording].
func (e *Extractor) Position() float64 {
	return samplesToMs(int(e.clock.Load()), e.format.SampleRate)
}

// StartLocalRecording begins recording src into slot 0. The moment it is
// called is t=0 for extraction bounds. Calling it while already recording
// does nothing.
//
// The extractor only reads from src. If src is closed the recording stays
// active and extractions keep working on what was captured.
func (e *Extractor) StartLocalRecording(src <-chan audio.AudioFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recording {
		return nil
	}

	enc, err := e.codec.NewEncoder(e.format)
	if err != nil {
		return fmt.Errorf("extract: start %s encoder: %w", e.codec.Name(), err)
	}
	e.clock.Store(0)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.recording = true
	go e.pump(src, newSlot(enc), e.stop, e.done)

	slog.Debug("extract: recording started",
		"stream_id", e.streamID, "codec", e.codec.Name(), "format", e.format.String())
	return nil
}

// StopLocalRecording stops every active slot and discards unextracted
// audio. It is idempotent.
func (e *Extractor) StopLocalRecording() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recording {
		return
	}
	close(e.stop)
	<-e.done
	e.recording = false
	slog.Debug("extract: recording stopped", "stream_id", e.streamID, "position_ms", e.Position())
}

// ExtractSegment cuts [startMs, endMs) out of the recording, measured from
// the start of recording, and registers the result in the store.
//
// Bounds outside what the current slot holds are clamped, never rejected; the
// returned segment may be shorter than requested or empty. ctx only bounds the
// wait for the slot rotation. Once the rotation has happened the segment is
// always finished.
func (e *Extractor) ExtractSegment(ctx context.Context, startMs, endMs float64) (*Segment, error) {
	return e.extract(ctx, startMs, rotateRequest{endMs: endMs})
}

// ExtractUntilNow is ExtractSegment with the end set to the current recording
// position at the instant of rotation. Chaining calls with the previous
// segment's EndMs as start yields a gapless sequence of segments.
func (e *Extractor) ExtractUntilNow(ctx context.Context, startMs float64) (*Segment, error) {
	return e.extract(ctx, startMs, rotateRequest{toNow: true})
}

func (e *Extractor) extract(ctx context.Context, startMs float64, req rotateRequest) (*Segment, error) {
	ctx, span := observe.StartSpan(observe.WithStreamID(ctx, e.streamID), observe.SpanExtractSegment,
		trace.WithAttributes(observe.AttrCodec.String(e.codec.Name())))
	defer span.End()
	began := time.Now()

	res, err := e.requestRotation(ctx, req)
	if err != nil {
		e.fail(ctx, span, reasonOf(err), err)
		return nil, err
	}
	span.SetAttributes(
		observe.AttrStartMs.Float64(startMs),
		observe.AttrEndMs.Float64(res.endMs),
		observe.AttrSlotStartMs.Float64(res.snap.startMs),
	)

	buf, err := e.decode(res.snap)
	if err != nil {
		err = fmt.Errorf("extract: decode: %w", err)
		e.fail(ctx, span, "decode", err)
		return nil, err
	}

	total := buf.DurationMs()
	clampedEnd := math.Min(res.endMs-res.snap.startMs, total)
	clampedStart := math.Max(0, math.Min(startMs-res.snap.startMs, clampedEnd))
	cut := buf.Slice(
		msToSamples(clampedStart, buf.SampleRate),
		msToSamples(clampedEnd, buf.SampleRate),
	)

	seg := &Segment{
		ID:         uuid.NewString(),
		StartMs:    startMs,
		EndMs:      res.endMs,
		DurationMs: cut.DurationMs(),
		Codec:      e.codec.Name(),
		WAV:        audio.EncodeWAV(cut),
		CreatedAt:  time.Now(),
	}
	seg.URL = e.urlPrefix + seg.ID
	if err := e.store.Put(seg); err != nil {
		err = fmt.Errorf("extract: register segment: %w", err)
		e.fail(ctx, span, "store", err)
		return nil, err
	}
	e.producedMu.Lock()
	e.produced = append(e.produced, seg.ID)
	e.producedMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSegment(ctx, seg.Codec, time.Since(began).Seconds())
	}
	observe.Logger(ctx).Debug("extract: segment produced",
		"id", seg.ID,
		"start_ms", startMs,
		"end_ms", res.endMs,
		"duration_ms", seg.DurationMs,
		"bytes", len(seg.WAV),
	)
	return seg, nil
}

// requestRotation hands a rotation to the pump and waits for the snapshot.
func (e *Extractor) requestRotation(ctx context.Context, req rotateRequest) (rotateResult, error) {
	e.mu.Lock()
	recording, done := e.recording, e.done
	e.mu.Unlock()
	if !recording {
		return rotateResult{}, ErrNotRecording
	}

	req.reply = make(chan rotateResult, 1)
	select {
	case e.rotate <- req:
	case <-done:
		return rotateResult{}, ErrNotRecording
	case <-ctx.Done():
		return rotateResult{}, ctx.Err()
	}
	// The pump always answers an accepted request.
	res := <-req.reply
	if res.err != nil {
		return res, fmt.Errorf("extract: rotate slots: %w", res.err)
	}
	return res, nil
}

// decode turns a snapshot back into PCM with a decoder private to this call.
func (e *Extractor) decode(snap snapshot) (audio.PCMBuffer, error) {
	if len(snap.chunks) == 0 {
		return audio.PCMBuffer{}, ErrEmptySnapshot
	}
	dec, err := e.codec.NewDecoder(e.format)
	if err != nil {
		return audio.PCMBuffer{}, err
	}
	var pcm []int16
	for i, chunk := range snap.chunks {
		samples, err := dec.Decode(chunk)
		if err != nil {
			return audio.PCMBuffer{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		pcm = append(pcm, samples...)
	}
	// Block codecs pad the final chunk; drop anything past what was recorded.
	if limit := snap.samples * e.format.Channels; len(pcm) > limit {
		pcm = pcm[:limit]
	}
	return audio.PCMBufferFromInt16(pcm, e.format.Channels, e.format.SampleRate), nil
}

func (e *Extractor) fail(ctx context.Context, span trace.Span, reason string, err error) {
	observe.FailSpan(span, reason, err)
	if e.metrics != nil {
		e.metrics.RecordExtractError(ctx, reason)
	}
	observe.Logger(ctx).Warn("extract: extraction failed", "reason", reason, "err", err)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrNotRecording):
		return "not_recording"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "rotate"
	}
}

// Produced returns the IDs of every segment this extractor registered and
// has not cleaned up, oldest first.
func (e *Extractor) Produced() []string {
	e.producedMu.Lock()
	defer e.producedMu.Unlock()
	return slices.Clone(e.produced)
}

// Cleanup revokes every produced segment from the store and returns how many
// were still present.
func (e *Extractor) Cleanup() int {
	e.producedMu.Lock()
	ids := e.produced
	e.produced = nil
	e.producedMu.Unlock()

	n := 0
	for _, id := range ids {
		if e.store.Revoke(id) {
			n++
		}
	}
	return n
}

// pump owns both slots. It records frames into the active slot and performs
// rotations until stop is closed.
func (e *Extractor) pump(src <-chan audio.AudioFrame, first *slot, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	conv := audio.FormatConverter{Target: e.format}
	channels := e.format.Channels
	var slots [2]*slot
	active := 0
	slots[active] = first
	slotStartMs := 0.0

	for {
		select {
		case <-stop:
			if _, err := slots[active].stop(); err != nil {
				slog.Warn("extract: slot failed before stop", "stream_id", e.streamID, "err", err)
			}
			return

		case frame, ok := <-src:
			if !ok {
				src = nil
				continue
			}
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			pcm := audio.PCMToInt16(frame.Data)
			// The clock only counts audio a slot actually kept.
			if n := slots[active].write(pcm, channels); n > 0 {
				e.clock.Add(int64(n))
			}

		case req := <-e.rotate:
			next := 1 - active

			// Start the idle slot before the active one stops.
			enc, err := e.codec.NewEncoder(e.format)
			if err != nil {
				req.reply <- rotateResult{err: err}
				continue
			}
			slots[next] = newSlot(enc)

			snap, err := slots[active].stop()
			snap.startMs = slotStartMs
			endMs := req.endMs
			if req.toNow {
				endMs = samplesToMs(int(e.clock.Load()), e.format.SampleRate)
			}

			slotStartMs = endMs
			slots[active] = nil
			active = next
			req.reply <- rotateResult{snap: snap, endMs: endMs, err: err}
		}
	}
}

func msToSamples(ms float64, rate int) int {
	return int(math.Round(ms * float64(rate) / 1000))
}

func samplesToMs(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) * 1000 / float64(rate)
}

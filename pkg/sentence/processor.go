// Package sentence hosts a VAD session on the real-time audio path and hands
// each detected utterance to a consumer as a [Message].
//
// The producer side ([Processor.Process], [Processor.Write]) is meant to run on
// the audio callback goroutine and never blocks. Messages travel through a
// bounded channel in emission order. When the consumer falls behind and the
// channel is full, the newest message is dropped and counted instead of
// stalling the audio path.
package sentence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

// TypeSentence is the Type of every [Message].
const TypeSentence = "sentence"

// defaultBuffer is the default capacity of the message channel.
const defaultBuffer = 32

// ErrClosed is returned by Process and Write after Close.
var ErrClosed = errors.New("sentence: processor closed")

// Message is one detected utterance in the wire shape consumers expect.
type Message struct {
	// Type is always "sentence".
	Type string `json:"type"`

	// Audio holds the utterance samples, normalised to [-1, 1].
	Audio []float32 `json:"audio"`

	// Duration is the utterance duration in seconds as reported by the
	// segmenter.
	Duration float64 `json:"duration"`
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithBuffer sets the capacity of the channel returned by
// [Processor.Messages]. Default is 32. Values below 1 are raised to 1.
func WithBuffer(n int) Option {
	return func(p *Processor) { p.bufSize = max(n, 1) }
}

// WithMetrics records frame, utterance, and drop counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithStreamID labels log lines with the owning stream.
func WithStreamID(id string) Option {
	return func(p *Processor) { p.streamID = id }
}

// Processor runs one VAD session and publishes its utterances.
//
// Process and Write must be called from a single producer goroutine. Close
// and Messages may be called from any goroutine.
type Processor struct {
	bufSize  int
	metrics  *observe.Metrics
	streamID string

	framer *audio.Framer

	mu      sync.Mutex
	sess    vad.SessionHandle
	out     chan Message
	closed  bool
	dropped atomic.Int64
	warned  sync.Once
}

// New opens a session on engine and returns a Processor around it. Frames
// passed to Write are cut to cfg.FrameSize (128 when unset).
func New(engine vad.Engine, cfg vad.Config, opts ...Option) (*Processor, error) {
	sess, err := engine.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("sentence: open vad session: %w", err)
	}
	p := &Processor{
		bufSize: defaultBuffer,
		sess:    sess,
		framer:  audio.NewFramer(cfg.FrameSize),
	}
	for _, o := range opts {
		o(p)
	}
	p.out = make(chan Message, p.bufSize)
	return p, nil
}

// Messages returns the channel on which sentence messages are delivered. It
// is closed by [Processor.Close].
func (p *Processor) Messages() <-chan Message { return p.out }

// Dropped returns how many messages were discarded because the channel was
// full.
func (p *Processor) Dropped() int64 { return p.dropped.Load() }

// Write cuts samples into fixed-size frames and processes each complete one.
// A trailing partial frame is kept for the next call.
func (p *Processor) Write(samples []float32) error {
	var err error
	p.framer.Push(samples, func(frame []float32) {
		if err == nil {
			err = p.Process(frame)
		}
	})
	return err
}

// Process feeds one frame to the session. It never blocks.
func (p *Processor) Process(frame []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	ev, err := p.sess.ProcessFrame(frame)
	if err != nil {
		return fmt.Errorf("sentence: process frame: %w", err)
	}
	if p.metrics != nil {
		p.metrics.Frames.Add(context.Background(), 1)
	}
	if ev.Type != vad.SpeechEnd || ev.Utterance == nil {
		return nil
	}

	u := ev.Utterance
	if p.metrics != nil {
		p.metrics.RecordUtterance(context.Background(), u.Duration)
	}
	msg := Message{Type: TypeSentence, Audio: u.Samples, Duration: u.Duration}
	select {
	case p.out <- msg:
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.SentencesDropped.Add(context.Background(), 1)
		}
		p.warned.Do(func() {
			slog.Warn("sentence: consumer lagging, dropping messages",
				"stream_id", p.streamID, "buffer", p.bufSize)
		})
	}
	return nil
}

// Close releases the session and closes the message channel. Subsequent
// calls are no-ops.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	if err := p.sess.Close(); err != nil {
		return fmt.Errorf("sentence: close vad session: %w", err)
	}
	return nil
}

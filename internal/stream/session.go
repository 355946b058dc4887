package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/sentence"
)

// errPeerClosed ends the session's errgroup when the client goes away.
var errPeerClosed = errors.New("stream: peer closed")

// ErrExtractBusy is reported to clients whose extract queue is full.
var ErrExtractBusy = errors.New("stream: too many pending extract requests")

// writeTimeout bounds a single outgoing message.
const writeTimeout = 10 * time.Second

type extractRequest struct {
	startMs float64
	endMs   *float64
}

// session serves one WebSocket connection: one sentence processor and one
// extractor fed from the same audio.
type session struct {
	id     string
	conn   *websocket.Conn
	format audio.Format

	proc *sentence.Processor
	ext  *extract.Extractor

	frames   chan audio.AudioFrame
	extracts chan extractRequest
	out      chan any

	started time.Time
	offset  time.Duration
}

// run blocks until the peer disconnects, ctx is cancelled, or a loop fails.
// It always releases the processor, the recording, and produced segments.
func (s *session) run(ctx context.Context) error {
	defer s.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(func() error { return s.extractLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *session) close() {
	if err := s.proc.Close(); err != nil {
		slog.Warn("stream: close sentence processor", "stream_id", s.id, "err", err)
	}
	s.ext.StopLocalRecording()
	revoked := s.ext.Cleanup()
	slog.Info("stream: session ended",
		"stream_id", s.id,
		"duration", time.Since(s.started),
		"sentences_dropped", s.proc.Dropped(),
		"segments_revoked", revoked,
	)
}

// readLoop handles inbound frames. Audio and control messages are applied in
// arrival order; only extraction is handed off.
func (s *session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errPeerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return errPeerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: read: %w", err)
		}

		switch typ {
		case websocket.MessageBinary:
			err = s.handleAudio(ctx, data)
		case websocket.MessageText:
			err = s.handleControl(ctx, data)
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) handleAudio(ctx context.Context, data []byte) error {
	if len(data)%2 != 0 {
		return s.reportError(ctx, fmt.Errorf("stream: audio frame has odd length %d", len(data)))
	}
	if err := s.proc.Write(audio.PCMToFloat32(data)); err != nil {
		return err
	}

	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.offset,
	}
	s.offset += time.Duration(frame.Samples()) * time.Second / time.Duration(s.format.SampleRate)

	// Recording state only changes on this goroutine. frames is unbuffered,
	// so an extract that follows this message sees this frame.
	if !s.ext.Recording() {
		return nil
	}
	select {
	case s.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) handleControl(ctx context.Context, data []byte) error {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return s.reportError(ctx, fmt.Errorf("stream: invalid control message: %w", err))
	}

	switch c.Type {
	case TypeStartRecording:
		if err := s.ext.StartLocalRecording(s.frames); err != nil {
			return s.reportError(ctx, err)
		}
	case TypeStopRecording:
		s.ext.StopLocalRecording()
	case TypeExtract:
		select {
		case s.extracts <- extractRequest{startMs: c.StartMs, endMs: c.EndMs}:
		default:
			return s.reportError(ctx, ErrExtractBusy)
		}
	default:
		return s.reportError(ctx, fmt.Errorf("stream: unknown control type %q", c.Type))
	}
	return nil
}

// extractLoop runs extractions one at a time in request order.
func (s *session) extractLoop(ctx context.Context) error {
	for {
		var req extractRequest
		select {
		case <-ctx.Done():
			return nil
		case req = <-s.extracts:
		}

		var (
			seg *extract.Segment
			err error
		)
		if req.endMs == nil {
			seg, err = s.ext.ExtractUntilNow(ctx, req.startMs)
		} else {
			seg, err = s.ext.ExtractSegment(ctx, req.startMs, *req.endMs)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.reportError(ctx, err); err != nil {
				return err
			}
			continue
		}
		if err := s.send(ctx, segmentMessage(seg)); err != nil {
			return err
		}
	}
}

// writeLoop is the only writer on the connection.
func (s *session) writeLoop(ctx context.Context) error {
	sentences := s.proc.Messages()
	for {
		var msg any
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sentences:
			if !ok {
				sentences = nil
				continue
			}
			msg = m
		case msg = <-s.out:
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, s.conn, msg)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream: write: %w", err)
		}
	}
}

func (s *session) send(ctx context.Context, msg any) error {
	select {
	case s.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportError tells the client about a failed request without ending the
// session.
func (s *session) reportError(ctx context.Context, err error) error {
	observe.Logger(ctx).Debug("stream: request failed", "err", err)
	return s.send(ctx, ErrorMessage{
		Type:          TypeError,
		Error:         err.Error(),
		CorrelationID: observe.CorrelationID(ctx),
	})
}

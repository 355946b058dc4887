// Package stream serves live audio streams over WebSocket. Each connection
// gets its own sentence processor and gapless extractor; produced segments
// are registered in a shared store and served over plain HTTP.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
	"github.com/MrWong99/voxslice/pkg/sentence"
)

// defaultExtractQueue is how many extract requests may wait per stream.
const defaultExtractQueue = 8

// readLimit caps a single inbound message; one second of 48 kHz mono audio
// is 96000 bytes.
const readLimit = 1 << 20

// defaultSampleRate applies when Settings.VAD leaves the rate unset.
const defaultSampleRate = 48000

// Settings are the per-stream parameters. Changing them with
// [Handler.SetSettings] affects streams opened afterwards.
type Settings struct {
	// Engine creates one VAD session per stream.
	Engine vad.Engine

	// VAD configures each session. VAD.SampleRate is the rate clients send.
	VAD vad.Config

	// MessageBuffer is the sentence queue depth. Zero uses the processor
	// default.
	MessageBuffer int

	// Codec and Channels select how extractor slots record.
	Codec    extract.Codec
	Channels int
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithMetrics records stream and extraction metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAcceptOptions overrides the WebSocket accept options, for example to
// allow cross-origin browser clients.
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(h *Handler) { h.accept = o }
}

// WithExtractQueue sets how many extract requests may wait per stream.
func WithExtractQueue(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.extractQueue = n
		}
	}
}

// Handler accepts stream connections and serves their segments.
type Handler struct {
	store        extract.Store
	metrics      *observe.Metrics
	accept       *websocket.AcceptOptions
	extractQueue int

	settings atomic.Pointer[Settings]

	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
	closed   bool
}

// tracked is an open stream as seen by Shutdown. conn is nil until the
// upgrade completes.
type tracked struct {
	cancel context.CancelFunc
	conn   *websocket.Conn
}

// NewHandler creates a Handler that registers segments in store.
func NewHandler(store extract.Store, s Settings, opts ...Option) *Handler {
	h := &Handler{
		store:        store,
		extractQueue: defaultExtractQueue,
		sessions:     make(map[string]*tracked),
	}
	for _, o := range opts {
		o(h)
	}
	h.settings.Store(&s)
	return h
}

// SetSettings replaces the parameters used for new streams.
func (h *Handler) SetSettings(s Settings) {
	h.settings.Store(&s)
}

// Active returns the number of open streams.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Register adds the stream and segment routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/stream", h.ServeStream)
	mux.HandleFunc("GET "+extract.DefaultURLPrefix+"{id}", h.GetSegment)
	mux.HandleFunc("DELETE "+extract.DefaultURLPrefix+"{id}", h.DeleteSegment)
}

// ServeStream upgrades the request and runs a session until the client
// disconnects or [Handler.Shutdown] is called.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithStreamID(context.WithoutCancel(r.Context()), id))
	defer cancel()
	if !h.track(id, cancel) {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.untrack(id)

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("stream: upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)
	h.attach(id, conn)

	s, err := h.newSession(id, conn)
	if err != nil {
		observe.Logger(ctx).Error("stream: session setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanStreamSession)
	defer span.End()

	if h.metrics != nil {
		h.metrics.ActiveStreams.Add(ctx, 1)
		defer h.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}
	observe.Logger(ctx).Info("stream: session started",
		"remote", r.RemoteAddr,
		"format", s.format.String(),
		"codec", s.ext.Codec().Name(),
	)

	if err := s.run(ctx); err != nil {
		observe.FailSpan(span, "session", err)
		observe.Logger(ctx).Warn("stream: session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	if ctx.Err() != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) newSession(id string, conn *websocket.Conn) (*session, error) {
	set := h.settings.Load()
	format := audio.Format{SampleRate: set.VAD.SampleRate, Channels: 1}
	if format.SampleRate <= 0 {
		format.SampleRate = defaultSampleRate
	}
	cfg := set.VAD
	cfg.SampleRate = format.SampleRate

	popts := []sentence.Option{sentence.WithStreamID(id)}
	if set.MessageBuffer > 0 {
		popts = append(popts, sentence.WithBuffer(set.MessageBuffer))
	}
	eopts := []extract.Option{
		extract.WithFormat(audio.Format{SampleRate: format.SampleRate, Channels: max(set.Channels, 1)}),
		extract.WithStore(h.store),
		extract.WithStreamID(id),
	}
	if set.Codec != nil {
		eopts = append(eopts, extract.WithCodec(set.Codec))
	}
	if h.metrics != nil {
		popts = append(popts, sentence.WithMetrics(h.metrics))
		eopts = append(eopts, extract.WithMetrics(h.metrics))
	}

	proc, err := sentence.New(set.Engine, cfg, popts...)
	if err != nil {
		return nil, err
	}
	return &session{
		id:       id,
		conn:     conn,
		format:   format,
		proc:     proc,
		ext:      extract.New(eopts...),
		frames:   make(chan audio.AudioFrame),
		extracts: make(chan extractRequest, h.extractQueue),
		out:      make(chan any, h.extractQueue),
		started:  time.Now(),
	}, nil
}

func (h *Handler) track(id string, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[id] = &tracked{cancel: cancel}
	h.wg.Add(1)
	return true
}

func (h *Handler) attach(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.sessions[id]; ok {
		t.conn = conn
	}
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown refuses new streams, closes open ones with StatusGoingAway, and
// waits for them to clean up or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	open := make([]tracked, 0, len(h.sessions))
	for _, t := range h.sessions {
		open = append(open, *t)
	}
	h.mu.Unlock()

	for _, t := range open {
		go func() {
			if t.conn != nil {
				// Close performs the handshake; the session's read loop sees
				// the peer's reply and ends normally.
				t.conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			t.cancel()
		}()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("stream: sessions still open"), ctx.Err())
	}
}

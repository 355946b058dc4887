// Package app wires the voxslice subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the segment store, the
// stream handler, and the HTTP routes from config; Run serves until its
// context is cancelled; Shutdown drains streams and stops the server.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxslice/internal/config"
	"github.com/MrWong99/voxslice/internal/health"
	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/internal/stream"
	"github.com/MrWong99/voxslice/pkg/extract"
)

// DefaultShutdownTimeout bounds the drain started when Run's context ends.
const DefaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	reg     *config.Registry
	metrics *observe.Metrics
	store   extract.Store
	level   *slog.LevelVar
	ln      net.Listener

	mu  sync.Mutex
	cfg *config.Config

	streams *stream.Handler
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	shutdownTimeout time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a segment store instead of creating a MemoryStore.
func WithStore(s extract.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level live.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.ln = ln }
}

// WithShutdownTimeout overrides [DefaultShutdownTimeout].
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// Closer registers fn to run during Shutdown after the server has stopped.
func Closer(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. Components named in cfg are instantiated from reg.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:             cfg,
		reg:             reg,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.store == nil {
		a.store = extract.NewMemoryStore(cfg.Segments.MaxRetained)
	}

	settings, err := a.streamSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.streams = stream.NewHandler(a.store, settings, stream.WithMetrics(a.metrics))
	a.health = health.New(
		health.Checker{Name: "vad", Check: a.checkVAD},
		health.Checker{Name: "codec", Check: a.checkCodec},
	)

	mux := http.NewServeMux()
	a.streams.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// streamSettings instantiates the VAD engine and slot codec cfg names.
func (a *App) streamSettings(cfg *config.Config) (stream.Settings, error) {
	engine, err := a.reg.CreateVAD(cfg.Segmenter)
	if err != nil {
		return stream.Settings{}, fmt.Errorf("create vad %q: %w", cfg.Segmenter.VAD, err)
	}
	codec, err := a.reg.CreateCodec(cfg.Recorder)
	if err != nil {
		return stream.Settings{}, fmt.Errorf("create codec %q: %w", cfg.Recorder.Codec, err)
	}
	return stream.Settings{
		Engine:        engine,
		VAD:           cfg.VADConfig(),
		MessageBuffer: cfg.Segmenter.MessageBuffer,
		Codec:         codec,
		Channels:      cfg.Recorder.Channels,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Readiness ───────────────────────────────────────────────────────────────

// checkVAD opens and closes a session with the current segmenter settings.
func (a *App) checkVAD(context.Context) error {
	cfg := a.Config()
	engine, err := a.reg.CreateVAD(cfg.Segmenter)
	if err != nil {
		return err
	}
	sess, err := engine.NewSession(cfg.VADConfig())
	if err != nil {
		return err
	}
	return sess.Close()
}

// checkCodec verifies the slot codec accepts the recording format.
func (a *App) checkCodec(context.Context) error {
	cfg := a.Config()
	codec, err := a.reg.CreateCodec(cfg.Recorder)
	if err != nil {
		return err
	}
	if _, err := codec.NewEncoder(cfg.RecordFormat()); err != nil {
		return err
	}
	_, err = codec.NewDecoder(cfg.RecordFormat())
	return err
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies a reloaded config. The log level changes immediately;
// segmenter and recorder changes apply to streams opened afterwards. Fields
// that need a restart are only logged. On error the previous settings stay in
// effect.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) error {
	if d.SegmenterChanged || d.RecorderChanged {
		settings, err := a.streamSettings(cfg)
		if err != nil {
			return fmt.Errorf("app: apply config: %w", err)
		}
		a.streams.SetSettings(settings)
		slog.Info("stream settings updated",
			"vad", cfg.Segmenter.VAD,
			"codec", cfg.Recorder.Codec,
			"silence_duration", cfg.Segmenter.SilenceDuration,
		)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// Cancelling ctx starts [App.Shutdown] bounded by the shutdown timeout; Run
// then returns ctx's error.
func (a *App) Run(ctx context.Context) error {
	ln := a.ln
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
	}
	tls := a.Config().Server.TLS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", tls != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server unready, closes open streams with
// StatusGoingAway, stops the HTTP server, and runs closers. Later calls
// return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "streams", a.streams.Active(), "closers", len(a.closers))
		a.health.SetDraining(true)

		var errs []error
		if err := a.streams.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete", "segments_retained", a.store.Len())
	})
	return a.stopErr
}

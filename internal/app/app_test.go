package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxslice/internal/app"
	"github.com/MrWong99/voxslice/internal/config"
	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/internal/stream"
	"github.com/MrWong99/voxslice/pkg/audio"
	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
	"github.com/MrWong99/voxslice/pkg/provider/vad/energy"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.SegmenterConfig) (vad.Engine, error) { return energy.New(), nil })
	reg.RegisterCodec("pcm", func(config.RecorderConfig) (extract.Codec, error) { return extract.PCMCodec{}, nil })
	return reg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, reg *config.Registry, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(cfg, reg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNew_UnregisteredComponents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"vad", func(c *config.Config) { c.Segmenter.VAD = "silero" }},
		{"codec", func(c *config.Config) { c.Recorder.Codec = "flac" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := app.New(cfg, testRegistry(), app.WithMetrics(testMetrics(t)))
			if !errors.Is(err, config.ErrComponentNotRegistered) {
				t.Errorf("err = %v, want ErrComponentNotRegistered", err)
			}
		})
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testRegistry())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code, body := get(t, srv.URL+path); code != http.StatusOK {
			t.Errorf("%s: status %d, body %s", path, code, body)
		}
	}
	if code, _ := get(t, srv.URL+"/v1/segments/missing"); code != http.StatusNotFound {
		t.Errorf("unknown segment: status %d, want 404", code)
	}
}

// brokenCodec is registered but cannot record in any format.
type brokenCodec struct{ extract.PCMCodec }

func (brokenCodec) NewEncoder(audio.Format) (extract.ChunkEncoder, error) {
	return nil, errors.New("no encoder")
}

func TestApp_ReadyzReportsBrokenCodec(t *testing.T) {
	t.Parallel()
	reg := testRegistry()
	reg.RegisterCodec("pcm", func(config.RecorderConfig) (extract.Codec, error) { return brokenCodec{}, nil })
	a := newApp(t, testConfig(), reg)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	code, body := get(t, srv.URL+"/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if !strings.Contains(body, "no encoder") {
		t.Errorf("body should name the codec failure: %s", body)
	}
}

func TestApp_StreamEndToEnd(t *testing.T) {
	t.Parallel()
	store := extract.NewMemoryStore(4)
	a := newApp(t, testConfig(), testRegistry(), app.WithStore(store))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, stream.Control{Type: stream.TypeStartRecording}); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 2*4800)); err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, conn, stream.Control{Type: stream.TypeExtract}); err != nil {
		t.Fatal(err)
	}

	var seg stream.SegmentMessage
	if err := wsjson.Read(ctx, conn, &seg); err != nil {
		t.Fatalf("read segment: %v", err)
	}
	if seg.Type != stream.TypeSegment || seg.DurationMs != 100 {
		t.Fatalf("segment = %+v, want 100 ms segment", seg)
	}
	if code, body := get(t, srv.URL+seg.URL); code != http.StatusOK || len(body) != seg.Bytes {
		t.Errorf("GET %s: status %d, %d bytes, want 200 and %d bytes", seg.URL, code, len(body), seg.Bytes)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d segments, want 1", store.Len())
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := make(chan struct{})
	a := newApp(t, testConfig(), testRegistry(),
		app.WithListener(ln),
		app.Closer(func() error { close(closed); return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	select {
	case <-closed:
	default:
		t.Error("closer was not run during shutdown")
	}

	// Shutdown is idempotent.
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownMarksNotReady(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testRegistry())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after shutdown: status %d, want 503", code)
	}
	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz after shutdown: status %d, want 200", code)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	cfg := testConfig()
	a := newApp(t, cfg, testRegistry(), app.WithLevelVar(level))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Segmenter.SilenceDuration = time.Second
	if err := a.ApplyConfig(config.Diff(cfg, next), next); err != nil {
		t.Fatalf("ApplyConfig() error: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if a.Config() != next {
		t.Error("Config() should return the applied config")
	}

	broken := testConfig()
	broken.Recorder.Codec = "flac"
	if err := a.ApplyConfig(config.Diff(next, broken), broken); !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Errorf("err = %v, want ErrComponentNotRegistered", err)
	}
	if a.Config() != next {
		t.Error("a failed reload must keep the previous config")
	}
}

// Command voxfeed streams a WAV file to a voxslice server and prints the
// sentences and segments it reports. It is a development client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxslice/internal/stream"
	"github.com/MrWong99/voxslice/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "ws://localhost:8080/v1/stream", "voxslice stream endpoint")
	rate := flag.Int("rate", 48000, "sample rate the server segments at")
	chunk := flag.Duration("chunk", 20*time.Millisecond, "audio per binary message")
	realtime := flag.Bool("realtime", true, "pace messages at playback speed")
	record := flag.Bool("record", false, "record the stream and extract it as one segment at the end")
	out := flag.String("out", "", "download the extracted segment to this path")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: voxfeed [flags] file.wav")
		flag.PrintDefaults()
		return 2
	}

	pcm, err := loadMono(flag.Arg(0), *rate)
	if err != nil {
		slog.Error("load audio", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := &feeder{
		addr:     *addr,
		pcm:      pcm,
		chunk:    max(2, 2*int(int64(*rate)*int64(*chunk)/int64(time.Second))),
		interval: *chunk,
		realtime: *realtime,
		record:   *record,
		out:      *out,
	}
	if err := f.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("stream failed", "err", err)
		return 1
	}
	return 0
}

// loadMono decodes path and returns 16-bit little-endian mono PCM at rate.
func loadMono(path string, rate int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	mono := make([]float32, buf.Frames())
	for _, ch := range buf.Channels {
		for i, v := range ch {
			mono[i] += v / float32(buf.NumChannels())
		}
	}
	return audio.ResampleMono16(audio.Float32ToPCM(mono), buf.SampleRate, rate), nil
}

type feeder struct {
	addr     string
	pcm      []byte
	chunk    int
	interval time.Duration
	realtime bool
	record   bool
	out      string
}

func (f *feeder) run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.addr, err)
	}
	defer conn.CloseNow()

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.read(gctx, conn, done) })
	g.Go(func() error {
		if err := f.write(gctx, conn); err != nil {
			return err
		}
		if !f.record {
			// Give trailing sentences a moment to arrive.
			select {
			case <-time.After(time.Second):
			case <-gctx.Done():
			}
			return conn.Close(websocket.StatusNormalClosure, "done")
		}
		select {
		case <-done:
			return conn.Close(websocket.StatusNormalClosure, "done")
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

func (f *feeder) write(ctx context.Context, conn *websocket.Conn) error {
	if f.record {
		if err := wsjson.Write(ctx, conn, stream.Control{Type: stream.TypeStartRecording}); err != nil {
			return err
		}
	}

	tick := time.NewTicker(f.interval)
	defer tick.Stop()
	for off := 0; off < len(f.pcm); off += f.chunk {
		end := min(off+f.chunk, len(f.pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, f.pcm[off:end]); err != nil {
			return err
		}
		if !f.realtime {
			continue
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.record {
		return wsjson.Write(ctx, conn, stream.Control{Type: stream.TypeExtract})
	}
	return nil
}

// read prints every server message. It closes done after the first segment.
func (f *feeder) read(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) error {
	closed := false
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(string(raw))

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Type != stream.TypeSegment || closed {
			continue
		}
		var seg stream.SegmentMessage
		if err := json.Unmarshal(raw, &seg); err != nil {
			return err
		}
		if f.out != "" {
			if err := f.download(ctx, seg.URL); err != nil {
				slog.Warn("download segment", "id", seg.ID, "err", err)
			}
		}
		close(done)
		closed = true
	}
}

// download fetches a segment over HTTP from the stream endpoint's host.
func (f *feeder) download(ctx context.Context, path string) error {
	u, err := url.Parse(f.addr)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", u, resp.Status)
	}

	file, err := os.Create(f.out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return err
	}
	slog.Info("segment saved", "path", f.out)
	return file.Close()
}

// Command voxslice serves live audio segmentation over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxslice/internal/app"
	"github.com/MrWong99/voxslice/internal/config"
	"github.com/MrWong99/voxslice/internal/observe"
	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/extract/opus"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
	"github.com/MrWong99/voxslice/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...". When
// unset, the module version from the build info is reported.
var version string

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxslice.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxslice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxslice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))
	version = observe.ResolveVersion(version)

	slog.Info("voxslice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Component registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	printStartupSummary(cfg)

	application, err := app.New(cfg, reg,
		app.WithLevelVar(level),
		app.Closer(func() error { return shutdownTelemetry(context.Background()) }),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, next *config.Config) {
			if err := application.ApplyConfig(d, next); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// Run already drained on cancellation; this only reports its result.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltins registers every VAD engine and slot codec compiled into
// the binary.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterVAD("energy", func(config.SegmenterConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterCodec("pcm", func(config.RecorderConfig) (extract.Codec, error) {
		return extract.PCMCodec{}, nil
	})
	reg.RegisterCodec("opus", func(rc config.RecorderConfig) (extract.Codec, error) {
		return opus.Codec{Bitrate: rc.Bitrate}, nil
	})

	for _, kind := range []string{"vad", "codec"} {
		slog.Debug("registered components", "kind", kind, "names", reg.Names(kind))
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxslice: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Audio", fmt.Sprintf("%d Hz / %d", cfg.Audio.SampleRate, cfg.Audio.FrameSize))
	printRow("VAD", fmt.Sprintf("%s @ %g", cfg.Segmenter.VAD, cfg.Segmenter.SilenceThreshold))
	printRow("Silence", cfg.Segmenter.SilenceDuration.String())
	printRow("Min speech", cfg.Segmenter.MinSpeechDuration.String())
	preRoll := "(unbounded)"
	if cfg.Segmenter.PreRoll > 0 {
		preRoll = cfg.Segmenter.PreRoll.String()
	}
	printRow("Pre-roll", preRoll)
	printRow("Recorder", fmt.Sprintf("%s / %d ch", cfg.Recorder.Codec, cfg.Recorder.Channels))
	printRow("Max segments", fmt.Sprint(cfg.Segments.MaxRetained))
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/bridge"
	"github.com/voxkit/voxbridge/pkg/configutil"
	"github.com/voxkit/voxbridge/pkg/logging"
	"github.com/voxkit/voxbridge/pkg/metrics"
	"github.com/voxkit/voxbridge/pkg/providers/elevenlabs"
	"github.com/voxkit/voxbridge/pkg/providers/mock"
	"github.com/voxkit/voxbridge/pkg/runner"
	"github.com/voxkit/voxbridge/pkg/session"
	"github.com/voxkit/voxbridge/pkg/voxbridge"
)

type elevenlabsSettings struct {
	BaseURL         string  `mapstructure:"base_url"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
}

type mockSettings struct {
	SampleRate *int `mapstructure:"sample_rate"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge config file")
	flag.Parse()

	cfg, err := voxbridge.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("provider", cfg.Synthesis.Provider))

	observer, flush, err := buildObserver(cfg.Metrics)
	if err != nil {
		panic(err)
	}

	factory, err := buildFactory(cfg.Synthesis)
	if err != nil {
		panic(err)
	}

	registry := session.NewRegistry(observer)
	server := bridge.New(cfg.Bridge, registry, factory, observer)

	lc := runner.NewLifecycleRunner(drainFunc(func() error {
		err := server.Stop()
		flush()
		return err
	}), runner.Hooks{
		OnStart: func() {
			if err := server.Start(context.Background()); err != nil {
				slog.Error("server start failed", "error", err.Error())
			}
		},
	}, 10*time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := lc.Run(ctx); err != nil {
		slog.Error("shutdown error", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

type drainFunc func() error

func (f drainFunc) Drain() error { return f() }

func buildObserver(cfg voxbridge.MetricsConfig) (metrics.Observer, func(), error) {
	var base metrics.Observer
	flush := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "none":
		return metrics.NoopObserver{}, flush, nil
	case "stdout":
		base = metrics.NewJSONLObserver(os.Stdout)
	case "jsonl":
		if err := configutil.RequireString(cfg.Path, "metrics.path"); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open metrics file: %w", err)
		}
		base = metrics.NewJSONLObserver(f)
		flush = func() { _ = f.Close() }
	case "memory":
		base = metrics.NewMemoryObserver()
	default:
		return nil, nil, fmt.Errorf("unknown metrics output %q", cfg.Output)
	}

	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		base = metrics.NewSamplingObserver(base, cfg.SampleRate)
	}
	async := metrics.NewAsyncObserver(base, cfg.Buffer)
	prevFlush := flush
	flush = func() {
		async.Close()
		prevFlush()
	}
	return async, flush, nil
}

// buildFactory resolves the configured vendor into a per-session constructor.
// Per-session credential, voice, and model arrive with each text-ingest
// connection; settings here cover only vendor-level knobs.
func buildFactory(cfg voxbridge.SynthesisConfig) (synth.Factory, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "elevenlabs":
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("synthesis.settings: %w", err)
		}
		return func(sessionID string, sc synth.Config) synth.StreamingSynthesizer {
			return elevenlabs.New(elevenlabs.Config{
				APIKey:          sc.Credential,
				VoiceID:         sc.VoiceID,
				ModelID:         sc.ModelID,
				SessionID:       sessionID,
				BaseURL:         settings.BaseURL,
				Stability:       settings.Stability,
				SimilarityBoost: settings.SimilarityBoost,
			})
		}, nil
	case "mock":
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("synthesis.settings: %w", err)
		}
		return func(sessionID string, sc synth.Config) synth.StreamingSynthesizer {
			return mock.New(sessionID, configutil.IntValue(settings.SampleRate, sc.SampleRate))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported synthesis provider: %s", cfg.Provider)
	}
}

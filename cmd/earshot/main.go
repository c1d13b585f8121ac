// Command earshot is the always-listening voice capture daemon.
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

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/miniaudio"
	"github.com/MrWong99/earshot/pkg/provider/asr"
	oairecog "github.com/MrWong99/earshot/pkg/provider/asr/openai"
	"github.com/MrWong99/earshot/pkg/provider/asr/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadenergy "github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/wake"
	wakeenergy "github.com/MrWong99/earshot/pkg/provider/wake/energy"
	"github.com/MrWong99/earshot/pkg/provider/wake/openww"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening for the wake phrase — press Ctrl+C to shut down")

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in factories into reg. Each
// factory receives a config.ProviderEntry and constructs the implementation
// from the real provider packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture sources ───────────────────────────────────────────────────────

	reg.RegisterSource("miniaudio", func(_ config.ProviderEntry, audioCfg config.AudioConfig) (audio.Source, error) {
		return miniaudio.New(miniaudio.Config{
			SampleRate:    audioCfg.SampleRate,
			FrameDuration: time.Duration(audioCfg.FrameMs) * time.Millisecond,
		})
	})

	// ── Wake spotters ─────────────────────────────────────────────────────────

	reg.RegisterWake("openww", func(entry config.ProviderEntry) (wake.Engine, error) {
		return openww.New(openww.Paths{
			WakewordModel:  entry.Model,
			MelspecModel:   optString(entry.Options, "melspec_model"),
			EmbeddingModel: optString(entry.Options, "embedding_model"),
			OnnxLib:        optString(entry.Options, "onnx_lib"),
		})
	})

	reg.RegisterWake("energy", func(entry config.ProviderEntry) (wake.Engine, error) {
		e := wakeenergy.New()
		if v := optFloat(entry.Options, "rms_reference"); v > 0 {
			e.RMSReference = v
		}
		return e, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		e := vadenergy.New()
		if v := optFloat(entry.Options, "rms_reference"); v > 0 {
			e.RMSReference = v
		}
		return e, nil
	})

	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.Model, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []oairecog.Option
		if entry.BaseURL != "" {
			opts = append(opts, oairecog.WithBaseURL(entry.BaseURL))
		}
		return oairecog.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the components named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	sourceName := cfg.Audio.Source.Name
	if sourceName == "" {
		sourceName = "miniaudio"
	}
	ps.Source, err = reg.CreateSource(config.ProviderEntry{Name: sourceName, Options: cfg.Audio.Source.Options}, cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create capture source %q: %w", sourceName, err)
	}
	slog.Info("provider created", "kind", "source", "name", sourceName)

	wakeName := cfg.Wake.Provider.Name
	if wakeName == "" {
		wakeName = "energy"
	}
	ps.Wake, err = reg.CreateWake(config.ProviderEntry{
		Name:    wakeName,
		Model:   cfg.Wake.Provider.Model,
		Options: cfg.Wake.Provider.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("create wake provider %q: %w", wakeName, err)
	}
	slog.Info("provider created", "kind", "wake", "name", wakeName)

	vadName := cfg.VAD.Provider.Name
	if vadName == "" {
		vadName = "energy"
	}
	ps.VAD, err = reg.CreateVAD(config.ProviderEntry{
		Name:    vadName,
		Options: cfg.VAD.Provider.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", vadName, err)
	}
	slog.Info("provider created", "kind", "vad", "name", vadName)

	if name := cfg.Recognizer.Name; name != "" {
		ps.Recognizer, err = reg.CreateRecognizer(cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("create recognizer %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "recognizer", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Source", orDefault(cfg.Audio.Source.Name, "miniaudio"), "")
	printProvider("Wake", orDefault(cfg.Wake.Provider.Name, "energy"), cfg.Wake.Provider.Model)
	printProvider("VAD", orDefault(cfg.VAD.Provider.Name, "energy"), "")
	printProvider("Recognizer", cfg.Recognizer.Name, cfg.Recognizer.Model)
	fmt.Printf("║  Sample rate     : %-19s ║\n", fmt.Sprintf("%d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.FrameMs))
	fmt.Printf("║  Commands        : %-19d ║\n", len(cfg.Commands))
	if cfg.Archive.Enabled {
		fmt.Printf("║  Archive         : %-19s ║\n", cfg.Archive.Dir)
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// optString extracts a string value from an Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a numeric value from an Options map[string]any.
// YAML decodes plain numbers as int or float64; both are accepted.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

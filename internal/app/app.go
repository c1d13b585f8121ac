// Package app wires all Earshot subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture pipeline and recognition worker, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithArchiveWriter, WithResultFunc, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/earshot/internal/archive"
	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/asr"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// handoffQueue is the capacity of the seal-to-recognition queue. The
// assembler never blocks on it; utterances beyond this backlog are dropped
// with a warning.
const handoffQueue = 8

// Providers holds one interface value per pluggable slot. Populated by
// main.go via the config registry. Recognizer may be nil; the others are
// required.
type Providers struct {
	Source     audio.Source
	Wake       wake.Engine
	VAD        vad.Engine
	Recognizer asr.Recognizer
}

// Result is everything the pipeline produced for one sealed utterance.
type Result struct {
	// Utterance is the sealed utterance as handed off by the assembler.
	Utterance session.Utterance

	// Transcript is the recognition result; zero when no recognizer is
	// configured or recognition failed.
	Transcript asr.Transcript

	// Command is the matched command, nil when the transcript matched none.
	Command *command.Match

	// ArchivePath is the on-disk archive file, empty when archiving is off.
	ArchivePath string
}

// ResultFunc observes each processed utterance, called from the recognition
// worker goroutine.
type ResultFunc func(Result)

// App owns all subsystem lifetimes and orchestrates the Earshot pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	controller *session.Controller
	matcher    *command.Matcher
	archiver   *archive.Writer
	httpSrv    *http.Server
	onResult   ResultFunc
	met        *observe.Metrics

	// utterances is the seal-to-recognition queue.
	utterances chan session.Utterance
	workerWG   sync.WaitGroup

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchiveWriter injects an archive writer instead of creating one from
// config.
func WithArchiveWriter(w *archive.Writer) Option {
	return func(a *App) { a.archiver = w }
}

// WithCommandMatcher injects a command matcher instead of building one from
// config.
func WithCommandMatcher(m *command.Matcher) Option {
	return func(a *App) { a.matcher = m }
}

// WithResultFunc registers an observer for processed utterances.
func WithResultFunc(fn ResultFunc) Option {
	return func(a *App) { a.onResult = fn }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil || providers.Wake == nil || providers.VAD == nil {
		return nil, errors.New("app: source, wake, and vad providers are required")
	}

	a := &App{
		cfg:        cfg,
		providers:  providers,
		utterances: make(chan session.Utterance, handoffQueue),
	}
	for _, o := range opts {
		o(a)
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	// ── 1. Detector sessions ─────────────────────────────────────────────
	wakeSess, err := providers.Wake.NewSession(wake.Config{
		SampleRate:  cfg.Audio.SampleRate,
		FrameSizeMs: cfg.Audio.FrameMs,
		Threshold:   cfg.Wake.Threshold,
		RearmMs:     cfg.Wake.RearmMs,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init wake session: %w", err)
	}
	vadSess, err := providers.VAD.NewSession(vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSizeMs:      cfg.Audio.FrameMs,
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		StartFrames:      cfg.VAD.StartFrames,
		EndFrames:        cfg.VAD.EndFrames,
		SmoothingWindow:  cfg.VAD.SmoothingWindow,
	})
	if err != nil {
		wakeSess.Close()
		return nil, fmt.Errorf("app: init vad session: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if a.archiver == nil && cfg.Archive.Enabled {
		frameSize := cfg.Audio.SampleRate * cfg.Audio.FrameMs / 1000
		a.archiver, err = archive.NewWriter(cfg.Archive.Dir, cfg.Audio.SampleRate, frameSize)
		if err != nil {
			wakeSess.Close()
			vadSess.Close()
			return nil, fmt.Errorf("app: init archive: %w", err)
		}
	}

	// ── 3. Command matcher ───────────────────────────────────────────────
	if a.matcher == nil && len(cfg.Commands) > 0 {
		cmds := make([]command.Command, 0, len(cfg.Commands))
		for _, c := range cfg.Commands {
			cmds = append(cmds, command.Command{Name: c.Name, Phrases: c.Phrases})
		}
		a.matcher = command.New(cmds)
	}

	// ── 4. Capture pipeline ──────────────────────────────────────────────
	a.controller, err = session.NewController(session.Config{
		Source:         providers.Source,
		Wake:           wakeSess,
		VAD:            vadSess,
		Handoff:        a.enqueue,
		FrameDuration:  time.Duration(cfg.Audio.FrameMs) * time.Millisecond,
		QueueFrames:    cfg.Audio.QueueFrames,
		PrerollFrames:  cfg.Wake.PrerollFrames,
		SilenceTimeout: time.Duration(cfg.Session.SilenceTimeoutMs) * time.Millisecond,
		MaxUtterance:   time.Duration(cfg.Session.MaxUtteranceMs) * time.Millisecond,
		Metrics:        a.met,
	})
	if err != nil {
		wakeSess.Close()
		vadSess.Close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	if providers.Recognizer != nil {
		a.closers = append(a.closers, providers.Recognizer.Close)
	}
	a.closers = append(a.closers, providers.Source.Close)

	return a, nil
}

// enqueue is the assembler's hand-off sink. It must not block: a slow
// recognizer loses utterances beyond the queue backlog rather than stalling
// the capture pipeline.
func (a *App) enqueue(u session.Utterance) {
	select {
	case a.utterances <- u:
	default:
		slog.Warn("recognition queue full, dropping utterance",
			"utterance_id", u.ID,
			"audio_len", u.AudioLen(),
		)
	}
}

// Run starts the pipeline, the recognition worker, and the metrics server,
// then blocks until ctx is cancelled or the pipeline fails.
func (a *App) Run(ctx context.Context) error {
	a.startHTTP()

	a.workerWG.Add(1)
	go a.recognitionWorker(ctx)

	if err := a.controller.Start(ctx); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}

	slog.Info("earshot running",
		"sample_rate", a.cfg.Audio.SampleRate,
		"frame_ms", a.cfg.Audio.FrameMs,
		"wake", a.cfg.Wake.Provider.Name,
		"vad", a.cfg.VAD.Provider.Name,
		"recognizer", a.cfg.Recognizer.Name,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.controller.Done():
		if err := a.controller.Err(); err != nil {
			return fmt.Errorf("app: pipeline failed: %w", err)
		}
		return nil
	}
}

// recognitionWorker drains the hand-off queue one utterance at a time:
// archive, transcribe, match commands, publish the result. Single worker,
// so results follow seal order.
func (a *App) recognitionWorker(ctx context.Context) {
	defer a.workerWG.Done()

	for {
		var u session.Utterance
		var ok bool
		select {
		case <-ctx.Done():
			return
		case u, ok = <-a.utterances:
			if !ok {
				return
			}
		}
		a.processUtterance(ctx, u)
	}
}

// processUtterance handles one sealed utterance end to end.
func (a *App) processUtterance(ctx context.Context, u session.Utterance) {
	res := Result{Utterance: u}

	if a.archiver != nil {
		path, err := a.archiver.Write(u)
		if err != nil {
			slog.Error("failed to archive utterance", "utterance_id", u.ID, "error", err)
		} else {
			res.ArchivePath = path
		}
	}

	if a.providers.Recognizer != nil {
		t, err := a.providers.Recognizer.Transcribe(ctx, u.PCM(), asr.Config{
			SampleRate: a.cfg.Audio.SampleRate,
			Channels:   1,
			Language:   a.cfg.Recognizer.Language,
		})
		if err != nil {
			a.met.RecordRecognition(ctx, a.cfg.Recognizer.Name, "error", t.Duration)
			slog.Error("recognition failed", "utterance_id", u.ID, "error", err)
		} else {
			a.met.RecordRecognition(ctx, a.cfg.Recognizer.Name, "ok", t.Duration)
			res.Transcript = t
			slog.Info("utterance recognized",
				"utterance_id", u.ID,
				"text", t.Text,
				"audio_len", u.AudioLen(),
				"took", t.Duration,
			)
		}
	}

	if a.matcher != nil && res.Transcript.Text != "" {
		if m, ok := a.matcher.Match(res.Transcript.Text); ok {
			res.Command = &m
			slog.Info("command matched",
				"utterance_id", u.ID,
				"command", m.Command,
				"phrase", m.Phrase,
				"score", m.Score,
			)
		}
	}

	if a.onResult != nil {
		a.onResult(res)
	}
}

// startHTTP serves /metrics, /healthz, and /readyz when a metrics address
// is configured.
func (a *App) startHTTP() {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	h := health.New(health.PipelineChecker("pipeline", func() bool {
		select {
		case <-a.controller.Done():
			return false
		default:
			return a.controller.State() != session.StateShuttingDown
		}
	}))
	h.Register(mux)

	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
}

// Cancel discards the currently open utterance, if any.
func (a *App) Cancel() {
	a.controller.Cancel()
}

// Shutdown tears everything down: the capture pipeline first so no new
// utterances arrive, then the recognition worker, the HTTP server, and all
// closers in order. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.controller.Shutdown(ctx); err != nil {
			slog.Warn("pipeline shutdown error", "error", err)
			shutdownErr = err
		}

		// The pipeline is stopped; close the queue so the worker drains what
		// remains and exits.
		close(a.utterances)
		a.workerWG.Wait()

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("metrics server shutdown error", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

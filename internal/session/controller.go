package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// Sentinel errors returned by [Controller].
var (
	// ErrAlreadyRunning is returned by Start when the pipeline is live.
	ErrAlreadyRunning = errors.New("session: pipeline is already running")

	// ErrShuttingDown is returned by Start after Shutdown. A Controller is
	// single-use.
	ErrShuttingDown = errors.New("session: pipeline is shutting down")
)

// maxConsecutiveModelErrors is how many model failures in a row a detector
// runner tolerates before declaring the pipeline unhealthy. Isolated errors
// only skip the affected frame.
const maxConsecutiveModelErrors = 3

// DefaultPrerollFrames is how many frames before the wake trigger are
// carried into the utterance so the spoken command's onset is not clipped.
const DefaultPrerollFrames = 6

// Config wires a [Controller]. Source, Wake, and VAD are required; the
// controller closes Wake and VAD when the run ends but leaves Source to the
// caller.
type Config struct {
	// Source delivers capture frames.
	Source audio.Source

	// Wake scores frames for the wake phrase.
	Wake wake.SessionHandle

	// VAD classifies frames as speech or silence.
	VAD vad.SessionHandle

	// Handoff receives sealed utterances in seal order.
	Handoff HandoffFunc

	// OnState observes assembler state transitions. Optional.
	OnState StateFunc

	// FrameDuration is the capture frame length. Defaults to 20 ms.
	FrameDuration time.Duration

	// QueueFrames is the per-consumer bus queue capacity. Defaults to
	// [audio.DefaultQueueFrames].
	QueueFrames int

	// PrerollFrames is the pre-trigger frame count carried into each
	// utterance. Defaults to [DefaultPrerollFrames].
	PrerollFrames int

	// SilenceTimeout and MaxUtterance configure the assembler's seal
	// deadlines; zero values pick the assembler defaults.
	SilenceTimeout time.Duration
	MaxUtterance   time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller runs the capture pipeline: one capture loop publishing to the
// frame bus, a wake runner, a voice-activity runner, and the assembler. A
// Controller is single-use: once shut down it cannot be started again.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	met   *observe.Metrics
	armed atomic.Bool

	mu       sync.Mutex
	started  bool
	stopping bool
	cancel   context.CancelFunc

	bus  *audio.Bus
	asm  *Assembler
	done chan struct{}
	err  error
}

// NewController validates cfg and creates a stopped controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: Source is required")
	}
	if cfg.Wake == nil {
		return nil, errors.New("session: Wake is required")
	}
	if cfg.VAD == nil {
		return nil, errors.New("session: VAD is required")
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.PrerollFrames <= 0 {
		cfg.PrerollFrames = DefaultPrerollFrames
	}

	c := &Controller{
		cfg:  cfg,
		log:  cfg.Logger,
		met:  cfg.Metrics,
		done: make(chan struct{}),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.met == nil {
		c.met = observe.DefaultMetrics()
	}
	return c, nil
}

// Start launches the pipeline goroutines and returns immediately. It fails
// with [ErrAlreadyRunning] if the pipeline is live and [ErrShuttingDown]
// once Shutdown has been called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return ErrShuttingDown
	}
	if c.started {
		return ErrAlreadyRunning
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.bus = audio.NewBus(audio.WithDropFunc(func(consumer string) {
		c.met.RecordDroppedFrames(runCtx, consumer, 1)
	}))
	wakeSub := c.bus.Subscribe("wake", c.cfg.QueueFrames)
	vadSub := c.bus.Subscribe("vad", c.cfg.QueueFrames)

	c.asm = NewAssembler(AssemblerConfig{
		FrameDuration:  c.cfg.FrameDuration,
		SilenceTimeout: c.cfg.SilenceTimeout,
		MaxUtterance:   c.cfg.MaxUtterance,
		Handoff:        c.cfg.Handoff,
		OnState:        c.cfg.OnState,
		WakeArmed:      &c.armed,
		Logger:         c.log,
		Metrics:        c.met,
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.captureLoop(gctx) })
	g.Go(func() error { return c.wakeLoop(gctx, wakeSub) })
	g.Go(func() error { return c.vadLoop(gctx, vadSub) })
	g.Go(func() error { return c.asm.Run(gctx) })

	go func() {
		err := g.Wait()
		c.bus.Close()
		closeErr := errors.Join(c.cfg.Wake.Close(), c.cfg.VAD.Close())

		c.mu.Lock()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.err = err
		} else if closeErr != nil {
			c.err = closeErr
		}
		c.mu.Unlock()
		close(c.done)
	}()

	c.log.Info("capture pipeline started",
		"frame_duration", c.cfg.FrameDuration,
		"preroll_frames", c.cfg.PrerollFrames,
	)
	return nil
}

// Cancel discards the currently open utterance, if any. Idempotent: calling
// it outside of recording, repeatedly, or after the pipeline stopped is a
// harmless no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	asm := c.asm
	c.mu.Unlock()
	if asm == nil {
		return
	}
	select {
	case <-c.done:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = asm.Submit(ctx, Event{Kind: EventCancel})
	}
}

// Shutdown stops the pipeline: any open utterance is discarded without
// hand-off, the goroutines drain, and detector sessions close. Blocks until
// the pipeline has stopped or ctx is done. Safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	asm := c.asm
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if !started {
		return nil
	}

	// Ask the assembler to stop cleanly first, then cancel the run context
	// to unwind the capture and detector loops.
	if asm != nil {
		_ = asm.Submit(ctx, Event{Kind: EventShutdown})
	}
	if cancel != nil {
		cancel()
	}

	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the pipeline has fully stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err reports why the pipeline stopped, nil for a clean shutdown.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State reports the assembler's pipeline state, [StateIdle] before Start.
func (c *Controller) State() State {
	c.mu.Lock()
	asm := c.asm
	c.mu.Unlock()
	if asm == nil {
		return StateIdle
	}
	return asm.State()
}

// captureLoop pumps the source into the bus until the run context ends or
// the source closes. Any other source error is fatal for the pipeline.
func (c *Controller) captureLoop(ctx context.Context) error {
	for {
		f, err := c.cfg.Source.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, audio.ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("session: capture: %w", err)
		}
		c.bus.Publish(f)
		c.met.FramesPublished.Add(ctx, 1)
	}
}

// wakeLoop scores frames for the wake phrase while armed and submits wake
// events with the pre-roll attached. The ring stays warm while disarmed so
// re-armed triggers still carry lead-in audio.
func (c *Controller) wakeLoop(ctx context.Context, sub *audio.Subscription) error {
	defer audio.Drain(sub.Frames())

	ring := make([]audio.Frame, 0, c.cfg.PrerollFrames)
	streak := 0
	wasArmed := false

	push := func(f audio.Frame) {
		if len(ring) == c.cfg.PrerollFrames {
			copy(ring, ring[1:])
			ring = ring[:len(ring)-1]
		}
		ring = append(ring, f)
	}

	for {
		var f audio.Frame
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case f, ok = <-sub.Frames():
			if !ok {
				return nil
			}
		}

		if !c.armed.Load() {
			wasArmed = false
			push(f)
			continue
		}
		if !wasArmed {
			// Re-arm edge: forget detector state from before the utterance.
			c.cfg.Wake.Reset()
			streak = 0
			wasArmed = true
		}

		det, err := c.cfg.Wake.ProcessFrame(f.Data)
		if err != nil {
			streak++
			c.log.Warn("wake inference failed, skipping frame",
				"seq", f.Seq, "consecutive", streak, "error", err)
			c.met.RecordModelError(ctx, "wake")
			if streak >= maxConsecutiveModelErrors {
				fatal := fmt.Errorf("session: wake detector failed on %d consecutive frames: %w", streak, err)
				_ = c.asm.Submit(ctx, Event{Kind: EventFatal, Err: fatal})
				return nil
			}
			push(f)
			continue
		}
		streak = 0

		if det.Triggered {
			preroll := make([]audio.Frame, 0, len(ring)+1)
			preroll = append(preroll, ring...)
			preroll = append(preroll, f)
			if err := c.asm.Submit(ctx, Event{Kind: EventWake, Preroll: preroll, Confidence: det.Confidence}); err != nil {
				return nil
			}
		}
		push(f)
	}
}

// vadLoop classifies every frame and forwards it, with its classification,
// to the assembler.
func (c *Controller) vadLoop(ctx context.Context, sub *audio.Subscription) error {
	defer audio.Drain(sub.Frames())

	streak := 0
	for {
		var f audio.Frame
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case f, ok = <-sub.Frames():
			if !ok {
				return nil
			}
		}

		ev, err := c.cfg.VAD.ProcessFrame(f.Data)
		if err != nil {
			streak++
			c.log.Warn("vad inference failed, skipping frame",
				"seq", f.Seq, "consecutive", streak, "error", err)
			c.met.RecordModelError(ctx, "vad")
			if streak >= maxConsecutiveModelErrors {
				fatal := fmt.Errorf("session: vad failed on %d consecutive frames: %w", streak, err)
				_ = c.asm.Submit(ctx, Event{Kind: EventFatal, Err: fatal})
				return nil
			}
			continue
		}
		streak = 0

		if err := c.asm.Submit(ctx, Event{Kind: EventFrame, Frame: f, Speech: ev}); err != nil {
			return nil
		}
	}
}

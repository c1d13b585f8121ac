package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Default timing parameters for the assembler.
const (
	// DefaultSilenceTimeout seals an utterance after this much continuous
	// silence.
	DefaultSilenceTimeout = 800 * time.Millisecond

	// DefaultMaxUtterance truncates an utterance at this length even while
	// speech is still ongoing.
	DefaultMaxUtterance = 30 * time.Second

	// defaultEventBuffer is the capacity of the merged event stream.
	defaultEventBuffer = 256
)

// HandoffFunc receives each sealed utterance, called synchronously from the
// assembler goroutine so hand-offs are observed in seal order.
// Implementations should return quickly; slow consumers must queue.
type HandoffFunc func(Utterance)

// StateFunc observes state transitions, called synchronously from the
// assembler goroutine.
type StateFunc func(old, new State)

// AssemblerConfig configures an [Assembler].
type AssemblerConfig struct {
	// FrameDuration is the capture frame length. Required to convert frame
	// timestamps into span endpoints.
	FrameDuration time.Duration

	// SilenceTimeout seals the open utterance after this much continuous
	// silence, measured on the capture clock. Defaults to
	// [DefaultSilenceTimeout]. The silence span is anchored at utterance
	// open, so an utterance with no speech at all still seals on time.
	SilenceTimeout time.Duration

	// MaxUtterance truncates the open utterance at this capture length.
	// Checked before the silence timeout, so a tie seals as
	// [ReasonMaxDuration]. Defaults to [DefaultMaxUtterance].
	MaxUtterance time.Duration

	// Handoff receives sealed utterances. Nil discards them.
	Handoff HandoffFunc

	// OnState observes state transitions. Optional.
	OnState StateFunc

	// WakeArmed is the flag shared with the wake runner: true while the
	// spotter should score frames. The assembler clears it when an utterance
	// opens and sets it when the pipeline returns to listening. If nil a
	// private flag is used.
	WakeArmed *atomic.Bool

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Assembler folds the merged event stream into sealed utterances. At most
// one utterance is open at any time; all state below events is confined to
// the [Assembler.Run] goroutine.
type Assembler struct {
	cfg    AssemblerConfig
	events chan Event
	log    *slog.Logger
	met    *observe.Metrics
	armed  *atomic.Bool
	state  atomic.Int32

	// recording state, owned by Run
	ctx     context.Context
	cur     *Utterance
	nextID  uint64
	lastSeq uint64
	lastEnd time.Duration

	// lastSpeech is the capture-clock end of the most recent speaking frame,
	// initialised to the trigger frame's end at utterance open.
	lastSpeech time.Duration
}

// NewAssembler creates an assembler. Call [Assembler.Run] to start it.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	a := &Assembler{
		cfg:    cfg,
		events: make(chan Event, defaultEventBuffer),
		log:    cfg.Logger,
		met:    cfg.Metrics,
		armed:  cfg.WakeArmed,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}
	if a.armed == nil {
		a.armed = &atomic.Bool{}
	}
	a.state.Store(int32(StateIdle))
	return a
}

// Submit places an event on the merged stream, blocking until the assembler
// accepts it or ctx is done.
func (a *Assembler) Submit(ctx context.Context, ev Event) error {
	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current pipeline state. Safe for concurrent use.
func (a *Assembler) State() State {
	return State(a.state.Load())
}

// Run consumes the merged event stream until ctx is cancelled, a shutdown
// event arrives, or a fatal detector error is reported. Any utterance still
// open at that point is discarded without hand-off.
func (a *Assembler) Run(ctx context.Context) error {
	a.ctx = ctx
	a.setState(StateListening)
	a.armed.Store(true)

	for {
		select {
		case <-ctx.Done():
			a.discardOpen()
			a.setState(StateShuttingDown)
			return ctx.Err()

		case ev := <-a.events:
			switch ev.Kind {
			case EventFrame:
				a.onFrame(ev)

			case EventWake:
				a.onWake(ev)

			case EventCancel:
				a.onCancel()

			case EventShutdown:
				a.discardOpen()
				a.setState(StateShuttingDown)
				return nil

			case EventFatal:
				a.log.Error("detector failed, shutting pipeline down", "error", ev.Err)
				a.discardOpen()
				a.setState(StateShuttingDown)
				return ev.Err
			}
		}
	}
}

// onWake opens a new utterance from the trigger's pre-roll. Ignored unless
// listening: the spotter is disarmed while recording, so a late trigger that
// raced the disarm is dropped here.
func (a *Assembler) onWake(ev Event) {
	if a.State() != StateListening || len(ev.Preroll) == 0 {
		return
	}

	a.armed.Store(false)
	a.nextID++
	a.cur = &Utterance{
		ID:    a.nextID,
		Start: ev.Preroll[0].Timestamp,
	}
	a.lastSeq = 0
	a.lastEnd = ev.Preroll[0].Timestamp
	for _, f := range ev.Preroll {
		a.appendFrame(f)
	}
	a.lastSpeech = a.lastEnd

	a.met.WakeDetections.Add(a.ctx, 1)
	a.met.RecordingActive.Add(a.ctx, 1)
	a.log.Info("wake phrase detected, recording",
		"utterance_id", a.cur.ID,
		"confidence", ev.Confidence,
		"preroll_frames", len(ev.Preroll),
	)
	a.setState(StateRecording)
}

// onFrame appends the frame while recording and evaluates the two seal
// deadlines on the capture clock. Frames outside of recording only advance
// the wall state of the runners and are dropped here.
func (a *Assembler) onFrame(ev Event) {
	if a.State() != StateRecording {
		return
	}
	f := ev.Frame

	// The pre-roll overlaps the frame stream; skip what is already recorded.
	if len(a.cur.Frames) > 0 && f.Seq <= a.lastSeq {
		return
	}
	a.appendFrame(f)
	if ev.Speech.Speaking() {
		a.lastSpeech = a.lastEnd
	}

	// Max duration is checked first so a frame that trips both deadlines
	// seals as truncation, not as silence.
	if a.lastEnd-a.cur.Start >= a.cfg.MaxUtterance {
		a.seal(ReasonMaxDuration)
		return
	}
	if a.lastEnd-a.lastSpeech >= a.cfg.SilenceTimeout {
		a.seal(ReasonSilenceTimeout)
	}
}

// onCancel discards the open utterance. Idempotent: outside of recording it
// is a no-op.
func (a *Assembler) onCancel() {
	if a.State() != StateRecording {
		return
	}
	id := a.cur.ID
	a.discardOpen()
	a.log.Info("utterance cancelled", "utterance_id", id)
	a.setState(StateListening)
	a.armed.Store(true)
}

// appendFrame adds f to the open utterance, annotating any sequence gap
// since the previous frame.
func (a *Assembler) appendFrame(f audio.Frame) {
	if len(a.cur.Frames) > 0 && f.Seq > a.lastSeq+1 {
		a.cur.Gaps = append(a.cur.Gaps, SeqGap{From: a.lastSeq + 1, To: f.Seq - 1})
		a.met.SequenceGaps.Add(a.ctx, 1)
		a.log.Warn("sequence gap in utterance",
			"utterance_id", a.cur.ID,
			"from", a.lastSeq+1,
			"to", f.Seq-1,
		)
	}
	a.cur.Frames = append(a.cur.Frames, f)
	a.lastSeq = f.Seq
	a.lastEnd = f.Timestamp + a.cfg.FrameDuration
}

// seal closes the open utterance, hands it off, and returns to listening.
func (a *Assembler) seal(reason Reason) {
	a.setState(StateFinalizing)
	u := a.cur
	a.cur = nil
	u.Reason = reason
	u.End = a.lastEnd

	a.met.RecordUtterance(a.ctx, reason.String(), u.AudioLen())
	a.met.RecordingActive.Add(a.ctx, -1)
	a.log.Info("utterance sealed",
		"utterance_id", u.ID,
		"reason", reason.String(),
		"frames", len(u.Frames),
		"audio_len", u.AudioLen(),
		"gaps", len(u.Gaps),
	)

	if a.cfg.Handoff != nil {
		a.cfg.Handoff(*u)
	}

	a.setState(StateListening)
	a.armed.Store(true)
}

// discardOpen drops the open utterance, if any, without hand-off.
func (a *Assembler) discardOpen() {
	if a.cur == nil {
		return
	}
	a.met.RecordUtterance(a.ctx, ReasonCancelled.String(), a.lastEnd-a.cur.Start)
	a.met.RecordingActive.Add(a.ctx, -1)
	a.cur = nil
}

func (a *Assembler) setState(s State) {
	old := State(a.state.Swap(int32(s)))
	if old == s {
		return
	}
	a.log.Debug("pipeline state", "from", old.String(), "to", s.String())
	if a.cfg.OnState != nil {
		a.cfg.OnState(old, s)
	}
}

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const testFrameDuration = 20 * time.Millisecond

// mkFrame builds a capture frame whose timestamp follows its sequence
// number, as the miniaudio source produces them.
func mkFrame(seq uint64) audio.Frame {
	return audio.Frame{
		Data:      make([]byte, 640),
		Seq:       seq,
		Timestamp: time.Duration(seq) * testFrameDuration,
	}
}

func speechFrame(seq uint64) Event {
	return Event{Kind: EventFrame, Frame: mkFrame(seq), Speech: vad.Event{Type: vad.SpeechContinue, Probability: 0.9}}
}

func silenceFrame(seq uint64) Event {
	return Event{Kind: EventFrame, Frame: mkFrame(seq), Speech: vad.Event{Type: vad.Silence, Probability: 0.1}}
}

func wakeEvent(seqs ...uint64) Event {
	ev := Event{Kind: EventWake, Confidence: 0.9}
	for _, s := range seqs {
		ev.Preroll = append(ev.Preroll, mkFrame(s))
	}
	return ev
}

type transition struct {
	from, to State
}

// fixture runs an assembler in a background goroutine and collects its
// hand-offs and state transitions.
type fixture struct {
	t        *testing.T
	asm      *Assembler
	armed    *atomic.Bool
	handoffs chan Utterance
	states   chan transition
	cancel   context.CancelFunc
	done     chan error
}

func newFixture(t *testing.T, cfg AssemblerConfig) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		armed:    &atomic.Bool{},
		handoffs: make(chan Utterance, 16),
		states:   make(chan transition, 64),
		done:     make(chan error, 1),
	}
	cfg.FrameDuration = testFrameDuration
	cfg.Handoff = func(u Utterance) { f.handoffs <- u }
	cfg.OnState = func(old, new State) { f.states <- transition{old, new} }
	cfg.WakeArmed = f.armed
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	f.asm = NewAssembler(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.asm.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("assembler did not stop")
		}
	})
	return f
}

func (f *fixture) submit(evs ...Event) {
	f.t.Helper()
	for _, ev := range evs {
		if err := f.asm.Submit(context.Background(), ev); err != nil {
			f.t.Fatalf("Submit: %v", err)
		}
	}
}

func (f *fixture) waitHandoff() Utterance {
	f.t.Helper()
	select {
	case u := <-f.handoffs:
		return u
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for hand-off")
		return Utterance{}
	}
}

// shutdown stops the assembler gracefully and returns Run's error.
func (f *fixture) shutdown() error {
	f.t.Helper()
	f.submit(Event{Kind: EventShutdown})
	select {
	case err := <-f.done:
		f.done <- err
		return err
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for shutdown")
		return nil
	}
}

func (f *fixture) noHandoff() {
	f.t.Helper()
	select {
	case u := <-f.handoffs:
		f.t.Fatalf("unexpected hand-off of utterance %d", u.ID)
	default:
	}
}

func TestSilenceSealsUtterance(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	// Wake with three pre-roll frames, a little speech, then silence.
	f.submit(wakeEvent(1, 2, 3))
	f.submit(speechFrame(4), speechFrame(5))
	for seq := uint64(6); seq <= 10; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	if u.ID != 1 {
		t.Errorf("ID = %d, want 1", u.ID)
	}
	if u.Reason != ReasonSilenceTimeout {
		t.Errorf("Reason = %v, want %v", u.Reason, ReasonSilenceTimeout)
	}
	// The last speaking frame ends at 120 ms; the frame ending at 220 ms
	// completes 100 ms of silence.
	if got := len(u.Frames); got != 10 {
		t.Errorf("got %d frames, want 10", got)
	}
	if u.Frames[0].Seq != 1 {
		t.Errorf("first frame seq = %d, want the oldest pre-roll frame", u.Frames[0].Seq)
	}
	if u.Start != mkFrame(1).Timestamp {
		t.Errorf("Start = %v, want %v", u.Start, mkFrame(1).Timestamp)
	}
	if want := mkFrame(10).Timestamp + testFrameDuration; u.End != want {
		t.Errorf("End = %v, want %v", u.End, want)
	}
	if len(u.Gaps) != 0 {
		t.Errorf("Gaps = %v, want none", u.Gaps)
	}
	if got, want := len(u.PCM()), 10*640; got != want {
		t.Errorf("PCM length = %d, want %d", got, want)
	}
}

func TestSilenceSealsUtteranceWithoutSpeech(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	// No speaking frame ever arrives; the silence span is anchored at the
	// trigger frame's end, so the utterance still seals on time.
	f.submit(wakeEvent(1))
	for seq := uint64(2); seq <= 6; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	if u.Reason != ReasonSilenceTimeout {
		t.Errorf("Reason = %v, want %v", u.Reason, ReasonSilenceTimeout)
	}
	if got := len(u.Frames); got != 6 {
		t.Errorf("got %d frames, want 6", got)
	}
}

func TestMaxDurationTruncates(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: time.Second, MaxUtterance: 200 * time.Millisecond})

	// Continuous speech never goes silent; the length cap seals it anyway.
	f.submit(wakeEvent(1))
	for seq := uint64(2); seq <= 12; seq++ {
		f.submit(speechFrame(seq))
	}

	u := f.waitHandoff()
	if u.Reason != ReasonMaxDuration {
		t.Errorf("Reason = %v, want %v", u.Reason, ReasonMaxDuration)
	}
	if u.AudioLen() < 200*time.Millisecond {
		t.Errorf("AudioLen = %v, want >= 200ms", u.AudioLen())
	}
}

func TestMaxDurationWinsTie(t *testing.T) {
	// With the trigger frame ending at 40 ms, the frame ending at 120 ms
	// completes both the 100 ms length cap and the 80 ms silence span.
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 80 * time.Millisecond, MaxUtterance: 100 * time.Millisecond})

	f.submit(wakeEvent(1))
	for seq := uint64(2); seq <= 5; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	if u.Reason != ReasonMaxDuration {
		t.Errorf("Reason = %v, want %v", u.Reason, ReasonMaxDuration)
	}
}

func TestPrerollOverlapSkipped(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(wakeEvent(1, 2, 3))
	// The frame runner lags the wake runner, so frames already captured in
	// the pre-roll arrive again. They must not be duplicated.
	f.submit(silenceFrame(2), silenceFrame(3))
	for seq := uint64(4); seq <= 10; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	seen := map[uint64]bool{}
	for _, fr := range u.Frames {
		if seen[fr.Seq] {
			t.Errorf("frame seq %d appears twice", fr.Seq)
		}
		seen[fr.Seq] = true
	}
	if !seen[1] || !seen[2] || !seen[3] {
		t.Error("pre-roll frames missing from utterance")
	}
}

func TestSequenceGapAnnotated(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(wakeEvent(1))
	f.submit(silenceFrame(2), silenceFrame(3))
	// Seqs 4 and 5 were evicted under backpressure.
	f.submit(silenceFrame(6), silenceFrame(7), silenceFrame(8))

	u := f.waitHandoff()
	if len(u.Gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %v", len(u.Gaps), u.Gaps)
	}
	if g := u.Gaps[0]; g.From != 4 || g.To != 5 {
		t.Errorf("gap = %+v, want {From: 4, To: 5}", g)
	}
	// Frame 6 ends at 140 ms, completing the silence span anchored at the
	// trigger frame's end, so exactly frames 1, 2, 3 and 6 are recorded.
	if got := len(u.Frames); got != 4 {
		t.Errorf("got %d frames, want 4", got)
	}
}

func TestSingleOpenUtterance(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(wakeEvent(1))
	// A second trigger that raced the disarm must not open another
	// utterance or disturb the first.
	f.submit(wakeEvent(2))
	for seq := uint64(3); seq <= 7; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	if u.ID != 1 {
		t.Errorf("ID = %d, want 1", u.ID)
	}
	f.noHandoff()
}

func TestWakeWithoutPrerollIgnored(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(Event{Kind: EventWake})
	f.submit(silenceFrame(1))
	if err := f.shutdown(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	f.noHandoff()
}

func TestCancelDiscardsWithoutHandoff(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(wakeEvent(1))
	f.submit(speechFrame(2), speechFrame(3))
	f.submit(Event{Kind: EventCancel})
	// Cancelling again outside of recording is a no-op.
	f.submit(Event{Kind: EventCancel})

	// A fresh wake opens the next utterance with the next ID.
	f.submit(wakeEvent(10))
	for seq := uint64(11); seq <= 15; seq++ {
		f.submit(silenceFrame(seq))
	}

	u := f.waitHandoff()
	if u.ID != 2 {
		t.Errorf("ID = %d, want 2", u.ID)
	}
	if u.Frames[0].Seq != 10 {
		t.Errorf("first frame seq = %d, want 10", u.Frames[0].Seq)
	}
	f.noHandoff()
}

func TestShutdownMidRecording(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: time.Second, MaxUtterance: time.Minute})

	f.submit(wakeEvent(1))
	f.submit(speechFrame(2), speechFrame(3))

	if err := f.shutdown(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if got := f.asm.State(); got != StateShuttingDown {
		t.Errorf("State = %v, want %v", got, StateShuttingDown)
	}
	// The frames recorded so far are discarded, never handed off.
	f.noHandoff()
}

func TestFatalStopsRun(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: time.Second, MaxUtterance: time.Minute})

	f.submit(wakeEvent(1))
	fatal := errors.New("detector wedged")
	f.submit(Event{Kind: EventFatal, Err: fatal})

	select {
	case err := <-f.done:
		f.done <- err
		if !errors.Is(err, fatal) {
			t.Errorf("Run returned %v, want %v", err, fatal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after fatal event")
	}
	f.noHandoff()
}

func TestContextCancelStopsRun(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: time.Second, MaxUtterance: time.Minute})

	f.cancel()
	select {
	case err := <-f.done:
		f.done <- err
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	f.submit(wakeEvent(1))
	for seq := uint64(2); seq <= 6; seq++ {
		f.submit(silenceFrame(seq))
	}
	f.waitHandoff()
	if err := f.shutdown(); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	want := []transition{
		{StateIdle, StateListening},
		{StateListening, StateRecording},
		{StateRecording, StateFinalizing},
		{StateFinalizing, StateListening},
		{StateListening, StateShuttingDown},
	}
	for i, w := range want {
		select {
		case got := <-f.states:
			if got != w {
				t.Errorf("transition %d: got %v->%v, want %v->%v", i, got.from, got.to, w.from, w.to)
			}
		default:
			t.Fatalf("missing transition %d (%v->%v)", i, w.from, w.to)
		}
	}
}

func TestWakeArmedFlag(t *testing.T) {
	f := newFixture(t, AssemblerConfig{SilenceTimeout: 100 * time.Millisecond, MaxUtterance: time.Second})

	waitArmed := func(want bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for f.armed.Load() != want {
			if time.Now().After(deadline) {
				t.Fatalf("armed flag never became %v", want)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitArmed(true)
	f.submit(wakeEvent(1))
	waitArmed(false)

	for seq := uint64(2); seq <= 6; seq++ {
		f.submit(silenceFrame(seq))
	}
	f.waitHandoff()
	waitArmed(true)
}

// Package session implements the always-listening capture pipeline: frames
// from an [audio.Source] fan out over an [audio.Bus] to a wake-phrase runner
// and a voice-activity runner, whose events an [Assembler] folds into sealed
// utterances. A [Controller] owns the goroutines and the lifecycle.
package session

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// State is the pipeline lifecycle state, visible through
// [Assembler.State] and the OnState hook.
type State int

const (
	// StateIdle is the state before the pipeline has started.
	StateIdle State = iota

	// StateListening means frames flow and the wake spotter is armed; no
	// utterance is open.
	StateListening

	// StateRecording means exactly one utterance is open and accumulating
	// frames.
	StateRecording

	// StateFinalizing is the transient state while an utterance is sealed
	// and handed off.
	StateFinalizing

	// StateShuttingDown is terminal; no further utterances open.
	StateShuttingDown
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Reason records why an utterance was sealed.
type Reason int

const (
	// ReasonSilenceTimeout means the configured span of continuous silence
	// elapsed after the last detected speech.
	ReasonSilenceTimeout Reason = iota

	// ReasonMaxDuration means the utterance reached its maximum length and
	// was truncated. When both limits trip on the same frame, this reason
	// wins.
	ReasonMaxDuration

	// ReasonCancelled means the utterance was discarded on request or during
	// shutdown. Cancelled utterances are never handed off.
	ReasonCancelled
)

// String implements [fmt.Stringer].
func (r Reason) String() string {
	switch r {
	case ReasonSilenceTimeout:
		return "silence_timeout"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SeqGap is an inclusive range of capture sequence numbers missing from an
// utterance, caused by queue eviction under backpressure.
type SeqGap struct {
	From uint64
	To   uint64
}

// Utterance is one sealed stretch of speech, from wake trigger (plus
// pre-roll) to seal. Frames are in sequence order; gaps between consecutive
// frames are annotated in Gaps rather than silently elided.
type Utterance struct {
	// ID numbers utterances within one pipeline run, starting at 1.
	ID uint64

	// Frames holds the recorded frames, pre-roll first.
	Frames []audio.Frame

	// Start is the capture timestamp of the first frame.
	Start time.Duration

	// End is the capture timestamp just past the last frame.
	End time.Duration

	// Reason records why the utterance was sealed.
	Reason Reason

	// Gaps lists the missing sequence ranges, in order.
	Gaps []SeqGap
}

// PCM concatenates the utterance's frame payloads into one contiguous
// buffer for recognizer handoff.
func (u *Utterance) PCM() []byte {
	var n int
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// AudioLen is the utterance's span of capture time, including annotated
// gaps.
func (u *Utterance) AudioLen() time.Duration {
	return u.End - u.Start
}

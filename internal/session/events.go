package session

import (
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// EventKind discriminates the events merged into the assembler's input
// stream. Detector events and control events share one stream so that the
// assembler observes a single total order.
type EventKind int

const (
	// EventFrame carries one capture frame together with its voice-activity
	// classification.
	EventFrame EventKind = iota

	// EventWake signals an accepted wake-phrase trigger. Preroll carries the
	// frames leading up to and including the trigger frame.
	EventWake

	// EventFatal signals an unrecoverable detector failure. The assembler
	// shuts the pipeline down and surfaces Err.
	EventFatal

	// EventCancel requests that the currently open utterance, if any, be
	// discarded. A no-op outside of recording.
	EventCancel

	// EventShutdown requests a graceful stop of the assembler.
	EventShutdown
)

// Event is one element of the assembler's merged input stream.
type Event struct {
	Kind EventKind

	// Frame is set for EventFrame.
	Frame audio.Frame

	// Speech is the voice-activity result for Frame.
	Speech vad.Event

	// Preroll is set for EventWake: the buffered frames preceding the
	// trigger, oldest first, with the trigger frame last.
	Preroll []audio.Frame

	// Confidence is the wake detection confidence for EventWake.
	Confidence float64

	// Err is set for EventFatal.
	Err error
}

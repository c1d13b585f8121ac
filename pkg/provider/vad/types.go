package vad

// Event represents a voice activity detection result for a single frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Probability is the smoothed speech probability (0.0–1.0).
	Probability float64
}

// Speaking reports whether the event indicates active speech.
func (e Event) Speaking() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech-start"
	case SpeechContinue:
		return "speech-continue"
	case SpeechEnd:
		return "speech-end"
	default:
		return "unknown"
	}
}

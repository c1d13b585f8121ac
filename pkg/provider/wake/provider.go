// Package wake defines the Engine interface for wake-word spotting backends.
//
// A wake engine wraps an opaque per-frame scoring model (an ONNX wakeword
// cascade, an energy heuristic, or any other detector) and surfaces it as a
// stateful per-stream session. The session owns the debounce logic: after a
// trigger, further triggers are suppressed until a configurable re-arm
// interval of audio time has elapsed, so a single spoken wake phrase cannot
// fire twice.
//
// Spotting is synchronous by design: ProcessFrame returns immediately with
// the detection result for that frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package wake

import "fmt"

// Config holds the parameters for a wake-spotting session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// Threshold is the confidence above which a frame triggers a detection.
	// Range: [0.0, 1.0]. Typical: 0.5.
	Threshold float64

	// RearmMs is the minimum audio time in milliseconds between two
	// detections. Suppresses duplicate triggers from a single wake phrase.
	// Default: 1000.
	RearmMs int
}

// Normalize fills defaults and validates ranges.
func (c *Config) Normalize() error {
	if c.RearmMs <= 0 {
		c.RearmMs = 1000
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("wake: sample rate %d is invalid", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("wake: frame size %dms is invalid", c.FrameSizeMs)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("wake: threshold %.2f is out of range [0, 1]", c.Threshold)
	}
	return nil
}

// Detection is the spotting result for a single frame.
type Detection struct {
	// Triggered reports whether this frame fired a (debounced) detection.
	Triggered bool

	// Confidence is the model score for the current window (0.0–1.0).
	Confidence float64
}

// SessionHandle represents an active wake-spotting session for a single
// audio stream. It is an interface so that test code can supply mock
// implementations without a live model.
type SessionHandle interface {
	// ProcessFrame scores a single audio frame. The frame must be raw
	// little-endian PCM16 at the configured SampleRate and FrameSizeMs.
	// It must not block.
	ProcessFrame(frame []byte) (Detection, error)

	// Reset clears all accumulated state, including the debounce clock, so
	// the session behaves like a fresh one. Use this when spotting is
	// re-armed after an utterance completes.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for wake-spotting sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new spotting session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}

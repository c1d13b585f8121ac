// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (an energy heuristic, a
// Silero-style neural model, or any other scorer) and surfaces it as a
// stateful per-stream session. Each session maintains its own smoothing
// window and hysteresis counters so that independent audio streams can be
// processed concurrently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency pipeline stage
// that decides when an utterance ends.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "fmt"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// detectors operate on fixed frame sizes (e.g., 10, 20, or 30 ms).
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the smoothed probability above which a frame counts
	// toward entering the speaking state. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the smoothed probability below which a frame counts
	// toward leaving the speaking state. Must be ≤ SpeechThreshold.
	// Typical: 0.35.
	SilenceThreshold float64

	// StartFrames is the number of consecutive frames above SpeechThreshold
	// required to enter the speaking state. Default: 2.
	StartFrames int

	// EndFrames is the number of consecutive frames below SilenceThreshold
	// required to leave the speaking state. Typically larger than StartFrames
	// so that brief pauses do not clip the tail of an utterance. Default: 5.
	EndFrames int

	// SmoothingWindow is the length of the rolling mean applied to raw
	// per-frame probabilities before thresholding. Default: 3.
	SmoothingWindow int
}

// Normalize fills defaults and validates ranges.
func (c *Config) Normalize() error {
	if c.StartFrames <= 0 {
		c.StartFrames = 2
	}
	if c.EndFrames <= 0 {
		c.EndFrames = 5
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 3
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate %d is invalid", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("vad: frame size %dms is invalid", c.FrameSizeMs)
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("vad: speech threshold %.2f is out of range [0, 1]", c.SpeechThreshold)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		return fmt.Errorf("vad: silence threshold %.2f must be in [0, %.2f]", c.SilenceThreshold, c.SpeechThreshold)
	}
	if c.EndFrames < c.StartFrames {
		return fmt.Errorf("vad: end frames %d must be >= start frames %d", c.EndFrames, c.StartFrames)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own detection state;
// Reset clears this state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM16 at the configured
	// SampleRate and FrameSizeMs. It must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears all accumulated detection state (smoothing window,
	// hysteresis counters) without closing the session. Use this when the
	// audio stream is re-armed so stale state from the previous utterance
	// does not leak into the next one.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid or resources cannot
	// be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}

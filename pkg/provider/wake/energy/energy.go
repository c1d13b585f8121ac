// Package energy implements [wake.Engine] with a sustained-energy heuristic.
//
// Confidence is the mean normalised RMS level over a short trailing window
// of frames, divided by a reference level and clamped to [0, 1]. A sustained
// loud burst therefore reads as a wake trigger. This backend exists for
// development and keyboard-free smoke testing on machines without model
// files; any real deployment should use the openww backend.
package energy

import (
	"fmt"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// DefaultRMSReference is the mean normalised RMS level mapped to
// confidence 1.0.
const DefaultRMSReference = 0.08

// DefaultWindowFrames is the trailing window length used for the mean.
const DefaultWindowFrames = 10

// Engine creates energy-based wake sessions. The zero value is ready to use.
type Engine struct {
	// RMSReference overrides [DefaultRMSReference] when positive.
	RMSReference float64

	// WindowFrames overrides [DefaultWindowFrames] when positive.
	WindowFrames int
}

var _ wake.Engine = (*Engine)(nil)

// New returns an Engine with default tuning.
func New() *Engine { return &Engine{} }

// NewSession creates a session for one audio stream.
func (e *Engine) NewSession(cfg wake.Config) (wake.SessionHandle, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	ref := e.RMSReference
	if ref <= 0 {
		ref = DefaultRMSReference
	}
	win := e.WindowFrames
	if win <= 0 {
		win = DefaultWindowFrames
	}
	return &session{
		cfg:        cfg,
		ref:        ref,
		win:        win,
		frameBytes: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}.FrameBytes(time.Duration(cfg.FrameSizeMs) * time.Millisecond),
		window:     make([]float64, 0, win),
	}, nil
}

// session holds per-stream window and debounce state. Not safe for
// concurrent use.
type session struct {
	cfg        wake.Config
	ref        float64
	win        int
	frameBytes int

	window []float64

	// elapsedMs is the audio time processed so far; lastTriggerMs is the
	// audio time of the most recent trigger, -1 when none has fired yet.
	elapsedMs     int
	lastTriggerMs int
	armedOnce     bool
	closed        bool
}

var _ wake.SessionHandle = (*session)(nil)

// ProcessFrame scores one frame against the trailing-window mean.
func (s *session) ProcessFrame(frame []byte) (wake.Detection, error) {
	if s.closed {
		return wake.Detection{}, fmt.Errorf("wake energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return wake.Detection{}, fmt.Errorf("wake energy: frame is %d bytes, expected %d", len(frame), s.frameBytes)
	}

	if len(s.window) == s.win {
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, audio.RMS(frame))

	var sum float64
	for _, v := range s.window {
		sum += v
	}
	conf := sum / float64(len(s.window)) / s.ref
	if conf > 1 {
		conf = 1
	}

	s.elapsedMs += s.cfg.FrameSizeMs

	det := wake.Detection{Confidence: conf}
	if conf >= s.cfg.Threshold && s.rearmed() {
		det.Triggered = true
		s.armedOnce = true
		s.lastTriggerMs = s.elapsedMs
		// Clear the window so the same burst cannot re-trigger after re-arm.
		s.window = s.window[:0]
	}
	return det, nil
}

// rearmed reports whether enough audio time has passed since the last
// trigger.
func (s *session) rearmed() bool {
	if !s.armedOnce {
		return true
	}
	return s.elapsedMs-s.lastTriggerMs >= s.cfg.RearmMs
}

// Reset clears the window and the debounce clock.
func (s *session) Reset() {
	s.window = s.window[:0]
	s.elapsedMs = 0
	s.lastTriggerMs = 0
	s.armedOnce = false
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// Package energy implements [vad.Engine] with an RMS energy heuristic.
//
// The raw per-frame probability is the frame's normalised RMS level divided
// by a reference level and clamped to [0, 1]. A rolling mean smooths the
// raw scores, and the speaking decision applies asymmetric hysteresis:
// StartFrames consecutive frames above the speech threshold enter the
// speaking state, EndFrames consecutive frames below the silence threshold
// leave it. The asymmetry prefers over-capture to clipped utterances.
//
// The heuristic needs no model files and runs anywhere, which makes it the
// default backend; swap in a neural scorer via the [vad.Engine] interface
// when detection quality matters more than portability.
package energy

import (
	"fmt"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultRMSReference is the normalised RMS level mapped to probability 1.0.
// Conversational speech close to a microphone typically peaks around 0.1;
// 0.05 keeps ordinary speaking levels comfortably above a 0.5 threshold.
const DefaultRMSReference = 0.05

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct {
	// RMSReference overrides [DefaultRMSReference] when positive.
	RMSReference float64
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine with the default reference level.
func New() *Engine { return &Engine{} }

// NewSession creates a session for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	ref := e.RMSReference
	if ref <= 0 {
		ref = DefaultRMSReference
	}
	return &session{
		cfg:        cfg,
		ref:        ref,
		frameBytes: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}.FrameBytes(time.Duration(cfg.FrameSizeMs) * time.Millisecond),
		window:     make([]float64, 0, cfg.SmoothingWindow),
	}, nil
}

// session holds per-stream smoothing and hysteresis state. Not safe for
// concurrent use.
type session struct {
	cfg        vad.Config
	ref        float64
	frameBytes int

	window   []float64
	speaking bool
	above    int
	below    int
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame scores one frame and advances the hysteresis state machine.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("vad energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("vad energy: frame is %d bytes, expected %d", len(frame), s.frameBytes)
	}

	raw := audio.RMS(frame) / s.ref
	if raw > 1 {
		raw = 1
	}
	prob := s.smooth(raw)

	wasSpeaking := s.speaking
	if s.speaking {
		if prob < s.cfg.SilenceThreshold {
			s.below++
			s.above = 0
			if s.below >= s.cfg.EndFrames {
				s.speaking = false
				s.below = 0
			}
		} else {
			s.below = 0
		}
	} else {
		if prob >= s.cfg.SpeechThreshold {
			s.above++
			s.below = 0
			if s.above >= s.cfg.StartFrames {
				s.speaking = true
				s.above = 0
			}
		} else {
			s.above = 0
		}
	}

	ev := vad.Event{Probability: prob}
	switch {
	case s.speaking && !wasSpeaking:
		ev.Type = vad.SpeechStart
	case s.speaking:
		ev.Type = vad.SpeechContinue
	case wasSpeaking:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

// smooth appends raw to the rolling window and returns the mean.
func (s *session) smooth(raw float64) float64 {
	if len(s.window) == s.cfg.SmoothingWindow {
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, raw)

	var sum float64
	for _, v := range s.window {
		sum += v
	}
	return sum / float64(len(s.window))
}

// Reset clears the smoothing window and hysteresis counters.
func (s *session) Reset() {
	s.window = s.window[:0]
	s.speaking = false
	s.above = 0
	s.below = 0
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.closed = true
	return nil
}

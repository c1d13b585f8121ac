// Package mock provides test doubles for the wake package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-frame detections: TriggerAt marks the 0-based
// ProcessFrame call indices that report a trigger.
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg wake.Config
}

// Engine is a mock implementation of wake.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil,
	// NewSession returns a new default Session.
	Session wake.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg wake.Config) (wake.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ wake.Engine = (*Engine)(nil)

// Session is a mock implementation of wake.SessionHandle.
type Session struct {
	mu sync.Mutex

	// TriggerAt holds the 0-based ProcessFrame call indices that report a
	// triggered detection with Confidence 1.0. All other calls report
	// Confidence 0.0.
	TriggerAt map[int]bool

	// Errs maps a ProcessFrame call index to an error to return instead of
	// a detection.
	Errs map[int]error

	// ProcessFrameCount is the number of ProcessFrame calls so far.
	ProcessFrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame returns the scripted detection or error for this call index.
func (s *Session) ProcessFrame(_ []byte) (wake.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.ProcessFrameCount
	s.ProcessFrameCount++
	if err, ok := s.Errs[i]; ok {
		return wake.Detection{}, err
	}
	if s.TriggerAt[i] {
		return wake.Detection{Triggered: true, Confidence: 1.0}, nil
	}
	return wake.Detection{}, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var _ wake.SessionHandle = (*Session)(nil)

// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script Event responses and inspect the frames submitted
// for processing.
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil,
	// NewSession returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
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

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. Events are consumed
// from Script in order; when Script is exhausted, Fallback is returned.
type Session struct {
	mu sync.Mutex

	// Script is the ordered list of events to return from ProcessFrame.
	Script []vad.Event

	// Fallback is returned once Script is exhausted.
	Fallback vad.Event

	// Errs maps a ProcessFrame call index (0-based) to an error to return
	// instead of an event.
	Errs map[int]error

	// ProcessFrameCount is the number of ProcessFrame calls so far.
	ProcessFrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame returns the next scripted event or error.
func (s *Session) ProcessFrame(_ []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.ProcessFrameCount
	s.ProcessFrameCount++
	if err, ok := s.Errs[i]; ok {
		return vad.Event{}, err
	}
	if i < len(s.Script) {
		return s.Script[i], nil
	}
	return s.Fallback, nil
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

var _ vad.SessionHandle = (*Session)(nil)

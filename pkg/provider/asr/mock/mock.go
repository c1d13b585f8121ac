// Package mock provides a scripted asr.Recognizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/asr"
)

// Ensure Recognizer implements the asr.Recognizer interface.
var _ asr.Recognizer = (*Recognizer)(nil)

// Call records one Transcribe invocation.
type Call struct {
	PCM []byte
	Cfg asr.Config
}

// Recognizer is a scripted recognizer that records every call. Safe for
// concurrent use.
type Recognizer struct {
	mu sync.Mutex

	// Script holds the transcripts to return, one per call, in order. When
	// the script is exhausted, Fallback is returned.
	Script []asr.Transcript

	// Fallback is returned once Script is exhausted.
	Fallback asr.Transcript

	// Errs maps a zero-based call index to an error returned instead of a
	// transcript.
	Errs map[int]error

	// Block, when non-nil, is received from before returning. Lets tests
	// hold a transcription in flight.
	Block chan struct{}

	calls      []Call
	closeCalls int
}

// Transcribe implements asr.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, cfg asr.Config) (asr.Transcript, error) {
	r.mu.Lock()
	idx := len(r.calls)
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.calls = append(r.calls, Call{PCM: cp, Cfg: cfg})
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return asr.Transcript{}, ctx.Err()
		}
	}

	if err, ok := r.Errs[idx]; ok {
		return asr.Transcript{}, err
	}
	if idx < len(r.Script) {
		return r.Script[idx], nil
	}
	return r.Fallback, nil
}

// Close implements asr.Recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
	return nil
}

// Calls returns a copy of all recorded Transcribe calls.
func (r *Recognizer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CloseCalls reports how many times Close has been called.
func (r *Recognizer) CloseCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

// Package asr defines the speech-recognition provider abstraction.
//
// Recognizers are batch oriented: the session pipeline hands over one
// complete, sealed utterance at a time and the recognizer returns a single
// transcript for it. Implementations live in subpackages (whisper, openai)
// plus a mock subpackage for testing.
package asr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyUtterance is returned when a recognizer is handed zero PCM bytes.
var ErrEmptyUtterance = errors.New("asr: utterance contains no audio")

// Config describes the PCM audio handed to a recognizer.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Required.
	SampleRate int

	// Channels is the channel count. Defaults to 1.
	Channels int

	// Language is the BCP-47 language code (e.g. "en", "de"). Empty lets the
	// recognizer use its own default.
	Language string
}

// Normalize applies defaults and validates the configuration.
func (c *Config) Normalize() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("asr: sample rate %d must be positive", c.SampleRate)
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.Channels < 0 {
		return fmt.Errorf("asr: channel count %d must be positive", c.Channels)
	}
	return nil
}

// Transcript is the result of recognizing one utterance.
type Transcript struct {
	// Text is the recognized text, trimmed of leading/trailing whitespace.
	// May be empty if the utterance contained no recognizable speech.
	Text string

	// Confidence is the recognizer's confidence in [0, 1], or 0 if the
	// backend does not report one.
	Confidence float64

	// Duration is how long the recognition call took.
	Duration time.Duration
}

// Recognizer transcribes complete utterances. Implementations must be safe
// for sequential reuse; the pipeline calls Transcribe one utterance at a
// time from a single worker.
type Recognizer interface {
	// Transcribe recognizes one utterance of raw 16-bit little-endian signed
	// PCM audio and returns its transcript. The context bounds the call;
	// implementations should abort promptly when it is cancelled.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Transcript, error)

	// Close releases any resources held by the recognizer.
	Close() error
}

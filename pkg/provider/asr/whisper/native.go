// This file contains the Recognizer implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Recognizer implements asr.Recognizer using whisper.cpp Go bindings (CGO),
// eliminating any network round trip. The model is loaded once at startup
// and a fresh whisper context is created per utterance.
type Recognizer struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the default BCP-47 language code for transcription
// (e.g. "en", "de", "fr"). It is used when the per-call Config carries no
// language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// New creates a Recognizer that loads the whisper.cpp model from the given
// file path. The caller must call Close when the recognizer is no longer
// needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &Recognizer{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe runs whisper.cpp inference over one complete utterance.
func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, cfg asr.Config) (asr.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return asr.Transcript{}, err
	}
	if len(pcm) == 0 {
		return asr.Transcript{}, asr.ErrEmptyUtterance
	}

	lang := cfg.Language
	if lang == "" {
		lang = r.language
	}

	samples := audio.Float32Mono(pcm, cfg.Channels)

	// Each whisper context is NOT thread-safe, but the model can be shared,
	// so create a fresh context per utterance.
	wctx, err := r.model.NewContext()
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return asr.Transcript{
		Text:     strings.Join(parts, " "),
		Duration: time.Since(start),
	}, nil
}

// Close releases the whisper model. Must be called when the recognizer is
// no longer needed.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

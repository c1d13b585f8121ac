// Package openai provides a speech recognizer backed by the OpenAI audio
// transcription API (Whisper). Utterance PCM is wrapped in a minimal WAV
// container and uploaded as a single request per utterance.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/provider/asr"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Recognizer implements the asr.Recognizer interface.
var _ asr.Recognizer = (*Recognizer)(nil)

// Recognizer implements asr.Recognizer using the OpenAI API.
type Recognizer struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Recognizer.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Recognizer{client: client, model: model}, nil
}

// Transcribe implements asr.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, cfg asr.Config) (asr.Transcript, error) {
	if err := cfg.Normalize(); err != nil {
		return asr.Transcript{}, err
	}
	if len(pcm) == 0 {
		return asr.Transcript{}, asr.ErrEmptyUtterance
	}

	wav := wrapWAV(pcm, cfg.SampleRate, cfg.Channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: r.model,
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}

	start := time.Now()
	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("openai asr: transcribe: %w", err)
	}

	return asr.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Duration: time.Since(start),
	}, nil
}

// Close implements asr.Recognizer. The OpenAI client holds no resources
// that need explicit release.
func (r *Recognizer) Close() error { return nil }

// wrapWAV prepends a canonical 44-byte RIFF/WAVE header for 16-bit PCM.
func wrapWAV(pcm []byte, sampleRate, channels int) []byte {
	const (
		bitsPerSample = 16
		headerSize    = 44
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, 0, headerSize+len(pcm))
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+len(pcm)))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bitsPerSample))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)

	return w.Bytes()
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known implementation names per component kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"source":     {"miniaudio"},
	"wake":       {"openww", "energy"},
	"vad":        {"energy"},
	"recognizer": {"whisper-native", "openai"},
}

// validFrameMs lists the supported frame lengths. 20 ms is the pipeline
// default; the other values are the standard Opus frame sizes.
var validFrameMs = []int{10, 20, 30, 60}

// Defaults applied by [ApplyDefaults] for fields left at their zero value.
const (
	DefaultSampleRate       = 16000
	DefaultFrameMs          = 20
	DefaultQueueFrames      = 50
	DefaultWakeThreshold    = 0.5
	DefaultRearmMs          = 1000
	DefaultPrerollFrames    = 6
	DefaultSpeechThreshold  = 0.5
	DefaultSilenceThreshold = 0.35
	DefaultStartFrames      = 2
	DefaultEndFrames        = 5
	DefaultSmoothingWindow  = 3
	DefaultSilenceTimeoutMs = 800
	DefaultMaxUtteranceMs   = 30000
	DefaultArchiveDir       = "utterances"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.Audio.QueueFrames == 0 {
		cfg.Audio.QueueFrames = DefaultQueueFrames
	}
	if cfg.Wake.Threshold == 0 {
		cfg.Wake.Threshold = DefaultWakeThreshold
	}
	if cfg.Wake.RearmMs == 0 {
		cfg.Wake.RearmMs = DefaultRearmMs
	}
	if cfg.Wake.PrerollFrames == 0 {
		cfg.Wake.PrerollFrames = DefaultPrerollFrames
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.VAD.SilenceThreshold == 0 {
		cfg.VAD.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.VAD.StartFrames == 0 {
		cfg.VAD.StartFrames = DefaultStartFrames
	}
	if cfg.VAD.EndFrames == 0 {
		cfg.VAD.EndFrames = DefaultEndFrames
	}
	if cfg.VAD.SmoothingWindow == 0 {
		cfg.VAD.SmoothingWindow = DefaultSmoothingWindow
	}
	if cfg.Session.SilenceTimeoutMs == 0 {
		cfg.Session.SilenceTimeoutMs = DefaultSilenceTimeoutMs
	}
	if cfg.Session.MaxUtteranceMs == 0 {
		cfg.Session.MaxUtteranceMs = DefaultMaxUtteranceMs
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = DefaultArchiveDir
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Implementation name validation — warn for unknown names.
	validateProviderName("source", cfg.Audio.Source.Name)
	validateProviderName("wake", cfg.Wake.Provider.Name)
	validateProviderName("vad", cfg.VAD.Provider.Name)
	validateProviderName("recognizer", cfg.Recognizer.Name)

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if !slices.Contains(validFrameMs, cfg.Audio.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30, 60", cfg.Audio.FrameMs))
	}
	if cfg.Audio.QueueFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_frames %d must be positive", cfg.Audio.QueueFrames))
	}

	// Wake
	if cfg.Wake.Threshold < 0 || cfg.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold %.2f is out of range [0, 1]", cfg.Wake.Threshold))
	}
	if cfg.Wake.RearmMs < 0 {
		errs = append(errs, fmt.Errorf("wake.rearm_ms %d must not be negative", cfg.Wake.RearmMs))
	}
	if cfg.Wake.PrerollFrames < 0 {
		errs = append(errs, fmt.Errorf("wake.preroll_frames %d must not be negative", cfg.Wake.PrerollFrames))
	}

	// VAD
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f is out of range [0, 1]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f must not exceed vad.speech_threshold %.2f", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.StartFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.start_frames %d must be positive", cfg.VAD.StartFrames))
	}
	if cfg.VAD.EndFrames < cfg.VAD.StartFrames {
		errs = append(errs, fmt.Errorf("vad.end_frames %d must be at least vad.start_frames %d", cfg.VAD.EndFrames, cfg.VAD.StartFrames))
	}
	if cfg.VAD.SmoothingWindow <= 0 {
		errs = append(errs, fmt.Errorf("vad.smoothing_window %d must be positive", cfg.VAD.SmoothingWindow))
	}

	// Session
	if cfg.Session.SilenceTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("session.silence_timeout_ms %d must be positive", cfg.Session.SilenceTimeoutMs))
	}
	if cfg.Session.MaxUtteranceMs <= cfg.Session.SilenceTimeoutMs {
		errs = append(errs, fmt.Errorf("session.max_utterance_ms %d must exceed session.silence_timeout_ms %d", cfg.Session.MaxUtteranceMs, cfg.Session.SilenceTimeoutMs))
	}

	// Commands
	nameSeen := make(map[string]int, len(cfg.Commands))
	for i, cmd := range cfg.Commands {
		prefix := fmt.Sprintf("commands[%d]", i)
		if cmd.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := nameSeen[cmd.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of commands[%d]", prefix, cmd.Name, prev))
			}
			nameSeen[cmd.Name] = i
		}
		if len(cmd.Phrases) == 0 {
			errs = append(errs, fmt.Errorf("%s.phrases must not be empty", prefix))
		}
	}

	// Archive
	if cfg.Archive.Enabled && cfg.Archive.Dir == "" {
		errs = append(errs, fmt.Errorf("archive.dir is required when archive.enabled is true"))
	}

	// Soft warnings.
	if cfg.Recognizer.Name == "" {
		slog.Warn("no recognizer configured; sealed utterances will be discarded after archiving")
	}
	if cfg.Recognizer.Name == "openai" && cfg.Recognizer.APIKey == "" {
		slog.Warn("recognizer.api_key is empty for the openai recognizer; requests will fail")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Package config provides the configuration schema, loader, and provider
// registry for the Earshot capture pipeline.
package config

// LogLevel controls log verbosity for the Earshot daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Audio      AudioConfig     `yaml:"audio"`
	Wake       WakeConfig      `yaml:"wake"`
	VAD        VADConfig       `yaml:"vad"`
	Session    SessionConfig   `yaml:"session"`
	Recognizer ProviderEntry   `yaml:"recognizer"`
	Commands   []CommandConfig `yaml:"commands"`
	Archive    ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds logging and metrics settings for the Earshot daemon.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address for the /metrics and health endpoints
	// (e.g., ":9090"). Empty disables the HTTP server entirely.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderEntry is the common configuration block shared by all pluggable
// components. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openww", "energy",
	// "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for remote recognizers, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides a remote recognizer's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the implementation: a file path for local
	// models (e.g., "models/ggml-base.en.bin") or a model name for remote
	// ones (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Language is the BCP-47 language code for recognizers (e.g., "en").
	Language string `yaml:"language"`

	// Options holds implementation-specific configuration values not covered
	// by the standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig describes the capture source and frame geometry.
type AudioConfig struct {
	// Source selects the capture implementation (e.g., "miniaudio").
	Source ProviderEntry `yaml:"source"`

	// SampleRate is the capture sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the frame length in milliseconds. Must be one of
	// 10, 20, 30, or 60. Default 20.
	FrameMs int `yaml:"frame_ms"`

	// QueueFrames is the per-consumer fan-out queue capacity. Default 50.
	QueueFrames int `yaml:"queue_frames"`
}

// WakeConfig configures the wake-phrase spotter.
type WakeConfig struct {
	// Provider selects the spotter implementation.
	Provider ProviderEntry `yaml:"provider"`

	// Threshold is the trigger confidence in [0, 1]. Default 0.5.
	Threshold float64 `yaml:"threshold"`

	// RearmMs is the debounce window after a trigger, in milliseconds of
	// audio time. Default 1000.
	RearmMs int `yaml:"rearm_ms"`

	// PrerollFrames is how many pre-trigger frames each utterance carries.
	// Default 6.
	PrerollFrames int `yaml:"preroll_frames"`
}

// VADConfig configures voice-activity detection hysteresis.
type VADConfig struct {
	// Provider selects the VAD implementation.
	Provider ProviderEntry `yaml:"provider"`

	// SpeechThreshold enters speech when the smoothed probability exceeds
	// it. Default 0.5.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold leaves speech when the smoothed probability falls
	// below it. Must not exceed SpeechThreshold. Default 0.35.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// StartFrames is how many consecutive speech frames open a speech run.
	// Default 2.
	StartFrames int `yaml:"start_frames"`

	// EndFrames is how many consecutive silence frames close a speech run.
	// Must be at least StartFrames. Default 5.
	EndFrames int `yaml:"end_frames"`

	// SmoothingWindow is the probability rolling-mean length. Default 3.
	SmoothingWindow int `yaml:"smoothing_window"`
}

// SessionConfig holds the utterance seal deadlines.
type SessionConfig struct {
	// SilenceTimeoutMs seals an utterance after this much continuous
	// silence. Default 800.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`

	// MaxUtteranceMs truncates an utterance at this length. Must exceed
	// SilenceTimeoutMs. Default 30000.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
}

// CommandConfig maps a named command to the phrases that invoke it.
type CommandConfig struct {
	// Name identifies the command in logs and hand-offs.
	Name string `yaml:"name"`

	// Phrases lists the spoken forms matched against transcripts.
	Phrases []string `yaml:"phrases"`
}

// ArchiveConfig controls on-disk archiving of sealed utterances.
type ArchiveConfig struct {
	// Enabled turns archiving on. Default false.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory archive files are written to. Default
	// "utterances".
	Dir string `yaml:"dir"`
}

// Package config resolves, parses, validates, and defaults parley configuration.
package config

import "time"

// EnvPrefix namespaces every parley environment override.
const EnvPrefix = "PARLEY_"

// Config is the fully materialized runtime configuration used by parley.
// Secrets (API keys) are loaded exclusively from environment variables and
// never appear in the config file.
type Config struct {
	Assistant  AssistantConfig  `yaml:"assistant"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	Cues       CueConfig        `yaml:"cues"`
	Feed       FeedConfig       `yaml:"feed"`
	Journal    JournalConfig    `yaml:"journal"`
	Debug      DebugConfig      `yaml:"debug"`

	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

// AssistantConfig locates the data-assistant websocket endpoint.
type AssistantConfig struct {
	URL           string `yaml:"url"`
	DialTimeoutMS int    `yaml:"dial_timeout_ms"`
}

// DialTimeout returns the websocket dial deadline.
func (c AssistantConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// RecognizerConfig selects and tunes the speech-recognition backend.
type RecognizerConfig struct {
	Backend        string `yaml:"backend"`
	Language       string `yaml:"language"`
	Model          string `yaml:"model"`
	InterimResults bool   `yaml:"interim_results"`
	SmartFormat    bool   `yaml:"smart_format"`
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string `yaml:"input"`
	Fallback string `yaml:"fallback"`
}

// SessionConfig tunes conversation lifecycle timing and dispatch filtering.
// Zero values for the filter knobs defer to the recognizer backend profile.
type SessionConfig struct {
	ReplyReceivedMS    int           `yaml:"reply_received_ms"`
	ReplyReadyMS       int           `yaml:"reply_ready_ms"`
	ErrorRecoverMS     int           `yaml:"error_recover_ms"`
	MinUtteranceChars  int           `yaml:"min_utterance_chars"`
	DispatchCooldownMS int           `yaml:"dispatch_cooldown_ms"`
	Restart            RestartConfig `yaml:"restart"`
}

// ReplyReceivedDelay returns the reply-received display window.
func (c SessionConfig) ReplyReceivedDelay() time.Duration {
	return time.Duration(c.ReplyReceivedMS) * time.Millisecond
}

// ReplyReadyDelay returns the reply-ready display window.
func (c SessionConfig) ReplyReadyDelay() time.Duration {
	return time.Duration(c.ReplyReadyMS) * time.Millisecond
}

// ErrorRecoverDelay returns the auto-recovery delay for non-sticky errors.
func (c SessionConfig) ErrorRecoverDelay() time.Duration {
	return time.Duration(c.ErrorRecoverMS) * time.Millisecond
}

// DispatchCooldown returns the duplicate-dispatch cooldown override.
func (c SessionConfig) DispatchCooldown() time.Duration {
	return time.Duration(c.DispatchCooldownMS) * time.Millisecond
}

// RestartConfig bounds recognizer restart scheduling.
type RestartConfig struct {
	DebounceMS  int `yaml:"debounce_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// Debounce returns the restart debounce override.
func (c RestartConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// CueConfig controls audible cue playback. The file fields override the
// built-in synthesized tones with user-supplied audio files.
type CueConfig struct {
	Enable        bool   `yaml:"enable"`
	ListeningFile string `yaml:"listening_file"`
	DispatchFile  string `yaml:"dispatch_file"`
	ReplyFile     string `yaml:"reply_file"`
	ErrorFile     string `yaml:"error_file"`
}

// FeedConfig controls the local event-feed listener.
type FeedConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// JournalConfig controls the exchange journal. An empty path resolves under
// the XDG state directory.
type JournalConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// DebugConfig controls log verbosity.
type DebugConfig struct {
	LogLevel string `yaml:"log_level"`
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Message string
}

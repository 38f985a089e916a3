package config

import (
	"fmt"
	"strings"
)

// Validate rejects unusable settings and collects non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	backend := strings.ToLower(strings.TrimSpace(cfg.Recognizer.Backend))
	if backend == "" {
		return nil, fmt.Errorf("recognizer.backend must not be empty")
	}
	if backend != BackendDeepgram && backend != BackendWhisper {
		return nil, fmt.Errorf("recognizer.backend must be one of: %s, %s", BackendDeepgram, BackendWhisper)
	}
	if strings.TrimSpace(cfg.Recognizer.Language) == "" {
		return nil, fmt.Errorf("recognizer.language must not be empty")
	}

	url := strings.TrimSpace(cfg.Assistant.URL)
	if url == "" {
		return nil, fmt.Errorf("assistant.url must not be empty")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("assistant.url must use ws:// or wss://")
	}
	if cfg.Assistant.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("assistant.dial_timeout_ms must be > 0")
	}

	if cfg.Session.ReplyReceivedMS < 0 {
		return nil, fmt.Errorf("session.reply_received_ms must be >= 0")
	}
	if cfg.Session.ReplyReadyMS < 0 {
		return nil, fmt.Errorf("session.reply_ready_ms must be >= 0")
	}
	if cfg.Session.ErrorRecoverMS < 0 {
		return nil, fmt.Errorf("session.error_recover_ms must be >= 0")
	}
	if cfg.Session.MinUtteranceChars < 0 {
		return nil, fmt.Errorf("session.min_utterance_chars must be >= 0")
	}
	if cfg.Session.DispatchCooldownMS < 0 {
		return nil, fmt.Errorf("session.dispatch_cooldown_ms must be >= 0")
	}
	if cfg.Session.Restart.DebounceMS < 0 {
		return nil, fmt.Errorf("session.restart.debounce_ms must be >= 0")
	}
	if cfg.Session.Restart.MaxAttempts <= 0 {
		return nil, fmt.Errorf("session.restart.max_attempts must be > 0")
	}

	if cfg.Feed.Enable && strings.TrimSpace(cfg.Feed.Listen) == "" {
		return nil, fmt.Errorf("feed.listen must not be empty when feed.enable=true")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Debug.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("unknown debug.log_level %q; using info", cfg.Debug.LogLevel),
		})
	}

	if backend == BackendDeepgram && cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, Warning{
			Message: "Deepgram API key not set; listening will fail until " + EnvPrefix + "DEEPGRAM_API_KEY or DEEPGRAM_API_KEY is exported",
		})
	}
	if backend == BackendWhisper && cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, Warning{
			Message: "OpenAI API key not set; listening will fail until " + EnvPrefix + "OPENAI_API_KEY or OPENAI_API_KEY is exported",
		})
	}

	return warnings, nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty backend", mutate: func(c *Config) { c.Recognizer.Backend = "" }, wantErr: "recognizer.backend"},
		{name: "unknown backend", mutate: func(c *Config) { c.Recognizer.Backend = "riva" }, wantErr: "recognizer.backend"},
		{name: "empty language", mutate: func(c *Config) { c.Recognizer.Language = "" }, wantErr: "recognizer.language"},
		{name: "empty assistant url", mutate: func(c *Config) { c.Assistant.URL = "" }, wantErr: "assistant.url"},
		{name: "non-websocket assistant url", mutate: func(c *Config) { c.Assistant.URL = "http://x/assistant" }, wantErr: "ws://"},
		{name: "zero dial timeout", mutate: func(c *Config) { c.Assistant.DialTimeoutMS = 0 }, wantErr: "dial_timeout_ms"},
		{name: "negative reply received", mutate: func(c *Config) { c.Session.ReplyReceivedMS = -1 }, wantErr: "reply_received_ms"},
		{name: "negative reply ready", mutate: func(c *Config) { c.Session.ReplyReadyMS = -1 }, wantErr: "reply_ready_ms"},
		{name: "negative error recover", mutate: func(c *Config) { c.Session.ErrorRecoverMS = -1 }, wantErr: "error_recover_ms"},
		{name: "negative min chars", mutate: func(c *Config) { c.Session.MinUtteranceChars = -1 }, wantErr: "min_utterance_chars"},
		{name: "negative cooldown", mutate: func(c *Config) { c.Session.DispatchCooldownMS = -1 }, wantErr: "dispatch_cooldown_ms"},
		{name: "negative debounce", mutate: func(c *Config) { c.Session.Restart.DebounceMS = -1 }, wantErr: "debounce_ms"},
		{name: "zero max attempts", mutate: func(c *Config) { c.Session.Restart.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "feed enabled without listen", mutate: func(c *Config) {
			c.Feed.Enable = true
			c.Feed.Listen = ""
		}, wantErr: "feed.listen"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsOnUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Debug.LogLevel = "chatty"
	cfg.DeepgramAPIKey = "dg-test"

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "log_level")
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.DeepgramAPIKey = "dg-test"

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Empty(t, warnings)
}

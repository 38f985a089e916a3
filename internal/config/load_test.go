package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.yaml"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "parley", "config.yaml"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "parley", "config.yaml"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	clearParleyEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default().Assistant, loaded.Config.Assistant)
	require.Equal(t, Default().Session, loaded.Config.Session)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingYAMLParsesAndValidates(t *testing.T) {
	clearParleyEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
assistant:
  url: ws://10.0.0.5:9000/assistant
  dial_timeout_ms: 2500
recognizer:
  backend: whisper
  language: en-GB
session:
  reply_ready_ms: 1200
  restart:
    max_attempts: 3
feed:
  enable: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "ws://10.0.0.5:9000/assistant", loaded.Config.Assistant.URL)
	require.Equal(t, 2500, loaded.Config.Assistant.DialTimeoutMS)
	require.Equal(t, BackendWhisper, loaded.Config.Recognizer.Backend)
	require.Equal(t, "en-GB", loaded.Config.Recognizer.Language)
	require.Equal(t, 1200, loaded.Config.Session.ReplyReadyMS)
	require.Equal(t, 3, loaded.Config.Session.Restart.MaxAttempts)
	require.False(t, loaded.Config.Feed.Enable)

	// Unspecified sections keep defaults.
	require.Equal(t, 1500, loaded.Config.Session.ReplyReceivedMS)
	require.Equal(t, "default", loaded.Config.Audio.Input)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearParleyEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assistant: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}

func TestLoadEnvOverridesAndSecrets(t *testing.T) {
	clearParleyEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")
	t.Setenv("PARLEY_ASSISTANT_URL", "wss://assistant.internal/ws")
	t.Setenv("PARLEY_RECOGNIZER_BACKEND", "whisper")
	t.Setenv("PARLEY_RESTART_MAX_ATTEMPTS", "7")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wss://assistant.internal/ws", loaded.Config.Assistant.URL)
	require.Equal(t, BackendWhisper, loaded.Config.Recognizer.Backend)
	require.Equal(t, 7, loaded.Config.Session.Restart.MaxAttempts)
	require.Equal(t, "sk-test", loaded.Config.OpenAIAPIKey)

	t.Setenv("PARLEY_OPENAI_API_KEY", "sk-prefixed")
	loaded, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "sk-prefixed", loaded.Config.OpenAIAPIKey)
}

func TestLoadWarnsWhenBackendKeyMissing(t *testing.T) {
	clearParleyEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")

	loaded, err := Load(path)
	require.NoError(t, err)

	found := false
	for _, w := range loaded.Warnings {
		if strings.Contains(w.Message, "Deepgram API key") {
			found = true
		}
	}
	require.True(t, found, "expected a Deepgram key warning, got %v", loaded.Warnings)
}

func clearParleyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PARLEY_ASSISTANT_URL", "PARLEY_RECOGNIZER_BACKEND", "PARLEY_RECOGNIZER_LANGUAGE",
		"PARLEY_RECOGNIZER_MODEL", "PARLEY_AUDIO_INPUT", "PARLEY_FEED_LISTEN",
		"PARLEY_JOURNAL_PATH", "PARLEY_LOG_LEVEL", "PARLEY_RESTART_MAX_ATTEMPTS",
		"PARLEY_DEEPGRAM_API_KEY", "PARLEY_OPENAI_API_KEY",
		"DEEPGRAM_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
// A missing file falls back to defaults with a warning; environment
// overrides and secrets apply either way.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	cfg := Default()
	exists := true
	warnings := make([]Warning, 0)

	content, err := os.ReadFile(resolvedPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
		exists = false
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	default:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	validated, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}
	warnings = append(warnings, validated...)

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   exists,
	}, nil
}

// applyEnvOverrides lets PARLEY_* variables override scalar file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ASSISTANT_URL"); v != "" {
		cfg.Assistant.URL = v
	}
	if v := os.Getenv(EnvPrefix + "RECOGNIZER_BACKEND"); v != "" {
		cfg.Recognizer.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "RECOGNIZER_LANGUAGE"); v != "" {
		cfg.Recognizer.Language = v
	}
	if v := os.Getenv(EnvPrefix + "RECOGNIZER_MODEL"); v != "" {
		cfg.Recognizer.Model = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_INPUT"); v != "" {
		cfg.Audio.Input = v
	}
	if v := os.Getenv(EnvPrefix + "FEED_LISTEN"); v != "" {
		cfg.Feed.Listen = v
	}
	if v := os.Getenv(EnvPrefix + "JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Debug.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "RESTART_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Session.Restart.MaxAttempts = n
		}
	}
}

// loadSecrets reads API keys from the environment only. The prefixed form
// wins; the providers' conventional names are accepted as fallback.
func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = firstEnv(EnvPrefix+"DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = firstEnv(EnvPrefix+"OPENAI_API_KEY", "OPENAI_API_KEY")
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Package doctor runs runtime readiness diagnostics for config, audio,
// recognizer credentials, the assistant endpoint, and the journal.
package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmather/parley/internal/assistant"
	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/config"
	"github.com/jmather/parley/internal/ipc"
	"github.com/jmather/parley/internal/logging"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkRuntimeDir())
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkCredentials(cfg.Config))
	checks = append(checks, checkAssistantDial(ctx, cfg.Config))

	if cfg.Config.Journal.Enable {
		checks = append(checks, checkJournalDir(cfg.Config))
	}

	return Report{Checks: checks}
}

// checkRuntimeDir validates that the owner socket path is resolvable.
func checkRuntimeDir() Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "runtime.dir", Pass: false, Message: err.Error()}
	}
	return Check{Name: "runtime.dir", Pass: true, Message: fmt.Sprintf("socket path %s", path)}
}

// checkAudioSelection runs live device selection to surface selection and
// fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkCredentials validates the API key for the configured backend. Keys are
// environment-only, so this is the first place a missing export shows up.
func checkCredentials(cfg config.Config) Check {
	backend := strings.ToLower(strings.TrimSpace(cfg.Recognizer.Backend))
	switch backend {
	case config.BackendDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return Check{Name: "recognizer.credentials", Pass: false, Message: "DEEPGRAM_API_KEY is not set"}
		}
		return Check{Name: "recognizer.credentials", Pass: true, Message: "deepgram key present"}
	case config.BackendWhisper:
		if cfg.OpenAIAPIKey == "" {
			return Check{Name: "recognizer.credentials", Pass: false, Message: "OPENAI_API_KEY is not set"}
		}
		return Check{Name: "recognizer.credentials", Pass: true, Message: "openai key present"}
	default:
		return Check{Name: "recognizer.credentials", Pass: false, Message: fmt.Sprintf("unknown backend %q", backend)}
	}
}

// checkAssistantDial probes the assistant websocket endpoint with a short
// handshake, then hangs up.
func checkAssistantDial(ctx context.Context, cfg config.Config) Check {
	url := strings.TrimSpace(cfg.Assistant.URL)
	if url == "" {
		return Check{Name: "assistant.dial", Pass: false, Message: "assistant.url is empty"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client, err := assistant.Dial(probeCtx, assistant.Config{URL: url, DialTimeout: 2 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return Check{Name: "assistant.dial", Pass: false, Message: fmt.Sprintf("dial failed: %v", err)}
	}
	_ = client.Close()
	return Check{Name: "assistant.dial", Pass: true, Message: fmt.Sprintf("reachable at %s", url)}
}

// checkJournalDir validates that the journal directory can be created and
// written.
func checkJournalDir(cfg config.Config) Check {
	path := strings.TrimSpace(cfg.Journal.Path)
	if path == "" {
		dir, err := logging.StateDir()
		if err != nil {
			return Check{Name: "journal.dir", Pass: false, Message: err.Error()}
		}
		path = filepath.Join(dir, "journal.db")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "journal.dir", Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".parley-doctor-*")
	if err != nil {
		return Check{Name: "journal.dir", Pass: false, Message: fmt.Sprintf("write %s: %v", dir, err)}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return Check{Name: "journal.dir", Pass: true, Message: fmt.Sprintf("writable at %s", dir)}
}

// Package app wires configuration, logging, and the session collaborators
// into runnable parley commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmather/parley/internal/assistant"
	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/config"
	"github.com/jmather/parley/internal/cue"
	"github.com/jmather/parley/internal/doctor"
	"github.com/jmather/parley/internal/feed"
	"github.com/jmather/parley/internal/ipc"
	"github.com/jmather/parley/internal/journal"
	"github.com/jmather/parley/internal/logging"
	"github.com/jmather/parley/internal/recognizer"
	"github.com/jmather/parley/internal/recognizer/deepgram"
	"github.com/jmather/parley/internal/recognizer/whisper"
	"github.com/jmather/parley/internal/session"
)

// ExitNoSession distinguishes "no owner is running" from failures, for
// scripting around status.
const ExitNoSession = 3

const (
	socketProbeTimeout = 180 * time.Millisecond
	socketRetries      = 8
	forwardTimeout     = 220 * time.Millisecond
)

// Runner executes parley commands against injected output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Open runs the owner path: acquire the socket, wire the session
// collaborators, serve IPC, and drive the conversation loop until close or
// signal.
func (r Runner) Open(ctx context.Context, configPath string) int {
	cfgLoaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
	}
	cfg := cfgLoaded.Config

	logRuntime, err := logging.New(cfg.Debug.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	logger.Info("parley opening",
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"backend", cfg.Recognizer.Backend,
	)

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	listener, err := ipc.Acquire(ctx, socketPath, socketProbeTimeout, socketRetries, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a parley session is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	adapter := recognizer.NewAdapter(backend, logger)
	defer adapter.Close()

	gate := audio.NewGate(logger, cfg.Audio.Input, cfg.Audio.Fallback)
	cues := cue.NewPlayer(cfg.Cues, logger)

	var jrnl session.Journal
	if cfg.Journal.Enable {
		path, err := journalPath(cfg)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: resolve journal path: %v\n", err)
			return 1
		}
		store, err := journal.Open(path)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: open journal: %v\n", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		jrnl = store
	}

	var dispatcher session.Dispatcher
	if strings.TrimSpace(cfg.Assistant.URL) != "" {
		client, err := assistant.Dial(ctx, assistant.Config{
			URL:         cfg.Assistant.URL,
			DialTimeout: cfg.Assistant.DialTimeout(),
		}, logger)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: connect assistant: %v\n", err)
			return 1
		}
		defer func() { _ = client.Close() }()
		dispatcher = client
	} else {
		logger.Warn("assistant url is empty; utterances will not be dispatched")
	}

	var events session.Events
	var hub *feed.Hub
	if cfg.Feed.Enable {
		hub = feed.NewHub(logger)
		events = hub
	}

	controller := session.NewController(
		logger,
		sessionConfig(cfg.Session),
		gate,
		adapter,
		dispatcher,
		cues,
		events,
		jrnl,
	)

	if hub != nil {
		feedSrv := feed.NewServer(cfg.Feed.Listen, hub, func() feed.Snapshot {
			st := controller.Status()
			return feed.Snapshot{
				State:      string(st.State),
				Permission: string(st.Permission),
				Exchange:   st.Exchange,
			}
		}, logger)
		if err := feedSrv.Start(); err != nil {
			fmt.Fprintf(r.Stderr, "error: start feed: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = feedSrv.Shutdown(shutdownCtx)
		}()
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ipc.Serve(serveCtx, listener, controller)
	}()

	runErr := controller.Run(ctx)

	stopServe()
	if err := <-serveErr; err != nil {
		logger.Error("ipc server failed", "error", err.Error())
	}
	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	return 0
}

// Close asks the running owner to shut down.
func (r Runner) Close(ctx context.Context) int { return r.forward(ctx, ipc.CommandClose) }

// Cancel abandons the in-flight exchange and resumes listening.
func (r Runner) Cancel(ctx context.Context) int { return r.forward(ctx, ipc.CommandCancel) }

// Retry re-probes microphone permission from a sticky error.
func (r Runner) Retry(ctx context.Context) int { return r.forward(ctx, ipc.CommandRetry) }

// Status prints the owner's session state, or "idle" with ExitNoSession when
// no owner is running.
func (r Runner) Status(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return ExitNoSession
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return ExitNoSession
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	line := resp.State
	if line == "" {
		line = "idle"
	}
	if resp.Permission != "" && resp.Permission != string(audio.PermissionGranted) {
		line = fmt.Sprintf("%s (microphone %s)", line, resp.Permission)
	}
	if resp.Exchange != "" {
		line = fmt.Sprintf("%s exchange=%s", line, resp.Exchange)
	}
	fmt.Fprintln(r.Stdout, line)
	return 0
}

// Devices lists PulseAudio input sources with availability metadata.
func (r Runner) Devices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio sources found")
		return 1
	}

	for _, device := range devices {
		mark := " "
		if device.Default {
			mark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s %s  %q  state=%s available=%t muted=%t\n",
			mark,
			device.ID,
			device.Description,
			device.State,
			device.Available,
			device.Muted,
		)
	}
	return 0
}

// History prints the most recent journal exchanges, newest first.
func (r Runner) History(ctx context.Context, configPath string, limit int) int {
	cfgLoaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if !cfgLoaded.Config.Journal.Enable {
		fmt.Fprintln(r.Stderr, "error: journal is disabled in config")
		return 1
	}

	path, err := journalPath(cfgLoaded.Config)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: resolve journal path: %v\n", err)
		return 1
	}
	store, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: open journal: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	exchanges, err := store.Recent(limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(exchanges) == 0 {
		fmt.Fprintln(r.Stdout, "no exchanges recorded")
		return 0
	}

	for _, ex := range exchanges {
		line := fmt.Sprintf("%s  [%s]  %s",
			ex.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			ex.Status,
			ex.Utterance,
		)
		if ex.Reply != "" {
			line += "  -> " + ex.Reply
		}
		fmt.Fprintln(r.Stdout, line)
	}
	return 0
}

// Doctor prints the readiness report and fails when any check fails.
func (r Runner) Doctor(ctx context.Context, configPath string) int {
	cfgLoaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
	}

	report := doctor.Run(ctx, cfgLoaded)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return 0
	}
	return 1
}

// buildBackend constructs the configured recognizer backend from config and
// environment secrets.
func buildBackend(cfg config.Config, logger *slog.Logger) (recognizer.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Recognizer.Backend)) {
	case config.BackendDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, errors.New("deepgram backend requires DEEPGRAM_API_KEY")
		}
		return deepgram.New(deepgram.Config{
			APIKey:         cfg.DeepgramAPIKey,
			Model:          cfg.Recognizer.Model,
			Language:       cfg.Recognizer.Language,
			SmartFormat:    cfg.Recognizer.SmartFormat,
			DisableInterim: !cfg.Recognizer.InterimResults,
			Input:          cfg.Audio.Input,
			Fallback:       cfg.Audio.Fallback,
		}, logger), nil
	case config.BackendWhisper:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("whisper backend requires OPENAI_API_KEY")
		}
		return whisper.New(whisper.Config{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.Recognizer.Model,
			Language: cfg.Recognizer.Language,
			Input:    cfg.Audio.Input,
			Fallback: cfg.Audio.Fallback,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", cfg.Recognizer.Backend)
	}
}

func sessionConfig(cfg config.SessionConfig) session.Config {
	return session.Config{
		ReplyReceivedDelay: cfg.ReplyReceivedDelay(),
		ReplyReadyDelay:    cfg.ReplyReadyDelay(),
		ErrorRecoverDelay:  cfg.ErrorRecoverDelay(),
		MinUtteranceChars:  cfg.MinUtteranceChars,
		DispatchCooldown:   cfg.DispatchCooldown(),
		RestartDebounce:    cfg.Restart.Debounce(),
		RestartMaxAttempts: cfg.Restart.MaxAttempts,
	}
}

// journalPath resolves the journal location, defaulting under the state dir.
func journalPath(cfg config.Config) (string, error) {
	if path := strings.TrimSpace(cfg.Journal.Path); path != "" {
		return path, nil
	}
	dir, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}

func (r Runner) forward(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no parley session is running")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward sends one command to the owner socket. handled=false means no
// owner is listening there; the caller decides what that means.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if errors.Is(err, ipc.ErrNoOwner) || isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

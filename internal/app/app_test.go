package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmather/parley/internal/config"
	"github.com/jmather/parley/internal/ipc"
	"github.com/jmather/parley/internal/journal"
)

func TestStatusIdleWhenNoOwner(t *testing.T) {
	setupRunnerEnv(t)

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Status(context.Background())
	require.Equal(t, ExitNoSession, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestCloseReturnsNoSession(t *testing.T) {
	setupRunnerEnv(t)

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Close(context.Background())
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no parley session is running")
}

func TestForwardsCommandsToOwner(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 8)

	shutdown := startOwnerForTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "listening", Permission: "granted"}
		case ipc.CommandCancel, ipc.CommandRetry, ipc.CommandClose:
			return ipc.Response{OK: true, Message: req.Command + " done"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	ctx := context.Background()

	require.Equal(t, 0, runner.Status(ctx))
	require.Equal(t, 0, runner.Cancel(ctx))
	require.Equal(t, 0, runner.Retry(ctx))
	require.Equal(t, 0, runner.Close(ctx))

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "cancel", "retry", "close"}, got)
}

func TestStatusRendersPermissionAndExchange(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startOwnerForTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: "error", Permission: "denied", Exchange: "ex-9"}
	})
	defer shutdown()

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Status(context.Background())
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "error")
	require.Contains(t, stdout.String(), "microphone denied")
	require.Contains(t, stdout.String(), "exchange=ex-9")
}

func TestStatusFallsBackToIdleWhenStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startOwnerForTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Status(context.Background())
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestOpenFailsWhenOwnerAlreadyRunning(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startOwnerForTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "listening"}
	})
	defer shutdown()

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Open(context.Background(), paths.configPath)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")
}

func TestOpenFailsWithoutCredentials(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("PARLEY_DEEPGRAM_API_KEY", "")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Open(context.Background(), paths.configPath)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "DEEPGRAM_API_KEY")

	// The owner path must release the socket on its way out.
	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "parley.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestBuildBackendSelection(t *testing.T) {
	cfg := config.Default()
	cfg.DeepgramAPIKey = "dg-key"
	backend, err := buildBackend(cfg, nil)
	require.NoError(t, err)
	require.True(t, backend.Profile().Continuous)

	cfg = config.Default()
	cfg.Recognizer.Backend = config.BackendWhisper
	cfg.OpenAIAPIKey = "sk-key"
	backend, err = buildBackend(cfg, nil)
	require.NoError(t, err)
	require.False(t, backend.Profile().Continuous)

	cfg = config.Default()
	cfg.Recognizer.Backend = "parrot"
	_, err = buildBackend(cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown recognizer backend")
}

func TestJournalPathExplicitAndDefault(t *testing.T) {
	stateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateHome)

	cfg := config.Default()
	cfg.Journal.Path = "/tmp/custom/journal.db"
	path, err := journalPath(cfg)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom/journal.db", path)

	cfg.Journal.Path = ""
	path, err = journalPath(cfg)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(stateHome, "parley", "journal.db"), path)
}

func TestHistoryPrintsRecentExchanges(t *testing.T) {
	paths := setupRunnerEnv(t)

	journalFile := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(journalFile)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.RecordDispatch("ex-1", "What is the total revenue", now))
	require.NoError(t, store.Resolve("ex-1", journal.StatusReplied, "Four million.", now.Add(time.Second)))
	require.NoError(t, store.Close())

	configYAML := "journal:\n  enable: true\n  path: " + journalFile + "\n"
	require.NoError(t, os.WriteFile(paths.configPath, []byte(configYAML), 0o600))

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.History(context.Background(), paths.configPath, 5)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "What is the total revenue")
	require.Contains(t, stdout.String(), "Four million.")
	require.Contains(t, stdout.String(), journal.StatusReplied)
}

func TestHistoryJournalDisabled(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte("journal:\n  enable: false\n"), 0o600))

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.History(context.Background(), paths.configPath, 5)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "journal is disabled")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case "status":
				return ipc.Response{OK: true, State: "listening"}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "listening", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, "cancel")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/parley.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startOwnerForTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

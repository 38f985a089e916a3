package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jmather/parley/internal/config"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	check := checkRuntimeDir()
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "parley.sock")
}

func TestCheckRuntimeDirMissing(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	check := checkRuntimeDir()
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "XDG_RUNTIME_DIR")
}

func TestCheckCredentialsDeepgram(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = config.BackendDeepgram

	check := checkCredentials(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "DEEPGRAM_API_KEY")

	cfg.DeepgramAPIKey = "dg-key"
	check = checkCredentials(cfg)
	require.True(t, check.Pass)
}

func TestCheckCredentialsWhisper(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = config.BackendWhisper

	check := checkCredentials(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "OPENAI_API_KEY")

	cfg.OpenAIAPIKey = "sk-key"
	check = checkCredentials(cfg)
	require.True(t, check.Pass)
}

func TestCheckCredentialsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = "parrot"

	check := checkCredentials(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "unknown backend")
}

func TestCheckAssistantDialSuccess(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Assistant.URL = "ws" + strings.TrimPrefix(server.URL, "http")

	check := checkAssistantDial(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "reachable")
}

func TestCheckAssistantDialRefused(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.URL = "ws://127.0.0.1:1/assistant"

	check := checkAssistantDial(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "dial failed")
}

func TestCheckAssistantDialEmptyURL(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.URL = ""

	check := checkAssistantDial(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "assistant.url is empty")
}

func TestCheckJournalDirWritable(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal", "journal.db")

	check := checkJournalDir(cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "writable")
}

func TestCheckJournalDirDefaultsToStateDir(t *testing.T) {
	stateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateHome)

	cfg := config.Default()
	cfg.Journal.Path = ""

	check := checkJournalDir(cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, filepath.Join(stateHome, "parley"))
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Equal(t, "audio.device", check.Name)
}

func TestRunSkipsJournalWhenDisabled(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	cfg := config.Default()
	cfg.Assistant.URL = ""
	cfg.Journal.Enable = false

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.yaml", Config: cfg})
	require.NotEmpty(t, report.Checks)

	for _, check := range report.Checks {
		if check.Name == "journal.dir" {
			t.Fatalf("journal check ran despite journal disabled")
		}
	}
}

package deepgram

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/stretchr/testify/require"

	"github.com/jmather/parley/internal/recognizer"
)

func decodeMessage(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal deepgram message failed: %v", err)
	}
	return &msg
}

func drainEvent(t *testing.T, s *session) recognizer.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for session event")
		return recognizer.Event{}
	}
}

func TestOnMessageBuffersUntilSpeechFinal(t *testing.T) {
	s := newSession(nil)

	s.onMessage(decodeMessage(t, `{
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "show me"}]}
	}`))
	ev := drainEvent(t, s)
	require.False(t, ev.Final)
	require.Equal(t, "show me", ev.Text)

	s.onMessage(decodeMessage(t, `{
		"is_final": true,
		"speech_final": false,
		"channel": {"alternatives": [{"transcript": "show me sales"}]}
	}`))
	ev = drainEvent(t, s)
	require.False(t, ev.Final, "is_final without speech_final stays buffered")
	require.Equal(t, "show me sales", ev.Text)

	s.onMessage(decodeMessage(t, `{
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "by region"}]}
	}`))
	ev = drainEvent(t, s)
	require.True(t, ev.Final)
	require.Equal(t, "show me sales by region", ev.Text)
}

func TestOnMessageDropsEmptyTranscripts(t *testing.T) {
	s := newSession(nil)

	s.onMessage(decodeMessage(t, `{
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "   "}]}
	}`))
	s.onMessage(decodeMessage(t, `{"is_final": true, "speech_final": true, "channel": {"alternatives": []}}`))

	select {
	case ev := <-s.events:
		t.Fatalf("unexpected event for empty transcript: %+v", ev)
	default:
	}
}

func TestFlushFinalsPromotesBufferedSegments(t *testing.T) {
	s := newSession(nil)

	s.onMessage(decodeMessage(t, `{
		"is_final": true,
		"speech_final": false,
		"channel": {"alternatives": [{"transcript": "compare revenue"}]}
	}`))
	drainEvent(t, s)

	s.flushFinals()
	ev := drainEvent(t, s)
	require.True(t, ev.Final)
	require.Equal(t, "compare revenue", ev.Text)

	// Nothing buffered, nothing emitted.
	s.flushFinals()
	select {
	case ev := <-s.events:
		t.Fatalf("unexpected flush event: %+v", ev)
	default:
	}
}

func TestEmitAfterFinishIsDropped(t *testing.T) {
	s := newSession(nil)
	s.finish()
	s.emit(recognizer.Event{Type: recognizer.EventResult, Text: "late"})

	_, open := <-s.events
	require.False(t, open, "event channel must be closed")
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, recognizer.KindPermissionDenied, classifyError("401", "Invalid credentials"))
	require.Equal(t, recognizer.KindPermissionDenied, classifyError("", "authentication failed"))
	require.Equal(t, recognizer.KindNetwork, classifyError("1011", "connection reset by peer"))
	require.Equal(t, recognizer.KindNetwork, classifyError("", "read timeout"))
	require.Equal(t, recognizer.KindUnknown, classifyError("500", "internal problem"))
}

func TestProfileIsContinuous(t *testing.T) {
	b := New(Config{APIKey: "key"}, nil)
	p := b.Profile()
	require.True(t, p.Continuous)
	require.True(t, p.InterimResults)
	require.Equal(t, 300*time.Millisecond, p.RestartDebounce)
	require.Equal(t, 2, p.MinUtteranceChars)

	quiet := New(Config{APIKey: "key", DisableInterim: true}, nil)
	require.False(t, quiet.Profile().InterimResults)
}

func TestStartWithoutKeyIsPermissionDenied(t *testing.T) {
	b := New(Config{}, nil)
	_, err := b.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, recognizer.KindPermissionDenied, recognizer.Classify(err))
}

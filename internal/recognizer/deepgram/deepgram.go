// Package deepgram implements the continuous streaming backend on the
// Deepgram live websocket API. One session stays up across utterances;
// speech_final marks utterance boundaries.
package deepgram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/recognizer"
)

// Config tunes the Deepgram backend.
type Config struct {
	APIKey         string
	Model          string
	Language       string
	SmartFormat    bool
	DisableInterim bool
	Input          string
	Fallback       string
}

// Backend creates live Deepgram sessions over the selected Pulse source.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Deepgram backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{cfg: cfg, logger: logger}
}

// Profile declares continuous capture with interim results on unless
// config turned them off.
func (b *Backend) Profile() recognizer.Profile {
	return recognizer.Profile{
		Continuous:        true,
		InterimResults:    !b.cfg.DisableInterim,
		RestartDebounce:   300 * time.Millisecond,
		MinUtteranceChars: 2,
		DispatchCooldown:  2 * time.Second,
	}
}

// liveClient is the slice of the SDK websocket client the session uses.
type liveClient interface {
	io.Writer
	Connect() bool
	Stop()
}

// Start opens the capture stream and the Deepgram websocket.
func (b *Backend) Start(ctx context.Context) (recognizer.Session, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return nil, recognizer.NewError(recognizer.KindPermissionDenied,
			errors.New("DEEPGRAM_API_KEY is not configured"))
	}

	selection, err := audio.SelectDevice(ctx, b.cfg.Input, b.cfg.Fallback)
	if err != nil {
		return nil, recognizer.NewError(recognizer.KindAudioCapture, err)
	}

	capture, err := audio.StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, recognizer.NewError(recognizer.KindAudioCapture, err)
	}

	s := newSession(b.logger)

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          b.cfg.Model,
		Language:       b.cfg.Language,
		Punctuate:      true,
		SmartFormat:    b.cfg.SmartFormat,
		InterimResults: !b.cfg.DisableInterim,
		Encoding:       "linear16",
		SampleRate:     audio.SampleRate,
		Channels:       1,
	}

	client, err := listen.NewWSUsingCallback(ctx, b.cfg.APIKey, cOptions, tOptions, handler{s: s})
	if err != nil {
		capture.Close()
		return nil, recognizer.NewError(recognizer.KindNetwork, err)
	}
	if ok := client.Connect(); !ok {
		capture.Close()
		return nil, recognizer.NewError(recognizer.KindNetwork,
			errors.New("deepgram websocket connect failed"))
	}

	s.client = client
	s.capture = capture
	go s.stream()
	return s, nil
}

type session struct {
	logger  *slog.Logger
	client  liveClient
	capture *audio.Capture

	events chan recognizer.Event

	emitMu sync.Mutex
	closed bool

	bufMu  sync.Mutex
	finals []string

	stopOnce sync.Once
}

func newSession(logger *slog.Logger) *session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &session{
		logger: logger,
		events: make(chan recognizer.Event, 64),
	}
}

func (s *session) Events() <-chan recognizer.Event {
	return s.events
}

// Stop tears the session down: capture first so the audio pump drains, then
// the websocket. The event channel closes via the Close callback or here,
// whichever lands first.
func (s *session) Stop() {
	s.stopOnce.Do(func() {
		if s.capture != nil {
			s.capture.Close()
		}
		if s.client != nil {
			s.client.Stop()
		}
		s.finish()
	})
}

// stream pumps capture frames into the Deepgram websocket.
func (s *session) stream() {
	for chunk := range s.capture.Chunks() {
		if _, err := s.client.Write(chunk); err != nil {
			s.logger.Warn("deepgram audio write failed", "error", err.Error())
			s.emit(recognizer.Event{
				Type: recognizer.EventError,
				Kind: recognizer.KindNetwork,
				At:   time.Now(),
			})
			s.Stop()
			return
		}
	}
}

func (s *session) onMessage(mr *api.MessageResponse) {
	if len(mr.Channel.Alternatives) == 0 {
		return
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return
	}

	s.bufMu.Lock()
	if !mr.IsFinal {
		preview := strings.Join(append(append([]string(nil), s.finals...), transcript), " ")
		s.bufMu.Unlock()
		s.emit(recognizer.Event{Type: recognizer.EventResult, Text: preview, At: time.Now()})
		return
	}

	// Finalized segment: hold until speech_final closes the utterance.
	s.finals = append(s.finals, transcript)
	if !mr.SpeechFinal {
		preview := strings.Join(s.finals, " ")
		s.bufMu.Unlock()
		s.emit(recognizer.Event{Type: recognizer.EventResult, Text: preview, At: time.Now()})
		return
	}

	text := strings.Join(s.finals, " ")
	s.finals = nil
	s.bufMu.Unlock()
	s.emit(recognizer.Event{Type: recognizer.EventResult, Text: text, Final: true, At: time.Now()})
}

// flushFinals promotes buffered segments when the utterance ends without a
// speech_final marker.
func (s *session) flushFinals() {
	s.bufMu.Lock()
	if len(s.finals) == 0 {
		s.bufMu.Unlock()
		return
	}
	text := strings.Join(s.finals, " ")
	s.finals = nil
	s.bufMu.Unlock()
	s.emit(recognizer.Event{Type: recognizer.EventResult, Text: text, Final: true, At: time.Now()})
}

func (s *session) onError(code, description string) {
	kind := classifyError(code, description)
	s.logger.Warn("deepgram error", "code", code, "kind", string(kind), "description", description)
	s.emit(recognizer.Event{Type: recognizer.EventError, Kind: kind, At: time.Now()})
}

func (s *session) emit(ev recognizer.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *session) finish() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// classifyError maps Deepgram error payloads onto the adapter taxonomy.
func classifyError(code, description string) recognizer.ErrorKind {
	text := strings.ToLower(code + " " + description)
	switch {
	case strings.Contains(text, "401"),
		strings.Contains(text, "403"),
		strings.Contains(text, "auth"),
		strings.Contains(text, "credential"),
		strings.Contains(text, "forbidden"):
		return recognizer.KindPermissionDenied
	case strings.Contains(text, "timeout"),
		strings.Contains(text, "timed out"),
		strings.Contains(text, "refused"),
		strings.Contains(text, "reset"),
		strings.Contains(text, "close"),
		strings.Contains(text, "eof"),
		strings.Contains(text, "network"):
		return recognizer.KindNetwork
	default:
		return recognizer.KindUnknown
	}
}

// handler bridges SDK callbacks onto the session.
type handler struct {
	s *session
}

func (h handler) Open(*api.OpenResponse) error {
	h.s.logger.Debug("deepgram socket open")
	return nil
}

func (h handler) Message(mr *api.MessageResponse) error {
	h.s.onMessage(mr)
	return nil
}

func (h handler) Metadata(*api.MetadataResponse) error { return nil }

func (h handler) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (h handler) UtteranceEnd(*api.UtteranceEndResponse) error {
	h.s.flushFinals()
	return nil
}

func (h handler) Close(*api.CloseResponse) error {
	h.s.logger.Debug("deepgram socket closed")
	h.s.finish()
	return nil
}

func (h handler) Error(er *api.ErrorResponse) error {
	h.s.onError(er.ErrCode, er.Description)
	return nil
}

func (h handler) UnhandledEvent([]byte) error { return nil }

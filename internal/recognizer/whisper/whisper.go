// Package whisper implements the single-shot recognizer backend: each
// session captures one utterance, endpoints it by RMS energy, transcribes
// the WAV through the OpenAI audio API, emits one final result, and ends.
// The adapter recreates a fresh session per utterance.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/recognizer"
)

// noSpeechAfter bounds how long a session waits for speech to open before
// giving up with a transient no-speech error.
const noSpeechAfter = 8 * time.Second

// Config tunes the whisper backend.
type Config struct {
	APIKey   string
	Model    string
	Language string
	Input    string
	Fallback string
}

// Backend creates one-utterance whisper sessions.
type Backend struct {
	cfg    Config
	client transcriber
	logger *slog.Logger
}

// New creates a whisper backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Backend{cfg: cfg, logger: logger}
	if strings.TrimSpace(cfg.APIKey) != "" {
		b.client = openai.NewClient(cfg.APIKey)
	}
	return b
}

// Profile declares single-shot capture without interims, with the stricter
// utterance filter that batch transcription needs.
func (b *Backend) Profile() recognizer.Profile {
	return recognizer.Profile{
		Continuous:        false,
		InterimResults:    false,
		RestartDebounce:   time.Second,
		MinUtteranceChars: 10,
		DispatchCooldown:  2 * time.Second,
	}
}

// Start opens the capture stream and begins endpointing one utterance.
func (b *Backend) Start(ctx context.Context) (recognizer.Session, error) {
	if b.client == nil {
		return nil, recognizer.NewError(recognizer.KindPermissionDenied,
			errors.New("OPENAI_API_KEY is not configured"))
	}

	selection, err := audio.SelectDevice(ctx, b.cfg.Input, b.cfg.Fallback)
	if err != nil {
		return nil, recognizer.NewError(recognizer.KindAudioCapture, err)
	}

	capture, err := audio.StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, recognizer.NewError(recognizer.KindAudioCapture, err)
	}

	s := &session{
		logger:        b.logger,
		capture:       capture,
		client:        b.client,
		model:         b.cfg.Model,
		language:      whisperLanguage(b.cfg.Language),
		noSpeechAfter: noSpeechAfter,
		events:        make(chan recognizer.Event, 8),
		stopCh:        make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// transcriber is the slice of the OpenAI client the session uses.
type transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// captureStream is the slice of audio.Capture the session uses.
type captureStream interface {
	Chunks() <-chan []byte
	RawPCM() []byte
	Stop() error
}

type session struct {
	logger        *slog.Logger
	capture       captureStream
	client        transcriber
	model         string
	language      string
	noSpeechAfter time.Duration

	events   chan recognizer.Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (s *session) Events() <-chan recognizer.Event {
	return s.events
}

func (s *session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// run owns the session lifecycle; it is the only sender on s.events and
// closes the channel when the session is over.
func (s *session) run(ctx context.Context) {
	defer close(s.events)

	endpointer := audio.NewEndpointer()
	noSpeech := time.NewTimer(s.noSpeechAfter)
	defer noSpeech.Stop()

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case <-s.stopCh:
			s.teardown()
			return
		case <-noSpeech.C:
			s.teardown()
			s.emit(recognizer.Event{Type: recognizer.EventError, Kind: recognizer.KindNoSpeech})
			return
		case chunk, ok := <-s.capture.Chunks():
			if !ok {
				if ctx.Err() != nil {
					return
				}
				// Capture died underneath us. Salvage any speech heard.
				if endpointer.SpeechSeen() {
					s.transcribe(ctx)
				} else {
					s.emit(recognizer.Event{Type: recognizer.EventError, Kind: recognizer.KindAudioCapture})
				}
				return
			}

			ended := endpointer.Feed(chunk)
			if endpointer.InSpeech() {
				noSpeech.Stop()
			}
			if ended {
				s.teardown()
				s.transcribe(ctx)
				return
			}
		}
	}
}

// teardown stops capture and drains the flushed remainder.
func (s *session) teardown() {
	_ = s.capture.Stop()
	for range s.capture.Chunks() {
	}
}

func (s *session) transcribe(ctx context.Context) {
	pcm := s.capture.RawPCM()
	if len(pcm) == 0 {
		s.emit(recognizer.Event{Type: recognizer.EventError, Kind: recognizer.KindNoSpeech})
		return
	}

	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.CreateTranscription(tctx, openai.AudioRequest{
		Model:    s.model,
		Language: s.language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(audio.EncodeWAV(pcm)),
		FilePath: "utterance.wav",
	})
	if err != nil {
		kind := classifyAPIError(err)
		s.logger.Warn("whisper transcription failed", "kind", string(kind), "error", err.Error())
		s.emit(recognizer.Event{Type: recognizer.EventError, Kind: kind})
		return
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		s.emit(recognizer.Event{Type: recognizer.EventError, Kind: recognizer.KindNoSpeech})
		return
	}
	s.emit(recognizer.Event{Type: recognizer.EventResult, Text: text, Final: true})
}

func (s *session) emit(ev recognizer.Event) {
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

// classifyAPIError maps OpenAI API failures onto the adapter taxonomy.
func classifyAPIError(err error) recognizer.ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return recognizer.KindPermissionDenied
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return recognizer.KindNetwork
		default:
			return recognizer.KindUnknown
		}
	}
	return recognizer.Classify(err)
}

// whisperLanguage narrows a BCP-47 tag to the ISO-639-1 code whisper wants.
func whisperLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	return strings.SplitN(tag, "-", 2)[0]
}

// Package recognizer adapts speech-recognition backends to one event stream
// with uniform start/stop semantics and a shared error taxonomy.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// EventType identifies an adapter event.
type EventType string

const (
	EventStarted EventType = "started"
	EventResult  EventType = "result"
	EventError   EventType = "error"
	EventEnded   EventType = "ended"
)

// ErrorKind is the recognizer error taxonomy surfaced to the session.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission-denied"
	KindNoSpeech         ErrorKind = "no-speech"
	KindNetwork          ErrorKind = "network"
	KindAudioCapture     ErrorKind = "audio-capture"
	KindAborted          ErrorKind = "aborted"
	KindUnknown          ErrorKind = "unknown"
)

// Transient reports whether errors of this kind clear on their own and are
// safe to retry without user action.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindNoSpeech, KindNetwork, KindAborted:
		return true
	default:
		return false
	}
}

// Event is one recognizer occurrence. Text and Final are set for results,
// Kind for errors.
type Event struct {
	Type  EventType
	Text  string
	Final bool
	Kind  ErrorKind
	At    time.Time
}

// Profile declares how a backend behaves. It is fixed when the backend is
// constructed; the session controller never branches on the backend name,
// only on these fields.
type Profile struct {
	Continuous        bool
	InterimResults    bool
	RestartDebounce   time.Duration
	MinUtteranceChars int
	DispatchCooldown  time.Duration
}

// Session is one live recognition run. Its channel carries results and
// errors; the channel closing means the run is over.
type Session interface {
	Events() <-chan Event
	Stop()
}

// Backend constructs recognition sessions. Start is called once per run;
// single-shot backends get a fresh session for every utterance.
type Backend interface {
	Profile() Profile
	Start(ctx context.Context) (Session, error)
}

// Error tags a backend failure with its taxonomy kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an error to its taxonomy kind, preferring an explicit tag.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

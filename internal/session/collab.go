package session

import (
	"context"
	"errors"
	"time"

	"github.com/jmather/parley/internal/assistant"
	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/cue"
	"github.com/jmather/parley/internal/recognizer"
)

// Gate guards microphone access before the session may listen. A denial is
// sticky until Retry.
type Gate interface {
	Request(ctx context.Context) (audio.Selection, error)
	Retry(ctx context.Context) (audio.Selection, error)
	State() audio.PermissionState
	Remediation() string
}

// Recognizer is the adapter surface the controller drives. Start never
// blocks; outcomes arrive on Events.
type Recognizer interface {
	Profile() recognizer.Profile
	Start(ctx context.Context) error
	Stop()
	Events() <-chan recognizer.Event
}

// Dispatcher hands utterances to the data assistant. Submit is
// fire-and-forget; completion arrives later on Statuses.
type Dispatcher interface {
	Submit(ctx context.Context, exchangeID, text string) error
	Cancel(exchangeID string)
	Statuses() <-chan assistant.Status
}

// Cues plays audible session cues.
type Cues interface {
	Play(kind cue.Kind)
}

// Events receives session happenings for outside observers.
type Events interface {
	PublishState(state string)
	PublishTranscript(text string, final bool)
	PublishDispatch(exchangeID, text string)
	PublishReply(exchangeID, message string)
	PublishError(kind, message string)
}

// Journal records exchange round trips for parley history.
type Journal interface {
	RecordDispatch(id, utterance string, at time.Time) error
	Resolve(id, status, reply string, at time.Time) error
}

// grantedGate preserves session flow when no gate is wired.
type grantedGate struct{}

func (grantedGate) Request(context.Context) (audio.Selection, error) { return audio.Selection{}, nil }
func (grantedGate) Retry(context.Context) (audio.Selection, error)   { return audio.Selection{}, nil }
func (grantedGate) State() audio.PermissionState                     { return audio.PermissionGranted }
func (grantedGate) Remediation() string                              { return "" }

// noopRecognizer never produces events.
type noopRecognizer struct{}

func (noopRecognizer) Profile() recognizer.Profile     { return recognizer.Profile{} }
func (noopRecognizer) Start(context.Context) error     { return nil }
func (noopRecognizer) Stop()                           {}
func (noopRecognizer) Events() <-chan recognizer.Event { return nil }

// noopDispatcher rejects submissions so a missing assistant surfaces as a
// session error instead of a silent drop.
type noopDispatcher struct{}

func (noopDispatcher) Submit(context.Context, string, string) error {
	return errors.New("assistant is not configured")
}
func (noopDispatcher) Cancel(string)                     {}
func (noopDispatcher) Statuses() <-chan assistant.Status { return nil }

type noopCues struct{}

func (noopCues) Play(cue.Kind) {}

type noopEvents struct{}

func (noopEvents) PublishState(string)            {}
func (noopEvents) PublishTranscript(string, bool) {}
func (noopEvents) PublishDispatch(string, string) {}
func (noopEvents) PublishReply(string, string)    {}
func (noopEvents) PublishError(string, string)    {}

type noopJournal struct{}

func (noopJournal) RecordDispatch(string, string, time.Time) error  { return nil }
func (noopJournal) Resolve(string, string, string, time.Time) error { return nil }

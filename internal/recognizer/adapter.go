package recognizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by backends whose underlying engine rejects
// a start because a session is still active. The adapter swallows it; this
// is an expected race, not a failure.
var ErrAlreadyStarted = errors.New("recognition session already active")

// Adapter owns the recognition handle. At most one backend session is live
// at a time, at most one start is in flight at a time, and every session
// produces exactly one ended event. Callers consume Events from a single
// goroutine.
type Adapter struct {
	backend Backend
	logger  *slog.Logger

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	active   Session
	starting bool
	stopping bool
	closed   bool
}

// NewAdapter wraps a backend.
func NewAdapter(backend Backend, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{
		backend: backend,
		logger:  logger,
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
}

// Profile reports the backend's behavior profile.
func (a *Adapter) Profile() Profile {
	return a.backend.Profile()
}

// Events returns the adapter event stream.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Start begins a recognition session. Calling it while a session is live or
// a start is in flight does nothing and returns nil. Operational failures
// are delivered as error events, never as a return value.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("recognizer adapter is closed")
	}
	if a.starting || a.active != nil {
		a.mu.Unlock()
		return nil
	}
	a.starting = true
	a.mu.Unlock()

	go a.begin(ctx)
	return nil
}

// Stop ends the current session, or cancels a start still in flight.
// Teardown errors from the backend are suppressed; the session's ended
// event is still delivered.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.closed || (a.active == nil && !a.starting) {
		a.mu.Unlock()
		return
	}
	a.stopping = true
	sess := a.active
	a.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
}

// Close tears the adapter down. Pending emits are released; the adapter
// cannot be restarted.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopping = true
	sess := a.active
	a.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	close(a.done)
}

func (a *Adapter) begin(ctx context.Context) {
	sess, err := a.backend.Start(ctx)

	a.mu.Lock()
	a.starting = false
	if err != nil {
		stopping := a.stopping || a.closed
		a.stopping = false
		a.mu.Unlock()

		if errors.Is(err, ErrAlreadyStarted) {
			a.logger.Debug("recognizer start raced an active session")
			return
		}
		if stopping {
			return
		}
		kind := Classify(err)
		a.logger.Warn("recognizer start failed", "kind", string(kind), "error", err.Error())
		if kind != KindAborted {
			a.emit(Event{Type: EventError, Kind: kind, At: time.Now()})
		}
		return
	}

	if a.stopping || a.closed {
		a.stopping = false
		a.mu.Unlock()
		sess.Stop()
		a.drain(sess)
		a.emit(Event{Type: EventEnded, At: time.Now()})
		return
	}
	a.active = sess
	a.mu.Unlock()

	a.emit(Event{Type: EventStarted, At: time.Now()})
	a.pump(sess)
}

// pump forwards one session's events and closes it out with ended.
func (a *Adapter) pump(sess Session) {
	for ev := range sess.Events() {
		switch ev.Type {
		case EventResult:
		case EventError:
			a.mu.Lock()
			stopping := a.stopping
			a.mu.Unlock()
			if stopping || ev.Kind == KindAborted {
				a.logger.Debug("recognizer error suppressed", "kind", string(ev.Kind))
				continue
			}
		default:
			continue
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		a.emit(ev)
	}

	a.mu.Lock()
	if a.active == sess {
		a.active = nil
	}
	a.stopping = false
	a.mu.Unlock()

	a.emit(Event{Type: EventEnded, At: time.Now()})
}

func (a *Adapter) drain(sess Session) {
	for range sess.Events() {
	}
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

package feed

import "time"

// Event is the envelope shared by every feed message.
type Event struct {
	Type string `json:"type"`
	At   string `json:"at"`
}

// StateEvent announces a session state change.
type StateEvent struct {
	Event
	State string `json:"state"`
}

// TranscriptEvent carries recognized speech, interim or final.
type TranscriptEvent struct {
	Event
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// DispatchEvent announces an utterance handed to the assistant.
type DispatchEvent struct {
	Event
	ExchangeID string `json:"exchange_id"`
	Text       string `json:"text"`
}

// ReplyEvent carries the assistant's terminal reply for an exchange.
type ReplyEvent struct {
	Event
	ExchangeID string `json:"exchange_id"`
	Message    string `json:"message"`
}

// ErrorEvent surfaces a session error with its taxonomy kind.
type ErrorEvent struct {
	Event
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type: eventType,
		At:   now.UTC().Format(time.RFC3339Nano),
	}
}

// Package feed broadcasts session events to local subscribers over a
// loopback HTTP/websocket listener. The feed observes the session; it never
// drives it.
package feed

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Hub fans events out to subscribers. Sends never block: a subscriber that
// cannot keep up misses messages instead of stalling the session.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// Subscribe registers a new subscriber channel. After Shutdown the returned
// channel is already closed.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
}

// Shutdown closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast delivers a raw payload to every subscriber that has room.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PublishState announces a session state change.
func (h *Hub) PublishState(state string) {
	h.publish(StateEvent{
		Event: newEvent("state", time.Now().UTC()),
		State: state,
	})
}

// PublishTranscript carries recognized speech to subscribers.
func (h *Hub) PublishTranscript(text string, final bool) {
	h.publish(TranscriptEvent{
		Event: newEvent("transcript", time.Now().UTC()),
		Text:  text,
		Final: final,
	})
}

// PublishDispatch announces that an utterance went to the assistant.
func (h *Hub) PublishDispatch(exchangeID, text string) {
	h.publish(DispatchEvent{
		Event:      newEvent("dispatch", time.Now().UTC()),
		ExchangeID: exchangeID,
		Text:       text,
	})
}

// PublishReply carries the assistant's reply for an exchange.
func (h *Hub) PublishReply(exchangeID, message string) {
	h.publish(ReplyEvent{
		Event:      newEvent("reply", time.Now().UTC()),
		ExchangeID: exchangeID,
		Message:    message,
	})
}

// PublishError surfaces a session error.
func (h *Hub) PublishError(kind, message string) {
	h.publish(ErrorEvent{
		Event:   newEvent("error", time.Now().UTC()),
		Kind:    kind,
		Message: message,
	})
}

func (h *Hub) publish(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("feed event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}

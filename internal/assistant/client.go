// Package assistant speaks the data-assistant websocket protocol: utterances
// go out, streamed status events come back. The client carries exactly one
// connection for the life of a voice session; reconnect policy belongs to the
// caller.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stage locates an exchange in its lifecycle. Reply and Error are terminal
// for their exchange; everything after them is stale.
type Stage string

const (
	StageAccepted Stage = "accepted"
	StageProgress Stage = "progress"
	StageReply    Stage = "reply"
	StageError    Stage = "error"
)

// Terminal reports whether the stage ends its exchange.
func (s Stage) Terminal() bool {
	return s == StageReply || s == StageError
}

// Status is one assistant progress report for a submitted exchange.
type Status struct {
	ExchangeID string
	Stage      Stage
	Message    string
}

// Config locates the assistant endpoint.
type Config struct {
	URL         string
	DialTimeout time.Duration
}

type outboundMessage struct {
	Type       string `json:"type"`
	ExchangeID string `json:"exchange_id"`
	Text       string `json:"text,omitempty"`
}

type inboundMessage struct {
	Type       string `json:"type"`
	ExchangeID string `json:"exchange_id"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// Client is a live connection to the assistant backend.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	statuses chan Status
	outbound chan outboundMessage
	closing  chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Dial connects to the assistant websocket and starts the read/write pumps.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("assistant URL is not configured")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to assistant websocket: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		statuses: make(chan Status, 16),
		outbound: make(chan outboundMessage, 16),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.statuses)
		close(c.done)
		_ = conn.Close()
	}()

	return c, nil
}

// Submit hands an utterance to the assistant and returns without waiting for
// an answer. Progress arrives later on Statuses under the same exchange ID.
func (c *Client) Submit(ctx context.Context, exchangeID, text string) error {
	msg := outboundMessage{Type: "utterance", ExchangeID: exchangeID, Text: text}
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("assistant connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel tells the assistant to abandon the exchange. Best effort: the local
// session resets whether or not the backend honors it, so Cancel never blocks.
func (c *Client) Cancel(exchangeID string) {
	msg := outboundMessage{Type: "cancel", ExchangeID: exchangeID}
	select {
	case c.outbound <- msg:
	case <-c.done:
	default:
		c.logger.Debug("assistant cancel dropped, outbound queue full", "exchange", exchangeID)
	}
}

// Statuses delivers assistant status events. The channel closes when the
// connection ends, for any reason; Err explains an abnormal one.
func (c *Client) Statuses() <-chan Status {
	return c.statuses
}

// Close tears the connection down and waits for the pumps to finish.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
	<-c.done
	return c.Err()
}

// Err reports the first connection failure, if any. Meaningful once the
// status channel has closed.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.outbound:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.setErr(fmt.Errorf("failed to encode assistant message: %w", err))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.setErr(fmt.Errorf("failed to send assistant message: %w", err))
				return
			}
		case <-c.closing:
			closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteMessage(websocket.CloseMessage, closeFrame)
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.setErr(fmt.Errorf("failed to read assistant event: %w", err))
			}
			return
		}

		status, ok := parseStatus(payload)
		if !ok {
			continue
		}
		c.emit(status)
	}
}

// emit blocks rather than drop: a lost terminal status would strand its
// exchange. Close unblocks a stuck emit via the closing channel.
func (c *Client) emit(status Status) {
	select {
	case c.statuses <- status:
	case <-c.closing:
	}
}

func parseStatus(payload []byte) (Status, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Status{}, false
	}
	if !strings.EqualFold(msg.Type, "status") {
		return Status{}, false
	}
	if strings.TrimSpace(msg.ExchangeID) == "" {
		return Status{}, false
	}

	return Status{
		ExchangeID: msg.ExchangeID,
		Stage:      Stage(strings.ToLower(strings.TrimSpace(msg.Stage))),
		Message:    msg.Message,
	}, true
}

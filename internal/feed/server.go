package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Snapshot is the session view served at /state and pushed to fresh
// websocket subscribers.
type Snapshot struct {
	State      string `json:"state"`
	Permission string `json:"permission"`
	Exchange   string `json:"exchange,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the event feed on a loopback address.
type Server struct {
	hub      *Hub
	snapshot func() Snapshot
	logger   *slog.Logger

	httpSrv *http.Server
	ln      net.Listener
}

// NewServer builds a feed server. snapshot supplies the current session view;
// a nil snapshot serves zero values.
func NewServer(addr string, hub *Hub, snapshot func() Snapshot, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if snapshot == nil {
		snapshot = func() Snapshot { return Snapshot{} }
	}

	s := &Server{
		hub:      hub,
		snapshot: snapshot,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/state", s.handleState)
	r.Get("/ws", s.handleWS)

	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("feed listen on %s: %w", s.httpSrv.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("feed server stopped", "error", err)
		}
	}()

	s.logger.Info("feed listening", "addr", ln.Addr().String())
	return nil
}

// Addr reports the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown disconnects subscribers and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("feed upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Fresh subscribers start from the current state.
	hello := StateEvent{
		Event: newEvent("state", time.Now().UTC()),
		State: s.snapshot().State,
	}
	if payload, err := json.Marshal(hello); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

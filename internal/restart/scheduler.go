// Package restart debounces recognizer restart requests and bounds how many
// may fire without a healthy listen in between, so transient failures retry
// without turning into restart storms.
package restart

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Scheduler coalesces restart requests. A newly scheduled restart supersedes
// any pending one; only the last request inside the debounce window fires.
type Scheduler struct {
	logger   *slog.Logger
	debounce func(func())
	fire     func()
	max      int

	mu       sync.Mutex
	attempts int
}

// NewScheduler creates a scheduler that runs fire on the debounce timer
// goroutine at most maxAttempts times between budget resets.
func NewScheduler(delay time.Duration, maxAttempts int, fire func(), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		logger:   logger,
		debounce: debounce.New(delay),
		fire:     fire,
		max:      maxAttempts,
	}
}

// Schedule requests a restart. It reports false when the attempt budget is
// spent; the caller surfaces that as a fatal condition instead of retrying.
func (s *Scheduler) Schedule(reason string) bool {
	s.mu.Lock()
	if s.attempts >= s.max {
		s.mu.Unlock()
		s.logger.Warn("restart budget exhausted", "reason", reason, "max_attempts", s.max)
		return false
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	s.logger.Debug("restart scheduled", "reason", reason, "attempt", attempt)
	s.debounce(s.fire)
	return true
}

// ResetBudget clears the attempt counter. The session calls it when
// listening is healthy again.
func (s *Scheduler) ResetBudget() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// Attempts reports restarts consumed since the last reset.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

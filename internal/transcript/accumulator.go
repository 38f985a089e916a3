// Package transcript accumulates recognizer fragments into dispatchable
// utterances and filters out the echoes and stubs that should never reach
// the assistant.
package transcript

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Reason explains an ingest decision.
type Reason string

const (
	ReasonDispatch  Reason = "dispatch"
	ReasonInterim   Reason = "interim"
	ReasonEmpty     Reason = "empty"
	ReasonTooShort  Reason = "too-short"
	ReasonDuplicate Reason = "duplicate"
	ReasonCooldown  Reason = "cooldown"
)

// Decision is the outcome of ingesting one fragment. Text carries the
// polished utterance when Dispatch is set, else the current preview.
type Decision struct {
	Dispatch bool
	Text     string
	Reason   Reason
}

// Accumulator keeps the working utterance buffer. It is not safe for
// concurrent use; the session goroutine owns it.
type Accumulator struct {
	minChars int
	cooldown time.Duration
	now      func() time.Time

	committed      []string
	interim        string
	lastDispatched string
	lastDispatchAt time.Time
}

// NewAccumulator creates an accumulator with the given minimum utterance
// length (in runes) and duplicate-dispatch cooldown.
func NewAccumulator(minChars int, cooldown time.Duration) *Accumulator {
	return &Accumulator{
		minChars: minChars,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Ingest folds one recognizer fragment into the buffer. Interim fragments
// only refresh the live preview. A final fragment commits and is evaluated
// for dispatch: empty, too-short, duplicate-of-last-dispatch, and
// within-cooldown finals are rejected. A dispatch decision drains the
// buffer; callers must confirm the send with MarkDispatched.
func (a *Accumulator) Ingest(fragment string, final bool) Decision {
	if !final {
		a.interim = cleanFragment(fragment)
		return Decision{Reason: ReasonInterim, Text: a.Preview()}
	}

	a.interim = ""
	a.committed = appendSegment(a.committed, fragment)

	text := Polish(strings.Join(a.committed, " "))
	if text == "" {
		return Decision{Reason: ReasonEmpty}
	}
	if utf8.RuneCountInString(text) < a.minChars {
		return Decision{Reason: ReasonTooShort, Text: text}
	}
	if text == a.lastDispatched {
		a.drain()
		return Decision{Reason: ReasonDuplicate, Text: text}
	}
	if !a.lastDispatchAt.IsZero() && a.now().Sub(a.lastDispatchAt) < a.cooldown {
		return Decision{Reason: ReasonCooldown, Text: text}
	}

	a.drain()
	return Decision{Dispatch: true, Text: text, Reason: ReasonDispatch}
}

// MarkDispatched records a completed send so identical finals arriving
// inside the cooldown window are rejected. Survives Reset.
func (a *Accumulator) MarkDispatched(text string) {
	a.lastDispatched = text
	a.lastDispatchAt = a.now()
}

// LastDispatched returns the most recently dispatched utterance.
func (a *Accumulator) LastDispatched() string {
	return a.lastDispatched
}

// Preview returns the live working text, committed segments plus any
// trailing interim.
func (a *Accumulator) Preview() string {
	segments := a.committed
	if interim := cleanFragment(a.interim); interim != "" {
		segments = appendSegment(append([]string(nil), a.committed...), interim)
	}
	return strings.Join(segments, " ")
}

// Reset discards the working buffer. Dispatch history is kept so echo
// suppression still applies after a restart.
func (a *Accumulator) Reset() {
	a.drain()
}

func (a *Accumulator) drain() {
	a.committed = nil
	a.interim = ""
}

// appendSegment merges continuation fragments so re-delivered prefixes do
// not duplicate transcript growth.
func appendSegment(segments []string, fragment string) []string {
	fragment = cleanFragment(fragment)
	if fragment == "" {
		return segments
	}
	if len(segments) == 0 {
		return append(segments, fragment)
	}

	last := segments[len(segments)-1]
	switch {
	case fragment == last:
		return segments
	case strings.HasPrefix(fragment, last):
		segments[len(segments)-1] = fragment
		return segments
	case strings.HasPrefix(last, fragment):
		return segments
	default:
		return append(segments, fragment)
	}
}

// cleanFragment normalizes fragment whitespace.
func cleanFragment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(raw), " ")
}

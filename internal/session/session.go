// Package session owns the hands-free conversation loop: listen, dispatch to
// the assistant, surface the reply, resume listening.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmather/parley/internal/assistant"
	"github.com/jmather/parley/internal/audio"
	"github.com/jmather/parley/internal/cue"
	"github.com/jmather/parley/internal/fsm"
	"github.com/jmather/parley/internal/ipc"
	"github.com/jmather/parley/internal/journal"
	"github.com/jmather/parley/internal/recognizer"
	"github.com/jmather/parley/internal/restart"
	"github.com/jmather/parley/internal/transcript"
)

// Config tunes session timing and dispatch filtering. Zero filter knobs
// defer to the recognizer profile; zero delays use the defaults below.
type Config struct {
	ReplyReceivedDelay time.Duration
	ReplyReadyDelay    time.Duration
	ErrorRecoverDelay  time.Duration
	MinUtteranceChars  int
	DispatchCooldown   time.Duration
	RestartDebounce    time.Duration
	RestartMaxAttempts int
}

const (
	defaultReplyReceivedDelay = 1500 * time.Millisecond
	defaultReplyReadyDelay    = 2 * time.Second
	defaultErrorRecoverDelay  = time.Second
	defaultRestartDebounce    = 300 * time.Millisecond
	defaultRestartMaxAttempts = 5
)

// Status is the observable session snapshot served to IPC and the feed.
type Status struct {
	State      fsm.State
	Permission audio.PermissionState
	Exchange   string
}

type command struct {
	req   ipc.Request
	reply chan ipc.Response
}

type timerFire struct {
	event      fsm.Event
	generation uint64
}

type gateResult struct {
	err   error
	retry bool
}

// Controller drives the conversation loop. Every session field is owned by
// the Run goroutine; other goroutines only post messages into it or read the
// mutex-guarded mirror.
type Controller struct {
	logger     *slog.Logger
	cfg        Config
	gate       Gate
	rec        Recognizer
	dispatcher Dispatcher
	cues       Cues
	events     Events
	journal    Journal

	acc       *transcript.Accumulator
	scheduler *restart.Scheduler

	commands  chan command
	gateCh    chan gateResult
	timerCh   chan timerFire
	restartCh chan struct{}
	done      chan struct{}

	// Run-owned.
	shouldListen bool
	closed       bool
	budgetSpent  bool
	lastErrKind  recognizer.ErrorKind
	generation   uint64

	// Mirror for observers.
	mu         sync.RWMutex
	state      fsm.State
	exchangeID string
}

// NewController wires the conversation loop. Optional collaborators may be
// nil; safe fallbacks keep the flow alive.
func NewController(
	logger *slog.Logger,
	cfg Config,
	gate Gate,
	rec Recognizer,
	dispatcher Dispatcher,
	cues Cues,
	events Events,
	jrnl Journal,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if gate == nil {
		gate = grantedGate{}
	}
	if rec == nil {
		rec = noopRecognizer{}
	}
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	if cues == nil {
		cues = noopCues{}
	}
	if events == nil {
		events = noopEvents{}
	}
	if jrnl == nil {
		jrnl = noopJournal{}
	}

	profile := rec.Profile()
	if cfg.ReplyReceivedDelay <= 0 {
		cfg.ReplyReceivedDelay = defaultReplyReceivedDelay
	}
	if cfg.ReplyReadyDelay <= 0 {
		cfg.ReplyReadyDelay = defaultReplyReadyDelay
	}
	if cfg.ErrorRecoverDelay <= 0 {
		cfg.ErrorRecoverDelay = defaultErrorRecoverDelay
	}
	if cfg.MinUtteranceChars <= 0 {
		cfg.MinUtteranceChars = profile.MinUtteranceChars
	}
	if cfg.DispatchCooldown <= 0 {
		cfg.DispatchCooldown = profile.DispatchCooldown
	}
	if cfg.RestartDebounce <= 0 {
		cfg.RestartDebounce = profile.RestartDebounce
	}
	if cfg.RestartDebounce <= 0 {
		cfg.RestartDebounce = defaultRestartDebounce
	}
	if cfg.RestartMaxAttempts <= 0 {
		cfg.RestartMaxAttempts = defaultRestartMaxAttempts
	}

	c := &Controller{
		logger:     logger,
		cfg:        cfg,
		gate:       gate,
		rec:        rec,
		dispatcher: dispatcher,
		cues:       cues,
		events:     events,
		journal:    jrnl,
		acc:        transcript.NewAccumulator(cfg.MinUtteranceChars, cfg.DispatchCooldown),
		commands:   make(chan command, 4),
		gateCh:     make(chan gateResult, 1),
		timerCh:    make(chan timerFire, 8),
		restartCh:  make(chan struct{}, 1),
		done:       make(chan struct{}),
		state:      fsm.StateIdle,
	}
	c.scheduler = restart.NewScheduler(cfg.RestartDebounce, cfg.RestartMaxAttempts, c.requestRestart, logger)
	return c
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the observable session snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{State: c.state, Permission: c.gate.State(), Exchange: c.exchangeID}
}

// Run owns the session from open to close. It requests microphone access,
// then consumes recognizer events, assistant statuses, IPC commands, restart
// fires, and timer fires until close or ctx cancellation.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.logger.Info("voice session opening")
	go c.probeGate(ctx, false)

	statuses := c.dispatcher.Statuses()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case res := <-c.gateCh:
			c.handleGate(ctx, res)
		case ev := <-c.rec.Events():
			c.handleRecognizer(ctx, ev)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				c.handleAssistantGone()
				continue
			}
			c.handleStatus(st)
		case cmd := <-c.commands:
			if closed := c.handleCommand(ctx, cmd); closed {
				return nil
			}
		case fire := <-c.timerCh:
			c.handleTimer(ctx, fire)
		case <-c.restartCh:
			c.handleRestart(ctx)
		}
	}
}

// Handle serves IPC commands. Status answers immediately from the mirror;
// mutating commands run inside the session loop.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Command == ipc.CommandStatus {
		st := c.Status()
		return ipc.Response{
			OK:         true,
			State:      string(st.State),
			Permission: string(st.Permission),
			Exchange:   st.Exchange,
			Message:    "status",
		}
	}

	cmd := command{req: req, reply: make(chan ipc.Response, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ipc.Response{OK: false, State: string(c.State()), Error: "voice session is shutting down"}
	case <-ctx.Done():
		return ipc.Response{OK: false, State: string(c.State()), Error: "request cancelled"}
	}

	select {
	case resp := <-cmd.reply:
		return resp
	case <-c.done:
		select {
		case resp := <-cmd.reply:
			return resp
		default:
		}
		return ipc.Response{OK: false, State: string(c.State()), Error: "voice session is shutting down"}
	case <-ctx.Done():
		return ipc.Response{OK: false, State: string(c.State()), Error: "request cancelled"}
	}
}

// transition applies one FSM event and publishes the resulting state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if next != prev {
		c.logger.Info("session state", "from", string(prev), "to", string(next), "event", string(event))
		c.events.PublishState(string(next))
	}
	return nil
}

func (c *Controller) setExchange(id string) {
	c.mu.Lock()
	c.exchangeID = id
	c.mu.Unlock()
}

func (c *Controller) currentExchange() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exchangeID
}

// probeGate runs the blocking permission probe off the loop and posts the
// outcome back in.
func (c *Controller) probeGate(ctx context.Context, retry bool) {
	var err error
	if retry {
		_, err = c.gate.Retry(ctx)
	} else {
		_, err = c.gate.Request(ctx)
	}

	select {
	case c.gateCh <- gateResult{err: err, retry: retry}:
	case <-c.done:
	}
}

func (c *Controller) handleGate(ctx context.Context, res gateResult) {
	if c.closed {
		return
	}
	if res.err != nil {
		c.enterError(recognizer.KindPermissionDenied, c.gate.Remediation())
		return
	}

	event := fsm.EventOpen
	if res.retry {
		event = fsm.EventResume
	}
	if err := c.transition(event); err != nil {
		c.logger.Debug("permission grant ignored", "error", err.Error())
		return
	}
	c.enterListening(ctx)
}

// enterListening arms the listening side of the loop: fresh buffer, fresh
// restart budget, cue, recognizer start. Called on every transition into
// listening.
func (c *Controller) enterListening(ctx context.Context) {
	c.shouldListen = true
	c.acc.Reset()
	c.setExchange("")
	c.scheduler.ResetBudget()
	c.budgetSpent = false
	c.cues.Play(cue.Listening)
	if err := c.rec.Start(ctx); err != nil {
		c.logger.Warn("recognizer start refused", "error", err.Error())
	}
}

func (c *Controller) handleRecognizer(ctx context.Context, ev recognizer.Event) {
	if c.closed {
		return
	}
	switch ev.Type {
	case recognizer.EventStarted:
		c.scheduler.ResetBudget()
		c.budgetSpent = false
		c.logger.Debug("recognition session started")
	case recognizer.EventResult:
		c.handleResult(ctx, ev)
	case recognizer.EventError:
		c.handleRecognizerError(ev)
	case recognizer.EventEnded:
		c.handleEnded()
	}
}

func (c *Controller) handleResult(ctx context.Context, ev recognizer.Event) {
	// Results only count while the session wants them. A fragment landing
	// after a dispatch or during teardown is dropped here, whole.
	if !c.shouldListen {
		c.logger.Debug("transcript ignored while not listening", "final", ev.Final)
		return
	}

	decision := c.acc.Ingest(ev.Text, ev.Final)
	if !ev.Final {
		if decision.Text != "" {
			c.events.PublishTranscript(decision.Text, false)
		}
		return
	}
	if !decision.Dispatch {
		c.logger.Debug("final transcript held", "reason", string(decision.Reason))
		return
	}
	c.dispatch(ctx, decision.Text)
}

// dispatch hands one utterance to the assistant and moves the session to
// awaiting-reply.
func (c *Controller) dispatch(ctx context.Context, text string) {
	// Stop accepting speech before anything else happens; a lingering final
	// cannot trigger a second dispatch while this one is in flight.
	c.shouldListen = false
	if err := c.transition(fsm.EventDispatch); err != nil {
		c.shouldListen = true
		c.logger.Warn("dispatch refused", "error", err.Error())
		return
	}
	c.rec.Stop()

	id := uuid.NewString()
	c.setExchange(id)
	if err := c.journal.RecordDispatch(id, text, time.Now()); err != nil {
		c.logger.Warn("journal write failed", "error", err.Error())
	}
	c.events.PublishTranscript(text, true)
	c.cues.Play(cue.Dispatch)
	c.events.PublishDispatch(id, text)
	c.logger.Info("utterance dispatched", "exchange", id, "chars", len(text))

	if err := c.dispatcher.Submit(ctx, id, text); err != nil {
		c.logger.Error("assistant submit failed", "exchange", id, "error", err.Error())
		c.enterError(recognizer.KindUnknown, "assistant dispatch failed")
		return
	}
	c.acc.MarkDispatched(text)
	_ = c.transition(fsm.EventSent)
}

func (c *Controller) handleRecognizerError(ev recognizer.Event) {
	if ev.Kind.Transient() {
		if !c.shouldListen {
			c.logger.Debug("transient recognizer error ignored", "kind", string(ev.Kind))
			return
		}
		c.logger.Info("recognition interrupted", "kind", string(ev.Kind))
		c.scheduleRestart(string(ev.Kind))
		return
	}

	message := "speech recognition failed"
	switch ev.Kind {
	case recognizer.KindPermissionDenied:
		message = "speech recognition was denied access; check microphone permission and credentials"
	case recognizer.KindAudioCapture:
		message = "microphone capture failed"
	}
	c.enterError(ev.Kind, message)
}

// handleEnded reacts to a recognition session ending. The one rule that
// keeps the loop sane: an ended only matters while the session wants to be
// listening. Everything else (dispatch teardown, error teardown, close) set
// shouldListen false before stopping the recognizer.
func (c *Controller) handleEnded() {
	if !c.shouldListen {
		c.logger.Debug("recognition ended while not listening; ignored")
		return
	}
	c.scheduleRestart("ended")
}

func (c *Controller) scheduleRestart(reason string) {
	if c.scheduler.Schedule(reason) {
		return
	}
	if c.budgetSpent {
		return
	}
	c.budgetSpent = true
	c.logger.Error("recognizer restart budget exhausted", "attempts", c.scheduler.Attempts())
	c.enterError(recognizer.KindUnknown, "speech recognition keeps failing; pausing before another attempt")
}

// requestRestart is the scheduler's fire callback; it runs on the debounce
// timer goroutine and only posts into the loop.
func (c *Controller) requestRestart() {
	select {
	case c.restartCh <- struct{}{}:
	case <-c.done:
	default:
	}
}

func (c *Controller) handleRestart(ctx context.Context) {
	if c.closed || !c.shouldListen || c.State() != fsm.StateListening {
		c.logger.Debug("restart fire ignored")
		return
	}
	if err := c.rec.Start(ctx); err != nil {
		c.logger.Warn("recognizer restart refused", "error", err.Error())
	}
}

func (c *Controller) handleStatus(st assistant.Status) {
	if c.closed {
		return
	}
	current := c.currentExchange()
	if current == "" || st.ExchangeID != current {
		c.logger.Debug("stale assistant status dropped", "exchange", st.ExchangeID, "stage", string(st.Stage))
		return
	}

	switch st.Stage {
	case assistant.StageAccepted, assistant.StageProgress:
		c.logger.Debug("assistant status", "exchange", st.ExchangeID, "stage", string(st.Stage))
	case assistant.StageReply:
		c.handleReply(st)
	case assistant.StageError:
		c.logger.Warn("assistant exchange failed", "exchange", st.ExchangeID, "message", st.Message)
		message := st.Message
		if message == "" {
			message = "the assistant reported an error"
		}
		c.enterError(recognizer.KindUnknown, message)
	default:
		c.logger.Debug("unknown assistant stage ignored", "stage", string(st.Stage))
	}
}

func (c *Controller) handleReply(st assistant.Status) {
	if err := c.transition(fsm.EventReply); err != nil {
		c.logger.Debug("late reply dropped", "error", err.Error())
		return
	}
	c.cues.Play(cue.Reply)
	c.events.PublishReply(st.ExchangeID, st.Message)
	if err := c.journal.Resolve(st.ExchangeID, journal.StatusReplied, st.Message, time.Now()); err != nil {
		c.logger.Warn("journal write failed", "error", err.Error())
	}
	// The exchange is settled; clearing it keeps a later cancel or assistant
	// drop from touching the recorded reply.
	c.setExchange("")
	c.logger.Info("assistant replied", "exchange", st.ExchangeID, "chars", len(st.Message))
	c.schedule(fsm.EventShown, c.cfg.ReplyReceivedDelay)
}

func (c *Controller) handleAssistantGone() {
	if c.closed {
		return
	}
	c.logger.Warn("assistant status stream ended")
	if c.currentExchange() != "" {
		c.enterError(recognizer.KindNetwork, "assistant connection lost")
	}
}

// schedule arms the single live timer. Scheduling bumps the generation, so
// any earlier pending fire lands stale and is dropped.
func (c *Controller) schedule(event fsm.Event, delay time.Duration) {
	c.generation++
	gen := c.generation
	time.AfterFunc(delay, func() {
		select {
		case c.timerCh <- timerFire{event: event, generation: gen}:
		case <-c.done:
		}
	})
}

func (c *Controller) handleTimer(ctx context.Context, fire timerFire) {
	if c.closed || fire.generation != c.generation {
		c.logger.Debug("stale timer dropped", "event", string(fire.event))
		return
	}

	switch fire.event {
	case fsm.EventShown:
		if err := c.transition(fsm.EventShown); err != nil {
			c.logger.Debug("shown timer ignored", "error", err.Error())
			return
		}
		c.schedule(fsm.EventResume, c.cfg.ReplyReadyDelay)
	case fsm.EventResume:
		if err := c.transition(fsm.EventResume); err != nil {
			c.logger.Debug("resume timer ignored", "error", err.Error())
			return
		}
		c.enterListening(ctx)
	}
}

// enterError moves the session to the error state. Non-sticky kinds arm the
// auto-recovery timer; permission-denied waits for an explicit retry.
func (c *Controller) enterError(kind recognizer.ErrorKind, message string) {
	c.shouldListen = false
	c.lastErrKind = kind
	c.generation++
	c.rec.Stop()
	c.abandonExchange(journal.StatusFailed)
	_ = c.transition(fsm.EventFail)
	c.cues.Play(cue.Error)
	c.events.PublishError(string(kind), message)

	if kind == recognizer.KindPermissionDenied {
		c.logger.Error("voice session blocked", "kind", string(kind), "message", message)
		return
	}
	c.logger.Warn("voice session error", "kind", string(kind), "message", message)
	c.schedule(fsm.EventResume, c.cfg.ErrorRecoverDelay)
}

// abandonExchange locally resolves the in-flight exchange, telling the
// assistant best-effort.
func (c *Controller) abandonExchange(status string) {
	id := c.currentExchange()
	if id == "" {
		return
	}
	c.dispatcher.Cancel(id)
	if err := c.journal.Resolve(id, status, "", time.Now()); err != nil {
		c.logger.Warn("journal write failed", "error", err.Error())
	}
	c.setExchange("")
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) bool {
	switch cmd.req.Command {
	case ipc.CommandCancel:
		cmd.reply <- c.cancelExchange(ctx)
	case ipc.CommandRetry:
		cmd.reply <- c.retryPermission(ctx)
	case ipc.CommandClose:
		c.shutdown()
		cmd.reply <- ipc.Response{OK: true, State: string(fsm.StateIdle), Message: "voice session closed"}
		return true
	default:
		cmd.reply <- ipc.Response{
			OK:    false,
			State: string(c.State()),
			Error: fmt.Sprintf("unknown command: %s", cmd.req.Command),
		}
	}
	return false
}

// cancelExchange abandons whatever is in flight and returns straight to
// listening with an empty buffer.
func (c *Controller) cancelExchange(ctx context.Context) ipc.Response {
	state := c.State()
	if state == fsm.StateError && c.lastErrKind == recognizer.KindPermissionDenied {
		return ipc.Response{
			OK:    false,
			State: string(state),
			Error: "microphone access denied; run parley retry",
		}
	}
	if err := c.transition(fsm.EventCancel); err != nil {
		return ipc.Response{OK: false, State: string(state), Error: err.Error()}
	}

	c.generation++
	c.abandonExchange(journal.StatusCancelled)
	c.enterListening(ctx)
	c.logger.Info("exchange cancelled", "from", string(state))
	return ipc.Response{OK: true, State: string(fsm.StateListening), Message: "cancelled"}
}

// retryPermission re-runs the gate from a sticky error. The probe is
// blocking, so it runs off the loop and lands as a gate result.
func (c *Controller) retryPermission(ctx context.Context) ipc.Response {
	state := c.State()
	if state != fsm.StateError {
		return ipc.Response{OK: false, State: string(state), Error: "nothing to retry"}
	}

	go c.probeGate(ctx, true)
	return ipc.Response{OK: true, State: string(state), Message: "permission retry started"}
}

// shutdown flags the session closed and tears its pieces down. Late events
// see the flag and become no-ops.
func (c *Controller) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	c.shouldListen = false
	c.generation++
	c.abandonExchange(journal.StatusCancelled)
	c.rec.Stop()
	if fsm.Active(c.State()) {
		_ = c.transition(fsm.EventClose)
	}
	c.logger.Info("voice session closed")
}

package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle          State = "idle"
	StateListening     State = "listening"
	StateDispatching   State = "dispatching"
	StateAwaitingReply State = "awaiting-reply"
	StateReplyReceived State = "reply-received"
	StateReplyReady    State = "reply-ready"
	StateError         State = "error"
)

const (
	EventOpen     Event = "open"
	EventDispatch Event = "dispatch"
	EventSent     Event = "sent"
	EventReply    Event = "reply"
	EventShown    Event = "shown"
	EventResume   Event = "resume"
	EventCancel   Event = "cancel"
	EventFail     Event = "fail"
	EventClose    Event = "close"
)

// Transition is pure; side effects (recognizer start/stop, timers, cues)
// belong to the session controller.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}
	if event == EventClose {
		if current == StateIdle {
			return current, invalidTransition(current, event)
		}
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventOpen:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventDispatch:
			return StateDispatching, nil
		case EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDispatching:
		switch event {
		case EventSent:
			return StateAwaitingReply, nil
		case EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingReply:
		switch event {
		case EventReply:
			return StateReplyReceived, nil
		case EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReplyReceived:
		switch event {
		case EventShown:
			return StateReplyReady, nil
		case EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReplyReady:
		switch event {
		case EventResume, EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventResume, EventCancel:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether the state belongs to an open voice session.
func Active(s State) bool {
	return s != StateIdle
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

// Package fsm defines the assistant cycle states and their legal transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateCapturing    State = "capturing"
	StateTranscribing State = "transcribing"
	StateResponding   State = "responding"
	StateSpeaking     State = "speaking"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

const (
	EventStart       Event = "cycle_start"
	EventWake        Event = "wake"
	EventTimeout     Event = "timeout"
	EventCaptured    Event = "captured"
	EventDeviceError Event = "device_error"
	EventFail        Event = "fail"
	EventPrompt      Event = "prompt"
	EventEmptyPrompt Event = "empty_prompt"
	EventReply       Event = "reply"
	EventReplyFailed Event = "reply_failed"
	EventSpoken      Event = "spoken"
	EventCancel      Event = "cancel"
	EventReleased    Event = "released"
)

// Transition returns the state reached from current on event.
//
// EventCancel is accepted from every state except StateTerminated.
func Transition(current State, event Event) (State, error) {
	if event == EventCancel {
		switch current {
		case StateTerminated:
			return current, invalidTransition(current, event)
		case StateIdle, StateListening, StateCapturing, StateTranscribing,
			StateResponding, StateSpeaking, StateShuttingDown:
			return StateShuttingDown, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateListening, nil
		}
	case StateListening:
		switch event {
		case EventWake:
			return StateCapturing, nil
		case EventTimeout, EventDeviceError, EventFail:
			return StateIdle, nil
		}
	case StateCapturing:
		switch event {
		case EventCaptured:
			return StateTranscribing, nil
		case EventDeviceError, EventFail:
			return StateIdle, nil
		}
	case StateTranscribing:
		switch event {
		case EventPrompt:
			return StateResponding, nil
		case EventEmptyPrompt, EventFail:
			return StateIdle, nil
		}
	case StateResponding:
		switch event {
		case EventReply:
			return StateSpeaking, nil
		case EventReplyFailed, EventFail:
			return StateIdle, nil
		}
	case StateSpeaking:
		switch event {
		case EventSpoken, EventFail:
			return StateIdle, nil
		}
	case StateShuttingDown:
		switch event {
		case EventReleased:
			return StateTerminated, nil
		}
	case StateTerminated:
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Terminal reports whether no further transitions are possible.
func Terminal(state State) bool {
	return state == StateTerminated
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

// Package lifecycle implements the stage transition engine: one guarded state
// machine per document kind. Transitions are explicit (state, event) -> state
// mappings; cross-document guards run in the services that fire the events.
package lifecycle

import (
	"abasto/internal/core/apperror"
)

// Kind identifies a document kind with its own lifecycle.
type Kind string

const (
	KindRequest  Kind = "request"
	KindOrder    Kind = "order"
	KindReceipt  Kind = "receipt"
	KindDispatch Kind = "dispatch"
)

// State is a lifecycle state of a document.
type State string

const (
	// Request lifecycle
	StateDraft       State = "DRAFT"
	StatePending     State = "PENDING"
	StateApproved    State = "APPROVED"
	StateRejected    State = "REJECTED"
	StateDispatching State = "DISPATCHING"
	StateClosed      State = "CLOSED"

	// Order lifecycle (shares DRAFT)
	StateIssued   State = "ISSUED"
	StateReceived State = "RECEIVED"

	// Receipt lifecycle
	StateOpen      State = "OPEN"
	StateCompleted State = "COMPLETED"
)

// Event triggers a transition.
type Event string

const (
	EventSubmit        Event = "submit"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventBeginDispatch Event = "begin_dispatch"
	EventClose         Event = "close"
	EventConfirm       Event = "confirm"
	EventFullyReceive  Event = "fully_receive"
	EventComplete      Event = "complete"
)

// transitions holds the full transition table per document kind.
var transitions = map[Kind]map[State]map[Event]State{
	KindRequest: {
		StateDraft: {
			EventSubmit: StatePending,
		},
		StatePending: {
			EventApprove: StateApproved,
			EventReject:  StateRejected,
		},
		StateApproved: {
			EventBeginDispatch: StateDispatching,
		},
		StateDispatching: {
			EventClose: StateClosed,
		},
	},
	KindOrder: {
		StateDraft: {
			EventConfirm: StateIssued,
		},
		StateIssued: {
			EventFullyReceive: StateReceived,
		},
	},
	KindReceipt: {
		StateOpen: {
			EventClose: StateCompleted,
		},
	},
	KindDispatch: {
		StateDraft: {
			EventConfirm: StateCompleted,
		},
	},
}

// terminal states per kind; mutation attempts against these are rejected.
var terminal = map[Kind]map[State]bool{
	KindRequest:  {StateRejected: true, StateClosed: true},
	KindOrder:    {StateReceived: true},
	KindReceipt:  {StateCompleted: true},
	KindDispatch: {StateCompleted: true},
}

// Initial returns the initial state for a document kind.
func Initial(kind Kind) State {
	switch kind {
	case KindReceipt:
		return StateOpen
	default:
		return StateDraft
	}
}

// IsTerminal reports whether state is terminal for the given kind.
func IsTerminal(kind Kind, state State) bool {
	return terminal[kind][state]
}

// Fire resolves the next state for (from, event) or rejects the transition.
// Terminal states reject every event with a DOCUMENT_CLOSED error.
func Fire(kind Kind, from State, event Event) (State, error) {
	if IsTerminal(kind, from) {
		return from, apperror.NewDocumentClosed(string(kind), nil, string(from))
	}

	next, ok := transitions[kind][from][event]
	if !ok {
		return from, apperror.NewBusinessRule(
			apperror.CodeBusinessRule,
			"transition not allowed",
		).
			WithDetail("kind", string(kind)).
			WithDetail("from", string(from)).
			WithDetail("event", string(event))
	}

	return next, nil
}

// CanFire reports whether the event is legal in the current state.
func CanFire(kind Kind, from State, event Event) bool {
	_, err := Fire(kind, from, event)
	return err == nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

// State is the position of a session in its call/serve cycle.
type State uint8

const (
	StateStopped   State = iota // idle, neither serving nor calling
	StateListening              // serving inbound requests
	StateCalling                // waiting for the result of an outbound call
	StateCallback               // calling back to the peer from inside a served request
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stop"
	case StateListening:
		return "listen"
	case StateCalling:
		return "call"
	case StateCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// event drives a state transition.
type event uint8

const (
	evRun     event = iota // Run entered
	evCall                 // outbound call sent
	evResult               // "ret" or "err" received for the outbound call
	evServed               // one inbound request served
	evAborted              // loop stopped by an error other than "empty"
)

// transitions lists every legal transition. Missing entries are protocol or
// usage errors and leave the state untouched.
var transitions = map[State]map[event]State{
	StateStopped: {
		evRun:     StateListening,
		evCall:    StateCalling,
		evAborted: StateStopped,
	},
	StateListening: {
		evRun:     StateListening,
		evCall:    StateCallback,
		evServed:  StateStopped,
		evAborted: StateStopped,
	},
	StateCalling: {
		evRun:     StateCalling,
		evResult:  StateStopped,
		evServed:  StateCalling,
		evAborted: StateStopped,
	},
	StateCallback: {
		evRun:     StateCallback,
		evResult:  StateListening,
		evAborted: StateListening,
	},
}

// next returns the state reached from s on e.
func (s State) next(e event) (State, bool) {
	to, ok := transitions[s][e]
	return to, ok
}

// outstanding reports whether an outbound call awaits its result.
func (s State) outstanding() bool {
	return s == StateCalling || s == StateCallback
}

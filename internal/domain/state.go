package domain

import (
	"errors"
	"fmt"
)

// RequestState is the lifecycle position of a Request.
type RequestState string

const (
	StateCreated       RequestState = "created"
	StateAwaitingInput RequestState = "awaiting_input"
	StateSubmitted     RequestState = "submitted"
	StateUnlocked      RequestState = "unlocked"
)

// ErrIllegalTransition is returned for moves missing from the transition table.
var ErrIllegalTransition = errors.New("illegal request transition")

// transitions lists the legal next states. Expiry is not a state: the
// sweeper deletes expired rows outright.
var transitions = map[RequestState][]RequestState{
	StateCreated:       {StateAwaitingInput},
	StateAwaitingInput: {StateSubmitted},
	StateSubmitted:     {StateUnlocked},
	StateUnlocked:      nil,
}

// Valid reports whether s is a known state.
func (s RequestState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s RequestState) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether moving from s to next is legal.
func (s RequestState) CanTransition(next RequestState) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Transition returns next, or an error when the move is illegal.
func (s RequestState) Transition(next RequestState) (RequestState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

package ioq

import (
	"sync/atomic"
)

// LoopState represents the current state of a Queue's reactor loop.
//
//	StateAwake (0) → StateRunning (3)        [first Iterate]
//	StateRunning (3) → StateSleeping (2)     [blocked in the poller]
//	StateRunning (3) → StateTerminating (4)  [Close]
//	StateSleeping (2) → StateRunning (3)     [poller returns]
//	StateSleeping (2) → StateTerminating (4) [Close]
//	StateTerminating (4) → StateTerminated (1)
//	StateTerminated (1) → (terminal)
//
//   - TryTransition/TransitionAny (CAS) for the temporary states (Running,
//     Sleeping)
//   - Store for the irreversible terminal states
//   - calling Store(Running) or Store(Sleeping) directly bypasses the CAS
//     and can race a concurrent transition; don't.
type LoopState uint64

const (
	// StateAwake indicates the queue has been created but Iterate has not
	// run yet.
	StateAwake LoopState = 0
	// StateTerminated indicates the queue has been closed and torn down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the queue is blocked in the poller.
	StateSleeping LoopState = 2
	// StateRunning indicates the queue is dispatching timers/tasks or about
	// to poll.
	StateRunning LoopState = 3
	// StateTerminating indicates Close has been called but teardown hasn't
	// finished.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine: one cache line, CAS only, no
// mutex.
type FastState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, bypassing transition validation.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny tries each of validFrom in turn, transitioning to to on the
// first match.
func (s *FastState) TransitionAny(validFrom []LoopState, to LoopState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the current state is terminal (Terminated).
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// IsRunning returns true if the loop is currently running or sleeping.
func (s *FastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}

// CanAcceptWork returns true if the loop can accept new work.
func (s *FastState) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning || state == StateSleeping
}

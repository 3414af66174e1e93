package sentinel

import "sync"

type State string

type Event string

const (
	StateNormal           State = "NORMAL"
	StateBorrowPaused     State = "BORROW_PAUSED"
	StateCollateralZeroed State = "COLLATERAL_ZEROED"
)

const (
	EventPauseBorrow    Event = "PAUSE_BORROW"
	EventZeroCollateral Event = "ZERO_COLLATERAL"
	EventRestore        Event = "RESTORE"
)

// StateMachine tracks one market's intervention state.
type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateNormal}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

func nextState(current State, event Event) State {
	switch current {
	case StateNormal:
		if event == EventPauseBorrow {
			return StateBorrowPaused
		}
		if event == EventZeroCollateral {
			return StateCollateralZeroed
		}
	case StateBorrowPaused:
		if event == EventRestore {
			return StateNormal
		}
		if event == EventZeroCollateral {
			return StateCollateralZeroed
		}
	case StateCollateralZeroed:
		if event == EventRestore {
			return StateNormal
		}
		if event == EventPauseBorrow {
			return StateBorrowPaused
		}
	}
	return current
}

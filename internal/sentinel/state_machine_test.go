package sentinel

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.State != StateNormal {
		t.Fatalf("expected %s, got %s", StateNormal, sm.State)
	}
	if sm.Apply(EventPauseBorrow) != StateBorrowPaused {
		t.Fatalf("expected %s, got %s", StateBorrowPaused, sm.State)
	}
	if sm.Apply(EventZeroCollateral) != StateCollateralZeroed {
		t.Fatalf("expected %s, got %s", StateCollateralZeroed, sm.State)
	}
	if sm.Apply(EventPauseBorrow) != StateBorrowPaused {
		t.Fatalf("expected %s, got %s", StateBorrowPaused, sm.State)
	}
	if sm.Apply(EventRestore) != StateNormal {
		t.Fatalf("expected %s, got %s", StateNormal, sm.State)
	}
	if sm.Apply(EventZeroCollateral) != StateCollateralZeroed {
		t.Fatalf("expected %s, got %s", StateCollateralZeroed, sm.State)
	}
	if sm.Apply(EventRestore) != StateNormal {
		t.Fatalf("expected %s, got %s", StateNormal, sm.State)
	}
}

func TestStateMachineInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	if sm.Apply(EventRestore) != StateNormal {
		t.Fatalf("restore from normal should not change state")
	}
}

func TestStateMachineSetState(t *testing.T) {
	sm := NewStateMachine()
	sm.SetState(StateCollateralZeroed)
	if sm.Current() != StateCollateralZeroed {
		t.Fatalf("expected %s, got %s", StateCollateralZeroed, sm.Current())
	}
}

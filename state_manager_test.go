package go_fvm

import "testing"

func newStartedStateManager(t *testing.T, start FVState) (*StateManager, map[FVState]int) {
	t.Helper()
	entered := make(map[FVState]int)
	m := NewStateManager()
	for _, s := range []FVState{FVStateRequestFV, FVStateInProgress, FVStateProcessFV, FVStateProcessUnauthFV, FVStateIdle} {
		s := s
		m.RegisterState(s, func() error {
			entered[s]++
			return nil
		})
	}
	if err := m.Start(start); err != nil {
		t.Fatalf("Start(%v) error = %v", start, err)
	}
	return m, entered
}

// TestStateManagerTransitions tests the allowed and refused transitions
func TestStateManagerTransitions(t *testing.T) {
	tests := []struct {
		from, to FVState
		allowed  bool
	}{
		{FVStateRequestFV, FVStateInProgress, true},
		{FVStateRequestFV, FVStateIdle, false},
		{FVStateInProgress, FVStateRequestFV, true},
		{FVStateInProgress, FVStateProcessFV, true},
		{FVStateInProgress, FVStateIdle, false},
		{FVStateProcessFV, FVStateIdle, true},
		{FVStateProcessFV, FVStateInProgress, true},
		{FVStateProcessFV, FVStateRequestFV, false},
		{FVStateIdle, FVStateProcessUnauthFV, true},
		{FVStateIdle, FVStateRequestFV, false},
		{FVStateProcessUnauthFV, FVStateIdle, true},
		{FVStateProcessUnauthFV, FVStateRequestFV, true},
		{FVStateProcessUnauthFV, FVStateProcessFV, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			m, _ := newStartedStateManager(t, tt.from)
			err := m.TransitTo(tt.to)
			if (err == nil) != tt.allowed {
				t.Fatalf("TransitTo() error = %v, allowed %t", err, tt.allowed)
			}
			want := tt.from
			if tt.allowed {
				want = tt.to
			}
			if m.Current() != want {
				t.Errorf("Current() = %v, want %v", m.Current(), want)
			}
		})
	}
}

// TestStateManagerEnter tests that Enter runs the current state's action
func TestStateManagerEnter(t *testing.T) {
	m := NewStateManager()
	if err := m.Enter(); err == nil {
		t.Error("Enter() before Start should fail")
	}
	if err := m.Start(FVStateIdle); err == nil {
		t.Error("Start() in an unregistered state should fail")
	}

	m, entered := newStartedStateManager(t, FVStateRequestFV)
	if err := m.Enter(); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	if entered[FVStateRequestFV] != 1 {
		t.Errorf("RequestFV entered %d times, want 1", entered[FVStateRequestFV])
	}
}

func TestStateManagerActionMayTransit(t *testing.T) {
	m := NewStateManager()
	m.RegisterState(FVStateInProgress, func() error { return nil })
	m.RegisterState(FVStateRequestFV, func() error { return m.TransitTo(FVStateInProgress) })
	if err := m.Start(FVStateRequestFV); err != nil {
		t.Fatal(err)
	}
	if err := m.Enter(); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	if m.Current() != FVStateInProgress {
		t.Errorf("Current() = %v, want %v", m.Current(), FVStateInProgress)
	}
}

func TestStateManagerCompareAndTransit(t *testing.T) {
	m, _ := newStartedStateManager(t, FVStateInProgress)
	if m.CompareAndTransit(FVStateIdle, FVStateProcessUnauthFV) {
		t.Error("CompareAndTransit succeeded from the wrong state")
	}
	if !m.CompareAndTransit(FVStateInProgress, FVStateRequestFV) {
		t.Error("CompareAndTransit failed from the current state")
	}
	if m.Current() != FVStateRequestFV {
		t.Errorf("Current() = %v, want %v", m.Current(), FVStateRequestFV)
	}
}

// TestStateManagerReactions tests the signal driven reactions
func TestStateManagerReactions(t *testing.T) {
	m, _ := newStartedStateManager(t, FVStateRequestFV)
	m.ReactToFVRes()
	if m.Current() != FVStateRequestFV {
		t.Errorf("unrequested response moved state to %v", m.Current())
	}

	_ = m.TransitTo(FVStateInProgress)
	m.ReactToFVRes()
	if m.Current() != FVStateProcessFV {
		t.Errorf("Current() = %v, want %v", m.Current(), FVStateProcessFV)
	}
	m.ReactToFVRes()
	if m.Current() != FVStateProcessFV {
		t.Errorf("second response moved state to %v", m.Current())
	}

	m.ReactToUnauthFVRes()
	if m.Current() != FVStateProcessFV {
		t.Errorf("broadcast outside Idle moved state to %v", m.Current())
	}
	_ = m.TransitTo(FVStateIdle)
	m.ReactToUnauthFVRes()
	if m.Current() != FVStateProcessUnauthFV {
		t.Errorf("Current() = %v, want %v", m.Current(), FVStateProcessUnauthFV)
	}
}

func TestStateManagerResetAndObserver(t *testing.T) {
	m, _ := newStartedStateManager(t, FVStateRequestFV)
	var seen []FVState
	m.OnTransition(func(_, to FVState) { seen = append(seen, to) })

	_ = m.TransitTo(FVStateInProgress)
	m.Reset()
	if m.Current() != FVStateRequestFV {
		t.Errorf("Current() after Reset = %v, want %v", m.Current(), FVStateRequestFV)
	}
	m.ReactToFVRes()
	if err := m.TransitTo(FVStateInProgress); err == nil {
		t.Error("TransitTo() after Reset should fail until Start")
	}
	if len(seen) != 1 || seen[0] != FVStateInProgress {
		t.Errorf("observed transitions = %v, want [%v]", seen, FVStateInProgress)
	}
}

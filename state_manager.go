package go_fvm

import (
	"fmt"
	"sync"

	"github.com/go-i2p/logger"
)

// FVState is a participant synchronisation state.
type FVState uint8

const (
	FVStateRequestFV FVState = iota
	FVStateInProgress
	FVStateProcessFV
	FVStateProcessUnauthFV
	FVStateIdle
)

func (s FVState) String() string {
	switch s {
	case FVStateRequestFV:
		return "RequestFV"
	case FVStateInProgress:
		return "FVInProgress"
	case FVStateProcessFV:
		return "ProcessFV"
	case FVStateProcessUnauthFV:
		return "ProcessUnauthFV"
	case FVStateIdle:
		return "Idle"
	default:
		return fmt.Sprintf("FVState(%d)", uint8(s))
	}
}

// fvTransitions lists the states each state may move to. Anything else is a
// programming error and is refused.
var fvTransitions = map[FVState][]FVState{
	FVStateRequestFV:       {FVStateInProgress},
	FVStateInProgress:      {FVStateRequestFV, FVStateProcessFV},
	FVStateProcessFV:       {FVStateIdle, FVStateInProgress},
	FVStateIdle:            {FVStateProcessUnauthFV},
	FVStateProcessUnauthFV: {FVStateIdle, FVStateRequestFV},
}

// StateAction is run by Enter for the current state.
type StateAction func() error

// StateManager is a mutex protected state register. Actions are looked up
// under the lock and executed after releasing it, so an action may itself
// request a transition.
//
// Lock order: a caller holding a participant buffer mutex may take the state
// mutex, never the other way round.
type StateManager struct {
	mu           sync.Mutex
	current      FVState
	started      bool
	actions      map[FVState]StateAction
	onTransition func(from, to FVState)
}

// NewStateManager creates a manager with no registered states.
func NewStateManager() *StateManager {
	return &StateManager{actions: make(map[FVState]StateAction)}
}

// RegisterState binds action to state.
func (m *StateManager) RegisterState(state FVState, action StateAction) {
	m.mu.Lock()
	m.actions[state] = action
	m.mu.Unlock()
}

// OnTransition installs an observer called with the lock held after every
// successful transition. It must not call back into the manager.
func (m *StateManager) OnTransition(fn func(from, to FVState)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// Start places the manager in state without consulting the transition table.
func (m *StateManager) Start(state FVState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[state]; !ok {
		return fmt.Errorf("start in unregistered state %s", state)
	}
	from := m.current
	m.current = state
	m.started = true
	if m.onTransition != nil {
		m.onTransition(from, state)
	}
	return nil
}

// Reset stops the manager. Reactions are ignored until the next Start.
func (m *StateManager) Reset() {
	m.mu.Lock()
	m.started = false
	m.current = FVStateRequestFV
	m.mu.Unlock()
}

// Current returns the current state.
func (m *StateManager) Current() FVState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Enter runs the action of the current state.
func (m *StateManager) Enter() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("state manager not started")
	}
	action := m.actions[m.current]
	state := m.current
	m.mu.Unlock()

	if action == nil {
		return fmt.Errorf("no action registered for state %s", state)
	}
	return action()
}

// TransitTo moves to state if the table allows it from the current state.
func (m *StateManager) TransitTo(state FVState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitLocked(m.current, state)
}

// CompareAndTransit moves from -> to only if the current state is from.
func (m *StateManager) CompareAndTransit(from, to FVState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.current != from {
		return false
	}
	return m.transitLocked(from, to) == nil
}

func (m *StateManager) transitLocked(from, to FVState) error {
	if !m.started {
		return fmt.Errorf("state manager not started")
	}
	if _, ok := m.actions[to]; !ok {
		log.WithField("state", to.String()).Error("Unable to transit to an unregistered state")
		return fmt.Errorf("unregistered state %s", to)
	}
	allowed := false
	for _, s := range fvTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		log.WithFields(logger.Fields{
			"from": from.String(),
			"to":   to.String(),
		}).Error("Refusing unregistered state transition")
		return fmt.Errorf("transition %s -> %s not allowed", from, to)
	}
	m.current = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// ReactToFVRes handles a complete authentic value and MAC pair.
func (m *StateManager) ReactToFVRes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		Error("State manager not started, dropping authentic freshness value")
		return
	}
	switch m.current {
	case FVStateInProgress:
		_ = m.transitLocked(m.current, FVStateProcessFV)
	case FVStateProcessFV:
		Warning("An authentic freshness value is already waiting to be processed, dropping")
	default:
		log.WithField("state", m.current.String()).Warn("Authentic freshness value received without a request")
	}
}

// ReactToUnauthFVRes handles an unauthenticated broadcast.
func (m *StateManager) ReactToUnauthFVRes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	switch m.current {
	case FVStateIdle:
		_ = m.transitLocked(m.current, FVStateProcessUnauthFV)
	default:
		log.WithField("state", m.current.String()).Debug("Ignoring unauthenticated freshness value")
	}
}

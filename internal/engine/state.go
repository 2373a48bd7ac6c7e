package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// OperationState is the lifecycle state of the engine's single in-flight operation.
type OperationState int

const (
	StateIdle OperationState = iota
	StateSearching
	StateReplacing
	StateCancelled
	StateError
)

func (s OperationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateReplacing:
		return "replacing"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultResetDelay is how long Cancelled and Error linger before returning to Idle.
const DefaultResetDelay = 1500 * time.Millisecond

// ErrIllegalTransition is returned for a transition not in the table.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[OperationState][]OperationState{
	StateIdle:      {StateSearching, StateReplacing},
	StateSearching: {StateIdle, StateCancelled, StateError},
	StateReplacing: {StateIdle, StateCancelled, StateError},
	StateCancelled: {StateIdle},
	StateError:     {StateIdle},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to OperationState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine guards which operation may run. State only changes through
// Transition and Reset; entering Cancelled or Error schedules a return to Idle.
type StateMachine struct {
	mu         sync.Mutex
	state      OperationState
	generation uint64
	timer      *time.Timer
	resetDelay time.Duration
	logger     *slog.Logger
	onChange   func(from, to OperationState)
}

// NewStateMachine creates a state machine in Idle. A zero resetDelay makes the
// automatic reset synchronous.
func NewStateMachine(resetDelay time.Duration, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		state:      StateIdle,
		resetDelay: resetDelay,
		logger:     logger,
	}
}

// OnChange registers a callback invoked after every successful transition.
// The callback runs with the machine unlocked.
func (m *StateMachine) OnChange(fn func(from, to OperationState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current state.
func (m *StateMachine) State() OperationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartSearch moves Idle -> Searching.
func (m *StateMachine) StartSearch() error {
	return m.Transition(StateSearching)
}

// StartReplace moves Idle -> Replacing.
func (m *StateMachine) StartReplace() error {
	return m.Transition(StateReplacing)
}

// Transition applies a table transition. Illegal requests are logged and
// leave the state unchanged.
func (m *StateMachine) Transition(to OperationState) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.logger.Warn("Rejected state transition", "from", from.String(), "to", to.String())
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	m.apply(to)
	gen := m.generation
	cb := m.onChange
	needsReset := to == StateCancelled || to == StateError
	if needsReset && m.resetDelay > 0 {
		m.timer = time.AfterFunc(m.resetDelay, func() { m.autoReset(gen) })
	}
	m.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	if needsReset && m.resetDelay <= 0 {
		m.autoReset(gen)
	}
	return nil
}

// Reset returns Cancelled or Error to Idle immediately. It is a no-op in Idle
// and rejected while an operation is running.
func (m *StateMachine) Reset() error {
	m.mu.Lock()
	from := m.state
	switch from {
	case StateIdle:
		m.mu.Unlock()
		return nil
	case StateCancelled, StateError:
		m.apply(StateIdle)
		cb := m.onChange
		m.mu.Unlock()
		if cb != nil {
			cb(from, StateIdle)
		}
		return nil
	default:
		m.mu.Unlock()
		m.logger.Warn("Rejected state reset", "from", from.String())
		return fmt.Errorf("%w: reset from %s", ErrIllegalTransition, from)
	}
}

// Stop cancels any pending automatic reset.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// apply must be called with mu held.
func (m *StateMachine) apply(to OperationState) {
	m.state = to
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *StateMachine) autoReset(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.apply(StateIdle)
	cb := m.onChange
	m.mu.Unlock()

	m.logger.Debug("State reset", "from", from.String())
	if cb != nil {
		cb(from, StateIdle)
	}
}

package camera

import (
	"log/slog"
	"sync"
)

// validTransitions is the session lifecycle table. Any transition not listed
// here is rejected. Error is only left via Reset (or the explicit Error→Idle
// edge), so a faulted session must be torn down before reuse.
var validTransitions = map[ConnectionState][]ConnectionState{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateConnected, StateError, StateIdle},
	StateConnected:  {StateStreaming, StateRunning, StateIdle},
	StateStreaming:  {StateConnected, StateError},
	StateRunning:    {StateConnected, StateError},
	StateError:      {StateIdle},
}

// StateMachine validates and executes camera session lifecycle transitions.
// Safe for concurrent use. Listeners run synchronously on the transitioning
// goroutine and must not call back into the machine.
type StateMachine struct {
	mu        sync.Mutex
	state     ConnectionState
	listeners []StateListener
	logger    *slog.Logger
}

// NewStateMachine returns a machine in StateIdle.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	return &StateMachine{state: StateIdle, logger: logger}
}

// Current returns the current state.
func (m *StateMachine) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddListener registers a callback fired with (prev, next) on every
// successful transition, including forced resets.
func (m *StateMachine) AddListener(l StateListener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Transition attempts to move to next. It returns false and leaves the state
// unchanged when the edge is not in the table.
func (m *StateMachine) Transition(next ConnectionState) bool {
	m.mu.Lock()
	prev := m.state
	allowed := false
	for _, t := range validTransitions[prev] {
		if t == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn("rejected state transition", "from", prev.String(), "to", next.String())
		}
		return false
	}
	m.state = next
	m.fireLocked(prev, next)
	m.mu.Unlock()
	return true
}

// Reset forces the machine to Idle from any state and always fires the
// listeners. It bypasses the table: a reset is a teardown, legal everywhere.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	prev := m.state
	m.state = StateIdle
	m.fireLocked(prev, StateIdle)
	m.mu.Unlock()
}

func (m *StateMachine) fireLocked(prev, next ConnectionState) {
	if m.logger != nil {
		m.logger.Debug("session state transition", "from", prev.String(), "to", next.String())
	}
	for _, l := range m.listeners {
		func() {
			defer recoverLog(m.logger, "state listener panic")
			l(prev, next)
		}()
	}
}

func recoverLog(logger *slog.Logger, msg string) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error(msg, "error", r)
		}
	}
}

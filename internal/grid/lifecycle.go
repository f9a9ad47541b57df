package grid

import (
	"bitunix-grid-bot-go/internal/models"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a lifecycle state of the grid engine.
type State string

const (
	StateInit   State = "INIT"
	StateActive State = "ACTIVE"
	StatePaused State = "PAUSED"
	StateError  State = "ERROR"
	StateClosed State = "CLOSED"
)

// errorRetryInterval is how long the engine stays in ERROR before a
// recovery attempt is allowed.
const errorRetryInterval = 30 * time.Second

// allowedTransitions is the complete transition table. Anything not
// listed here is rejected.
var allowedTransitions = map[State][]State{
	StateInit:   {StateActive, StateError, StateClosed},
	StateActive: {StatePaused, StateError, StateClosed},
	StatePaused: {StateActive, StateError, StateClosed},
	StateError:  {StatePaused, StateClosed},
	StateClosed: {},
}

// Lifecycle tracks the engine state machine. All mutation goes through
// SetState; rejected transitions leave the current state untouched.
type Lifecycle struct {
	mu           sync.Mutex
	state        State
	errorMessage string
	errorTime    time.Time
	onChange     func(from, to State)
	logger       *zap.SugaredLogger
}

// NewLifecycle creates a lifecycle in INIT. onChange may be nil; when
// set it is invoked after every accepted transition.
func NewLifecycle(logger *zap.SugaredLogger, onChange func(from, to State)) *Lifecycle {
	return &Lifecycle{state: StateInit, onChange: onChange, logger: logger}
}

// State returns the current state.
func (lc *Lifecycle) State() State {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// SetState attempts a transition. An ERROR target records the message
// and timestamp for the retry window; leaving ERROR clears them.
func (lc *Lifecycle) SetState(to State, errorMessage string) error {
	lc.mu.Lock()
	from := lc.state

	if !transitionAllowed(from, to) {
		lc.mu.Unlock()
		return &models.InvalidTransitionError{From: string(from), To: string(to)}
	}

	lc.state = to
	if to == StateError {
		lc.errorMessage = errorMessage
		lc.errorTime = time.Now()
	} else if from == StateError {
		lc.errorMessage = ""
	}
	onChange := lc.onChange
	lc.mu.Unlock()

	if to == StateError {
		lc.logger.Warnf("lifecycle %s -> %s: %s", from, to, errorMessage)
	} else {
		lc.logger.Infof("lifecycle %s -> %s", from, to)
	}
	if onChange != nil {
		onChange(from, to)
	}
	return nil
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanRetry reports whether the engine has been in ERROR long enough to
// attempt recovery.
func (lc *Lifecycle) CanRetry() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.state != StateError {
		return false
	}
	return time.Since(lc.errorTime) >= errorRetryInterval
}

// ErrorMessage returns the message recorded with the last ERROR entry.
func (lc *Lifecycle) ErrorMessage() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.errorMessage
}

// IsActive reports whether the engine is in ACTIVE.
func (lc *Lifecycle) IsActive() bool { return lc.State() == StateActive }

// IsPaused reports whether the engine is in PAUSED.
func (lc *Lifecycle) IsPaused() bool { return lc.State() == StatePaused }

// IsClosed reports whether the engine has reached its terminal state.
func (lc *Lifecycle) IsClosed() bool { return lc.State() == StateClosed }

// Summary renders a one-line state description for status logs.
func (lc *Lifecycle) Summary() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.state == StateError {
		return fmt.Sprintf("%s (%s, since %s)", lc.state, lc.errorMessage, lc.errorTime.Format(time.RFC3339))
	}
	return string(lc.state)
}

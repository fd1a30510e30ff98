package registry

import "errors"

var (
	// ErrNotFound is returned when a lookup by id or name matches no record.
	ErrNotFound = errors.New("process not found")

	// ErrNameConflict is returned when a registration collides with an
	// existing process name.
	ErrNameConflict = errors.New("process name already registered")

	// ErrIllegalTransition is returned when a state change violates the
	// process state machine. The record is left untouched.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotTerminal is returned when unregistering a record that is neither
	// in StateRegistered nor in a terminal state. Callers must stop the
	// process first.
	ErrNotTerminal = errors.New("process is not in a terminal state")
)

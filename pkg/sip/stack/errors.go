package stack

import "errors"

var (
	ErrLocalAddrRequired = errors.New("stack: LocalAddr is required")
	ErrInvalidMaxCalls   = errors.New("stack: MaxCalls must be positive")
	ErrTURNServerRequired = errors.New("stack: turn_server required when enable_turn is set")
	ErrAlreadyStarted    = errors.New("stack: endpoint already started")
	ErrNotStarted        = errors.New("stack: endpoint not started")
	ErrCapacityExceeded  = errors.New("stack: max_calls reached")
	ErrNotImplemented    = errors.New("stack: TURN relay candidate gathering is not implemented")
)

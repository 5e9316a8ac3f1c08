package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedMessage = errors.New("unexpected message for state")
	ErrSessionClosed     = errors.New("session closed")
)

// NegotiationError wraps a failure reported by the transport. A session that
// hits one cannot continue and is closed.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed: %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}

// unexpected describes a message that is valid on the wire but not in the
// current state.
func unexpected(what string, state State) error {
	return fmt.Errorf("%w: %s while %s", ErrUnexpectedMessage, what, state)
}

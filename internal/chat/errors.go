package chat

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrValidation rejects malformed input before anything is persisted.
	ErrValidation = errors.New("validation failed")
	// ErrMembership rejects a sender who is not a friend or group member.
	ErrMembership = errors.New("not allowed")
	// ErrNotFound marks an absent target; read operations treat it as a no-op.
	ErrNotFound = errors.New("not found")
	// ErrDelivery is a failed push to a live connection. It is logged, never returned to senders.
	ErrDelivery = errors.New("delivery failed")
)

// Error is a user-facing failure carrying one of the kinds above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func membershipf(format string, args ...any) error {
	return &Error{Kind: ErrMembership, Msg: fmt.Sprintf(format, args...)}
}

// PublicMessage returns the text safe to show a client for err.
func PublicMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return "Server error"
}

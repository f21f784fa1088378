package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure  = errors.New("serialization failure")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDuplicateRegistration = errors.New("participant already registered for this event")
	ErrAlreadyApproved       = errors.New("registration already approved")
	ErrCapacityExceeded      = errors.New("event capacity exceeded")
	ErrSlotConflict          = errors.New("venue slot conflict")
)

// DeniedError is a capacity/deadline/waitlist denial from registration
// evaluation. The reason is surfaced verbatim so callers can explain why.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "registration denied: " + e.Reason
}

func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

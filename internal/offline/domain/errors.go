package domain

import (
	"errors"
	"fmt"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
)

var (
	// ErrRemoteUnavailable marks every failure to reach the remote store.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrCircuitOpen is returned without calling the remote store while the
	// breaker is open. It is treated like being offline.
	ErrCircuitOpen = errors.New("remote store circuit open")
	ErrOffline     = errors.New("offline")
)

// RemoteError wraps a failed remote call. It matches ErrRemoteUnavailable
// and the underlying cause.
type RemoteError struct {
	Op  string
	Err error
}

// NewRemoteError wraps err for the named operation. A nil err yields nil.
func NewRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemoteUnavailable, e.Err}
}

// IsRemoteFailure reports whether err came from the remote store.
func IsRemoteFailure(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsRefusal reports whether err means the store answered and declined the
// change. A refusal is final: it is neither queued nor retried.
func IsRefusal(err error) bool {
	return errors.Is(err, booking.ErrAppointmentNotFound) ||
		errors.Is(err, booking.ErrAppointmentClosed) ||
		errors.Is(err, booking.ErrInvalidTimeRange)
}

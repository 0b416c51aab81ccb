package transport

import (
	"errors"
	"fmt"
)

// ErrCancelled marks a task stopped on request.
var ErrCancelled = errors.New("transfer cancelled")

// CancelledError is the terminal error of a cancelled task. A non-nil Checkpoint marks a
// cooperative pause: the partial bytes were kept and can be resumed from.
type CancelledError struct {
	Checkpoint []byte
}

func (e *CancelledError) Error() string {
	if e.Checkpoint != nil {
		return fmt.Sprintf("%s with checkpoint (%d bytes)", ErrCancelled, len(e.Checkpoint))
	}

	return ErrCancelled.Error()
}

func (e *CancelledError) Unwrap() error {
	return ErrCancelled
}

// IsCancelled reports whether err is a user-requested cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// InterruptedError is a failure that happened after bytes were written, for example a
// dropped connection. When Checkpoint is set the partial bytes were kept.
type InterruptedError struct {
	Err        error
	Checkpoint []byte
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("transfer interrupted: %v", e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}

// CheckpointOf returns the checkpoint carried by a cancellation or an interruption, if any.
func CheckpointOf(err error) ([]byte, bool) {
	var ce *CancelledError
	if errors.As(err, &ce) && ce.Checkpoint != nil {
		return ce.Checkpoint, true
	}

	var ie *InterruptedError
	if errors.As(err, &ie) && ie.Checkpoint != nil {
		return ie.Checkpoint, true
	}

	return nil, false
}

// HTTPError is returned when the server answers with a status the transport cannot use.
type HTTPError struct {
	Operation  string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: server returned %s", e.Operation, e.Status)
}

package transfer

import "fmt"

// MoveError is returned when finished bytes cannot be moved to their final location.
// The bytes left at From are abandoned.
type MoveError struct {
	From string
	To   string
	Err  error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("failed to move %s to %s: %v", e.From, e.To, e.Err)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

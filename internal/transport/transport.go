// Package transport declares the byte-moving capability the download manager drives.
// Implementations own the network and the partial bytes; the manager only sees tasks,
// events and opaque checkpoints.
package transport

import "context"

// Request describes one transfer. Checkpoint is nil for a fresh start.
type Request struct {
	ID         string
	URL        string
	Checkpoint []byte
	Headers    map[string]string
}

// Task is a live transfer owned by a Transport. The manager compares tasks by identity,
// so implementations must hand the same value to NewTask's caller and to every event.
type Task interface {
	ID() string
	URL() string
	// Running reports whether bytes are being moved, as opposed to suspended.
	Running() bool
	// Start resumes a suspended task. It is a no-op on a running or cancelled task.
	Start()
	// Cancel stops the task and discards its partial bytes. Completed follows with an
	// error matching ErrCancelled.
	Cancel()
	// CancelWithCheckpoint stops the task, keeps its partial bytes and calls fn exactly once
	// with a checkpoint, nil when none could be produced. Completed follows with a
	// *CancelledError carrying the same checkpoint.
	CancelWithCheckpoint(fn func(checkpoint []byte))
}

// EventHandler receives task events. Calls may arrive on any goroutine.
type EventHandler interface {
	Progress(task Task, written, expected int64)
	// FinishedToTemp hands over the complete bytes. The file at tempPath is the
	// handler's to move; the transport forgets it after the call returns.
	FinishedToTemp(task Task, tempPath, suggestedName string)
	// Completed is the last event of a task. err is nil after a successful FinishedToTemp.
	Completed(task Task, err error)
	// AllEventsFlushed fires when the session has no live tasks left.
	AllEventsFlushed(sessionID string)
}

// Transport creates and enumerates tasks.
type Transport interface {
	// NewTask returns a suspended task. No events are emitted before Start or a cancel.
	NewTask(ctx context.Context, req Request) (Task, error)
	// Tasks enumerates live tasks, running or suspended.
	Tasks(ctx context.Context) ([]Task, error)
	// Discard releases whatever partial bytes a checkpoint refers to.
	Discard(ctx context.Context, checkpoint []byte) error
	SetEventHandler(h EventHandler)
	SessionID() string
}

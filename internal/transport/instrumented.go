package transport

import (
	"context"

	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedTransport wraps Transport with telemetry. Tasks are returned unwrapped so
// their identity matches the tasks carried by events.
type InstrumentedTransport struct {
	transport Transport
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(t Transport, tel *telemetry.Telemetry) *InstrumentedTransport {
	return &InstrumentedTransport{
		transport: t,
		telemetry: tel,
	}
}

// NewTask creates a task with telemetry.
func (t *InstrumentedTransport) NewTask(ctx context.Context, req Request) (Task, error) {
	var (
		result Task
		err    error
	)

	instrumentedErr := t.telemetry.InstrumentTransportOperation(ctx, "new_task", func(ctx context.Context) error {
		result, err = t.transport.NewTask(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Tasks enumerates live tasks with telemetry.
func (t *InstrumentedTransport) Tasks(ctx context.Context) ([]Task, error) {
	var (
		result []Task
		err    error
	)

	instrumentedErr := t.telemetry.InstrumentTransportOperation(ctx, "tasks", func(ctx context.Context) error {
		result, err = t.transport.Tasks(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Discard releases partial bytes with telemetry.
func (t *InstrumentedTransport) Discard(ctx context.Context, checkpoint []byte) error {
	return t.telemetry.InstrumentTransportOperation(ctx, "discard", func(ctx context.Context) error {
		return t.transport.Discard(ctx, checkpoint)
	})
}

func (t *InstrumentedTransport) SetEventHandler(h EventHandler) {
	t.transport.SetEventHandler(h)
}

func (t *InstrumentedTransport) SessionID() string {
	return t.transport.SessionID()
}

var _ Transport = (*InstrumentedTransport)(nil)

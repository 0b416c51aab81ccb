package downloader

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/afero"

	"github.com/italolelis/resumable_downloader/internal/transport"
)

// fakeTransport delivers events synchronously on the caller's goroutine, so a test
// decides exactly when and in which order the manager sees them.
type fakeTransport struct {
	fs afero.Fs

	mu        sync.Mutex
	handler   transport.EventHandler
	tasks     []*fakeTask
	newErr    error
	discarded [][]byte

	// checkpoint is what CancelWithCheckpoint yields for an id. With holdCheckpoints the
	// callback is parked until releaseCheckpoint.
	checkpoint      map[string][]byte
	holdCheckpoints bool
}

type fakeTask struct {
	tr  *fakeTransport
	req transport.Request

	mu        sync.Mutex
	running   bool
	cancelled bool
	starts    int
	parked    func([]byte)
}

func newFakeTransport(fs afero.Fs) *fakeTransport {
	return &fakeTransport{fs: fs, checkpoint: make(map[string][]byte)}
}

func (f *fakeTransport) NewTask(_ context.Context, req transport.Request) (transport.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.newErr != nil {
		return nil, f.newErr
	}

	task := &fakeTask{tr: f, req: req}
	f.tasks = append(f.tasks, task)

	return task, nil
}

func (f *fakeTransport) Tasks(context.Context) ([]transport.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var live []transport.Task

	for _, t := range f.tasks {
		if !t.isCancelled() {
			live = append(live, t)
		}
	}

	return live, nil
}

func (f *fakeTransport) Discard(_ context.Context, cp []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.discarded = append(f.discarded, cp)

	return nil
}

func (f *fakeTransport) SetEventHandler(h transport.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = h
}

func (f *fakeTransport) SessionID() string { return "session-1" }

func (f *fakeTransport) events() transport.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.handler
}

// latest returns the newest task created for id.
func (f *fakeTransport) latest(id string) *fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.tasks) - 1; i >= 0; i-- {
		if f.tasks[i].req.ID == id {
			return f.tasks[i]
		}
	}

	return nil
}

func (f *fakeTransport) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, t := range f.tasks {
		if t.req.ID == id {
			n++
		}
	}

	return n
}

func (f *fakeTransport) progress(t *fakeTask, written, expected int64) {
	f.events().Progress(t, written, expected)
}

// finish writes content to a temp file and reports success the way a real transport does.
func (f *fakeTransport) finish(t *fakeTask, name string, content []byte) {
	tmp := "/partial/" + t.req.ID + ".part"
	_ = afero.WriteFile(f.fs, tmp, content, 0o644)

	t.stop()
	f.events().FinishedToTemp(t, tmp, name)
	f.events().Completed(t, nil)
}

func (f *fakeTransport) fail(t *fakeTask, err error) {
	t.stop()
	f.events().Completed(t, err)
}

func (t *fakeTask) ID() string  { return t.req.ID }
func (t *fakeTask) URL() string { return t.req.URL }

func (t *fakeTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

func (t *fakeTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return
	}

	t.running = true
	t.starts++
}

func (t *fakeTask) Cancel() {
	if !t.stop() {
		return
	}

	t.tr.events().Completed(t, &transport.CancelledError{})
}

func (t *fakeTask) CancelWithCheckpoint(fn func([]byte)) {
	if !t.stop() {
		fn(nil)

		return
	}

	t.tr.mu.Lock()
	cp, hold := t.tr.checkpoint[t.req.ID], t.tr.holdCheckpoints
	t.tr.mu.Unlock()

	if cp == nil {
		cp = t.req.Checkpoint
	}

	deliver := func([]byte) {
		fn(cp)
		t.tr.events().Completed(t, &transport.CancelledError{Checkpoint: cp})
	}

	if hold {
		t.mu.Lock()
		t.parked = deliver
		t.mu.Unlock()

		return
	}

	deliver(cp)
}

// releaseCheckpoint delivers a parked checkpoint.
func (t *fakeTask) releaseCheckpoint() {
	t.mu.Lock()
	deliver := t.parked
	t.parked = nil
	t.mu.Unlock()

	if deliver != nil {
		deliver(nil)
	}
}

func (t *fakeTask) stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return false
	}

	t.cancelled = true
	t.running = false

	return true
}

func (t *fakeTask) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

func (t *fakeTask) startCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.starts
}

var errConnectionReset = errors.New("connection reset by peer")

func transportRequest(id string) transport.Request {
	return transport.Request{ID: id, URL: "https://example.com/files/" + id + ".bin"}
}

package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/italolelis/resumable_downloader/internal/transport"
	"github.com/italolelis/resumable_downloader/internal/transport/progress"
)

type taskState int

const (
	suspended taskState = iota
	running
	finished
)

type stopMode int

const (
	stopNone stopMode = iota
	stopDiscard
	stopKeep
)

type task struct {
	transport *Transport
	id        string
	url       string
	headers   map[string]string
	initial   []byte
	seq       uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        taskState
	stop         stopMode
	onCheckpoint func([]byte)
	cp           checkpoint
}

func (tk *task) ID() string  { return tk.id }
func (tk *task) URL() string { return tk.url }

func (tk *task) Running() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	return tk.state == running
}

func (tk *task) Start() {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	if tk.state != suspended {
		return
	}

	tk.state = running

	go tk.run()
}

func (tk *task) Cancel() {
	tk.mu.Lock()

	switch tk.state {
	case suspended:
		tk.state = finished
		tk.mu.Unlock()

		tk.cancel()
		tk.removePartial()
		tk.transport.finish(tk, &transport.CancelledError{})
	case running:
		if tk.stop == stopNone {
			tk.stop = stopDiscard
		}
		tk.mu.Unlock()

		tk.cancel()
	default:
		tk.mu.Unlock()
	}
}

func (tk *task) CancelWithCheckpoint(fn func(checkpoint []byte)) {
	tk.mu.Lock()

	switch tk.state {
	case suspended:
		tk.state = finished
		tk.mu.Unlock()

		tk.cancel()
		fn(tk.initial)
		tk.transport.finish(tk, &transport.CancelledError{Checkpoint: tk.initial})
	case running:
		if tk.stop != stopNone {
			tk.mu.Unlock()
			fn(nil)

			return
		}

		tk.stop = stopKeep
		tk.onCheckpoint = fn
		tk.mu.Unlock()

		tk.cancel()
	default:
		tk.mu.Unlock()
		fn(nil)
	}
}

// writes reports whether tk is not finished and owns partial.
func (tk *task) writes(partial string) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	return tk.state != finished && tk.cp.Partial == partial
}

// run owns the task goroutine. A stop requested before the download ended wins over
// how it ended: a pause that races a finished download still yields a checkpoint. A stop
// requested after that gets no checkpoint and the finished bytes are delivered as usual.
func (tk *task) run() {
	logger := tk.transport.logger
	err := tk.download()

	tk.mu.Lock()
	tk.state = finished
	stop, onCheckpoint := tk.stop, tk.onCheckpoint
	tk.mu.Unlock()

	tk.cancel()

	switch {
	case stop == stopKeep:
		cp := tk.snapshot()
		logger.DebugContext(tk.ctx, "transfer paused", "offset", humanize.Bytes(uint64(tk.cp.Offset)))

		onCheckpoint(cp)
		tk.transport.finish(tk, &transport.CancelledError{Checkpoint: cp})
	case stop == stopDiscard:
		tk.removePartial()
		tk.transport.finish(tk, &transport.CancelledError{})
	case err != nil:
		var interrupted *transport.InterruptedError
		if errors.As(err, &interrupted) && tk.resumeOffset() > 0 {
			interrupted.Checkpoint = tk.snapshot()
			logger.DebugContext(tk.ctx, "transfer interrupted, keeping partial bytes",
				"offset", humanize.Bytes(uint64(tk.cp.Offset)), "err", interrupted.Err)

			tk.transport.finish(tk, interrupted)

			return
		}

		logger.DebugContext(tk.ctx, "transfer failed", "err", err)
		tk.removePartial()
		tk.transport.finish(tk, err)
	default:
		name := transfer.Item{ID: tk.id, URL: tk.url}.FileName()
		if h := tk.transport.eventHandler(); h != nil {
			h.FinishedToTemp(tk, tk.cp.Partial, name)
		}

		tk.transport.finish(tk, nil)
	}
}

func (tk *task) download() error {
	t := tk.transport

	if err := t.fs.MkdirAll(t.partialDir, 0o755); err != nil {
		return fmt.Errorf("failed to create partial directory: %w", err)
	}

	offset := tk.resumeOffset()

	req, err := retryablehttp.NewRequestWithContext(tk.ctx, http.MethodGet, tk.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range tk.headers {
		req.Header.Set(k, v)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

		if tk.cp.ETag != "" {
			req.Header.Set("If-Range", tk.cp.ETag)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", tk.url, err)
	}
	defer resp.Body.Close()

	flag := os.O_CREATE | os.O_WRONLY
	expected := resp.ContentLength

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			return fmt.Errorf("server resumed at an unexpected offset: %q", resp.Header.Get("Content-Range"))
		}

		flag |= os.O_APPEND

		switch {
		case total > 0:
			expected = total
		case resp.ContentLength >= 0:
			expected = offset + resp.ContentLength
		default:
			expected = tk.cp.Expected
		}
	case http.StatusOK:
		flag |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 && offset == tk.cp.Expected {
			return nil
		}

		return &transport.HTTPError{Operation: "download", StatusCode: resp.StatusCode, Status: resp.Status}
	default:
		return &transport.HTTPError{Operation: "download", StatusCode: resp.StatusCode, Status: resp.Status}
	}

	tk.mu.Lock()
	tk.cp.ETag = resp.Header.Get("ETag")
	tk.cp.Expected = expected
	tk.mu.Unlock()

	t.logger.DebugContext(tk.ctx, "transfer started",
		"offset", humanize.Bytes(uint64(offset)),
		"expected", humanize.Bytes(uint64(max(expected, 0))),
	)

	f, err := t.fs.OpenFile(tk.cp.Partial, flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}

	pr := progress.NewReader(resp.Body, offset, expected, t.interval, func(written, expected int64) {
		t.progress(tk, written, expected)
	})

	_, copyErr := io.Copy(f, pr)
	flushErr := errors.Join(f.Sync(), f.Close())

	switch {
	case copyErr != nil:
		// The body started streaming, so what reached the file can be resumed from.
		return &transport.InterruptedError{Err: copyErr}
	case flushErr != nil:
		return fmt.Errorf("failed to flush partial file: %w", flushErr)
	}

	return nil
}

// resumeOffset trusts the partial file over the recorded offset: bytes written after the
// checkpoint was taken are kept, bytes lost to a crash are fetched again.
func (tk *task) resumeOffset() int64 {
	info, err := tk.transport.fs.Stat(tk.cp.Partial)
	if err != nil {
		return 0
	}

	return info.Size()
}

// snapshot records the current size of the partial file and encodes the checkpoint.
func (tk *task) snapshot() []byte {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	tk.cp.Offset = tk.resumeOffset()

	return tk.cp.encode()
}

func (tk *task) removePartial() {
	if err := tk.transport.fs.Remove(tk.cp.Partial); err != nil && !os.IsNotExist(err) {
		tk.transport.logger.WarnContext(tk.ctx, "failed to remove partial file", "err", err)
	}
}

// parseContentRange reads "bytes <start>-<end>/<total>". total is -1 when unknown.
func parseContentRange(v string) (start, total int64, ok bool) {
	var end int64

	n, _ := fmt.Sscanf(v, "bytes %d-%d/%d", &start, &end, &total)
	if n < 2 {
		return 0, 0, false
	}

	if n == 2 {
		total = -1
	}

	return start, total, true
}

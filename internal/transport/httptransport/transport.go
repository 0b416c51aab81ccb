// Package httptransport moves bytes with HTTP GET and resumes with byte ranges.
package httptransport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transport"
)

// DefaultProgressInterval is how many bytes pass between two progress events.
const DefaultProgressInterval = 256 * 1024

// Options configures a Transport.
type Options struct {
	// PartialDir holds in-flight bytes. Keep it on the same filesystem as the output
	// directory so the final move is a rename.
	PartialDir       string
	Fs               afero.Fs
	ProgressInterval int64

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// AuthToken is sent as a bearer token on every request when set.
	AuthToken string
	// HTTPClient is the base client; retries, auth and tracing are layered on top of it.
	HTTPClient *http.Client
}

// Transport runs transfers as goroutines inside this process.
type Transport struct {
	fs         afero.Fs
	partialDir string
	interval   int64
	client     *retryablehttp.Client
	sessionID  string
	logger     *slog.Logger

	mu      sync.Mutex
	handler transport.EventHandler
	tasks   map[*task]struct{}
	seq     uint64
}

// New creates a transport. The logger is taken from ctx.
func New(ctx context.Context, opts Options) *Transport {
	logger := logctx.LoggerFromContext(ctx).With("component", "http_transport")

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}

	return &Transport{
		fs:         opts.Fs,
		partialDir: opts.PartialDir,
		interval:   opts.ProgressInterval,
		client:     newClient(opts, logger),
		sessionID:  generateSessionID(),
		logger:     logger,
		tasks:      make(map[*task]struct{}),
	}
}

// NewTask returns a suspended task. A checkpoint that cannot be used for req.URL is
// dropped and the task starts from zero.
func (t *Transport) NewTask(ctx context.Context, req transport.Request) (transport.Task, error) {
	if req.ID == "" {
		return nil, errors.New("request has no id")
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, fmt.Errorf("unsupported url %q", req.URL)
	}

	cp := checkpoint{URL: req.URL}

	var initial []byte

	if req.Checkpoint != nil {
		decoded, err := decodeCheckpoint(req.Checkpoint)

		switch {
		case err != nil:
			t.logger.WarnContext(ctx, "ignoring unusable checkpoint", "item_id", req.ID, "err", err)
		case decoded.URL != req.URL:
			t.logger.WarnContext(ctx, "ignoring checkpoint for another url", "item_id", req.ID, "checkpoint_url", decoded.URL)
		case !t.ownsPath(decoded.Partial):
			t.logger.WarnContext(ctx, "ignoring checkpoint outside the partial directory", "item_id", req.ID)
		default:
			cp, initial = decoded, req.Checkpoint
		}
	}

	if cp.Partial == "" {
		cp.Partial = filepath.Join(t.partialDir, uuid.NewString()+".part")
	}

	taskCtx, cancel := context.WithCancel(logctx.WithItemID(context.WithoutCancel(ctx), req.ID))

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	tk := &task{
		transport: t,
		id:        req.ID,
		url:       req.URL,
		headers:   req.Headers,
		initial:   initial,
		cp:        cp,
		seq:       t.seq,
		ctx:       taskCtx,
		cancel:    cancel,
	}
	t.tasks[tk] = struct{}{}

	return tk, nil
}

// Tasks returns the live tasks in creation order.
func (t *Transport) Tasks(_ context.Context) ([]transport.Task, error) {
	t.mu.Lock()
	live := make([]*task, 0, len(t.tasks))
	for tk := range t.tasks {
		live = append(live, tk)
	}
	t.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([]transport.Task, len(live))
	for i, tk := range live {
		out[i] = tk
	}

	return out, nil
}

// Discard removes the partial file a checkpoint points at.
func (t *Transport) Discard(_ context.Context, b []byte) error {
	cp, err := decodeCheckpoint(b)
	if err != nil {
		return err
	}

	if !t.ownsPath(cp.Partial) {
		return fmt.Errorf("partial file %s is outside %s", cp.Partial, t.partialDir)
	}

	// A task admitted again from the same checkpoint keeps writing to this file.
	if t.inUse(cp.Partial) {
		t.logger.Debug("keeping partial file still used by a live task", "partial", cp.Partial)

		return nil
	}

	if err := t.fs.Remove(cp.Partial); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}

	return nil
}

func (t *Transport) SetEventHandler(h transport.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handler = h
}

func (t *Transport) SessionID() string {
	return t.sessionID
}

func (t *Transport) eventHandler() transport.EventHandler {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.handler
}

func (t *Transport) progress(tk *task, written, expected int64) {
	if h := t.eventHandler(); h != nil {
		h.Progress(tk, written, expected)
	}
}

// finish emits the terminal event of tk and, when it was the last live task,
// AllEventsFlushed.
func (t *Transport) finish(tk *task, err error) {
	t.mu.Lock()
	delete(t.tasks, tk)
	empty := len(t.tasks) == 0
	h := t.handler
	t.mu.Unlock()

	if h == nil {
		return
	}

	h.Completed(tk, err)

	if empty {
		h.AllEventsFlushed(t.sessionID)
	}
}

func (t *Transport) inUse(partial string) bool {
	t.mu.Lock()
	live := make([]*task, 0, len(t.tasks))
	for tk := range t.tasks {
		live = append(live, tk)
	}
	t.mu.Unlock()

	for _, tk := range live {
		if tk.writes(partial) {
			return true
		}
	}

	return false
}

func (t *Transport) ownsPath(p string) bool {
	rel, err := filepath.Rel(t.partialDir, p)

	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// generateSessionID returns a unique string for this process (hostname+pid+random).
func generateSessionID() string {
	host, _ := os.Hostname()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}

var _ transport.Transport = (*Transport)(nil)

// Package downloader orchestrates resumable transfers: it admits them under a
// concurrency bound, turns transport events into state transitions, keeps intent and
// checkpoints durable, and publishes every transition to subscribers.
package downloader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/persistence"
	"github.com/italolelis/resumable_downloader/internal/scheduler"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/italolelis/resumable_downloader/internal/transport"
)

const (
	dirPerm = 0755

	DefaultDrainTimeout = 2 * time.Second
	DefaultPauseTimeout = 10 * time.Second
)

var (
	ErrInvalidItem  = errors.New("item needs an id and a url")
	ErrShuttingDown = errors.New("manager is draining for termination")
)

// Source tells which path an admission took.
type Source int

const (
	// SourceFresh started from zero; no checkpoint was available.
	SourceFresh Source = iota
	// SourceMemory resumed from the checkpoint of the in-memory Paused state.
	SourceMemory
	// SourceStore resumed from a checkpoint found in the durable store.
	SourceStore
	// SourceActive means the item was already running or queued and nothing changed.
	SourceActive
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceStore:
		return "store"
	case SourceActive:
		return "active"
	default:
		return "fresh"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StartResult describes what Download or Resume did. Admission is only meaningful when
// State is Queued or Downloading.
type StartResult struct {
	Source    Source              `json:"source"`
	Admission scheduler.Admission `json:"admission"`
	State     transfer.State      `json:"state"`
}

// Options configures a Manager.
type Options struct {
	// TargetDir receives completed files, named by the last segment of their URL.
	TargetDir     string
	Fs            afero.Fs
	MaxConcurrent int
	DrainTimeout  time.Duration
	PauseTimeout  time.Duration
	// Headers are attached to every transport request.
	Headers   map[string]string
	Telemetry *telemetry.Telemetry
}

// Manager is the single owner of the scheduler sets, the per-item states and the
// subscriber registry. One mutex serializes every mutation of them; transport calls are
// made after it is released.
type Manager struct {
	transport    transport.Transport
	store        *persistence.Store
	fs           afero.Fs
	targetDir    string
	headers      map[string]string
	drainTimeout time.Duration
	pauseTimeout time.Duration
	telemetry    *telemetry.Telemetry
	logger       *slog.Logger
	// bgCtx carries the logger into work that is not tied to a caller.
	bgCtx context.Context

	mu            sync.Mutex
	sched         *scheduler.Scheduler[transport.Task]
	states        map[string]transfer.State
	subscribers   map[*subscriber]struct{}
	continuations map[string]func()
	draining      bool
}

// NewManager wires a manager to tr and registers itself as tr's event handler.
func NewManager(ctx context.Context, tr transport.Transport, store *persistence.Store, opts Options) *Manager {
	logger := logctx.LoggerFromContext(ctx).With("component", "manager")

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	if opts.PauseTimeout <= 0 {
		opts.PauseTimeout = DefaultPauseTimeout
	}

	m := &Manager{
		transport:     tr,
		store:         store,
		fs:            opts.Fs,
		targetDir:     opts.TargetDir,
		headers:       opts.Headers,
		drainTimeout:  opts.DrainTimeout,
		pauseTimeout:  opts.PauseTimeout,
		telemetry:     opts.Telemetry,
		logger:        logger,
		bgCtx:         logctx.WithLogger(context.WithoutCancel(ctx), logger),
		sched:         scheduler.New[transport.Task](opts.MaxConcurrent),
		states:        make(map[string]transfer.State),
		subscribers:   make(map[*subscriber]struct{}),
		continuations: make(map[string]func()),
	}

	tr.SetEventHandler(&eventAdapter{m: m})

	return m
}

// Download records the intent and admits item, resuming from the in-memory checkpoint,
// then the stored one, then from zero. An item already running or queued is left alone.
func (m *Manager) Download(ctx context.Context, item transfer.Item) (StartResult, error) {
	if item.ID == "" || item.URL == "" {
		return StartResult{}, ErrInvalidItem
	}

	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()

	if draining {
		return StartResult{}, ErrShuttingDown
	}

	m.store.SetIntent(ctx, item.ID, true)
	m.store.RememberItem(ctx, item)

	return m.admit(ctx, item), nil
}

// Resume is Download with the fallback made visible: when no checkpoint exists the item
// starts fresh and the result reports SourceFresh.
func (m *Manager) Resume(ctx context.Context, item transfer.Item) (StartResult, error) {
	res, err := m.Download(ctx, item)
	if err == nil && res.Source == SourceFresh {
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "no checkpoint to resume from, starting fresh", "item_id", item.ID)
	}

	return res, err
}

func (m *Manager) admit(ctx context.Context, item transfer.Item) StartResult {
	logger := logctx.LoggerFromContext(ctx)
	stored, hasStored := m.store.GetCheckpoint(ctx, item.ID)

	m.mu.Lock()

	if m.sched.Contains(item.ID) {
		res := StartResult{Source: SourceActive, Admission: m.admissionLocked(item.ID), State: m.stateLocked(item.ID)}
		m.mu.Unlock()

		return res
	}

	source, checkpoint := SourceFresh, []byte(nil)

	if cur := m.stateLocked(item.ID); cur.HasCheckpoint() {
		source, checkpoint = SourceMemory, cur.Checkpoint
	} else if hasStored {
		source, checkpoint = SourceStore, stored
	}

	task, err := m.transport.NewTask(ctx, transport.Request{
		ID:         item.ID,
		URL:        item.URL,
		Checkpoint: checkpoint,
		Headers:    m.headers,
	})
	if err != nil {
		m.applyLocked(item.ID, transfer.Input{Trigger: transfer.TriggerFail, Reason: err.Error()})
		res := StartResult{Source: source, State: m.stateLocked(item.ID)}
		m.mu.Unlock()

		m.store.SetIntent(ctx, item.ID, false)
		logger.ErrorContext(ctx, "failed to create transfer", "item_id", item.ID, "url", item.URL, "err", err)
		m.telemetry.RecordDownload("failed")

		return res
	}

	// The id was checked above under the same lock.
	admission, _ := m.sched.Admit(item.ID, task)

	if admission == scheduler.Running {
		m.applyLocked(item.ID, transfer.Input{Trigger: transfer.TriggerStart})
	} else {
		m.applyLocked(item.ID, transfer.Input{Trigger: transfer.TriggerEnqueue})
	}

	m.recordDepthLocked()

	res := StartResult{Source: source, Admission: admission, State: m.stateLocked(item.ID)}
	m.mu.Unlock()

	logger.InfoContext(ctx, "transfer admitted", "item_id", item.ID, "admission", admission, "source", source)

	if admission == scheduler.Running {
		task.Start()
	}

	return res
}

// Pause asks the transport for a checkpoint and waits for it, up to the pause timeout
// or until ctx is done. The slot is freed immediately. Items that are not running or
// queued are left alone.
func (m *Manager) Pause(ctx context.Context, id string) {
	logger := logctx.LoggerFromContext(ctx)

	m.mu.Lock()

	task, ok := m.sched.Get(id)
	if !ok {
		m.mu.Unlock()

		return
	}

	m.sched.Remove(id)
	promoted := m.promoteLocked()
	m.mu.Unlock()

	m.store.SetIntent(ctx, id, false)
	m.startAll(promoted)

	checkpoints := make(chan []byte, 1)
	task.CancelWithCheckpoint(func(cp []byte) { checkpoints <- cp })

	timer := time.NewTimer(m.pauseTimeout)
	defer timer.Stop()

	var checkpoint []byte

	select {
	case checkpoint = <-checkpoints:
	case <-timer.C:
		logger.WarnContext(ctx, "timed out waiting for checkpoint, pausing without one", "item_id", id)
	case <-ctx.Done():
		logger.WarnContext(ctx, "pause abandoned waiting for checkpoint", "item_id", id, "err", ctx.Err())
	}

	m.mu.Lock()
	save, discard := m.pausedLocked(id, task, checkpoint)
	m.mu.Unlock()

	m.keepCheckpoint(ctx, id, save, discard)
	m.telemetry.RecordDownload("paused")

	logger.InfoContext(ctx, "transfer paused", "item_id", id, "checkpoint", checkpoint != nil)
}

// Cancel stops id outright, drops its checkpoint and resets it to Idle. Cancelling an
// unknown or idle id is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) {
	m.store.SetIntent(ctx, id, false)

	m.mu.Lock()
	task, hasTask := m.sched.Get(id)
	m.sched.Remove(id)
	checkpoint := m.stateLocked(id).Checkpoint
	m.applyLocked(id, transfer.Input{Trigger: transfer.TriggerReset})
	promoted := m.promoteLocked()
	m.mu.Unlock()

	if stored, ok := m.store.GetCheckpoint(ctx, id); ok {
		checkpoint = stored
	}

	m.store.ClearCheckpoint(ctx, id)

	if hasTask {
		task.Cancel()
		m.telemetry.RecordDownload("cancelled")
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "transfer cancelled", "item_id", id)
	}

	m.discard(ctx, checkpoint)
	m.startAll(promoted)
}

// Delete cancels item and removes its completed file, if any.
func (m *Manager) Delete(ctx context.Context, item transfer.Item) {
	m.Cancel(ctx, item.ID)

	path := m.LocalPath(item)
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove downloaded file", "item_id", item.ID, "path", path, "err", err)
	}

	m.store.ClearCheckpoint(ctx, item.ID)
	m.store.ForgetArtifact(ctx, item.ID)
	m.store.ForgetItem(ctx, item.ID)

	m.mu.Lock()
	m.applyLocked(item.ID, transfer.Input{Trigger: transfer.TriggerReset})
	m.mu.Unlock()
}

// ShouldAutoResume reports whether the user last wanted id downloading and a checkpoint
// exists to continue from.
func (m *Manager) ShouldAutoResume(ctx context.Context, id string) bool {
	if !m.store.GetIntent(ctx, id) {
		return false
	}

	_, ok := m.store.GetCheckpoint(ctx, id)

	return ok
}

// LocalPath is where item's completed file lives.
func (m *Manager) LocalPath(item transfer.Item) string {
	return filepath.Join(m.targetDir, item.FileName())
}

// State returns the current state of id, Idle when unknown.
func (m *Manager) State(id string) transfer.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked(id)
}

// States returns a snapshot of every item that is not Idle.
func (m *Manager) States() map[string]transfer.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]transfer.State, len(m.states))
	for id, s := range m.states {
		out[id] = s
	}

	return out
}

// Items returns every item the store remembers.
func (m *Manager) Items(ctx context.Context) []transfer.Item {
	return m.store.Items(ctx)
}

func (m *Manager) stateLocked(id string) transfer.State {
	if s, ok := m.states[id]; ok {
		return s
	}

	return transfer.Idle()
}

// applyLocked runs the transition table and publishes the result. It reports whether
// the state changed.
func (m *Manager) applyLocked(id string, in transfer.Input) bool {
	cur := m.stateLocked(id)

	next, ok := transfer.Next(cur, in)
	if !ok || next.Equal(cur) {
		return false
	}

	if next.Kind == transfer.KindIdle {
		delete(m.states, id)
	} else {
		m.states[id] = next
	}

	if next.Kind != cur.Kind {
		m.telemetry.RecordTransition(next.Kind.String())
		m.logger.Debug("state changed", "item_id", id, "from", cur.Kind, "to", next.Kind)
	}

	m.publishLocked(transfer.Event{ID: id, State: next})

	return true
}

// pausedLocked applies a checkpoint delivered for task. It returns the checkpoint to
// save, or the one to discard when nobody can use it any more: the item was reset or
// handed to another task before it arrived. The caller passes both to keepCheckpoint
// once the lock is released.
func (m *Manager) pausedLocked(id string, task transport.Task, checkpoint []byte) (save, discard []byte) {
	if m.staleLocked(task) {
		return nil, checkpoint
	}

	if m.applyLocked(id, transfer.Input{Trigger: transfer.TriggerPause, Checkpoint: checkpoint}) {
		return checkpoint, nil
	}

	if m.stateLocked(id).Kind == transfer.KindIdle && !m.sched.Contains(id) {
		return nil, checkpoint
	}

	return nil, nil
}

func (m *Manager) keepCheckpoint(ctx context.Context, id string, save, discard []byte) {
	if save != nil {
		m.store.SaveCheckpoint(ctx, id, save)
	}

	m.discard(ctx, discard)
}

// promoteLocked fills free slots from the queue, oldest first. The returned tasks must
// be started once the lock is released.
func (m *Manager) promoteLocked() []transport.Task {
	if m.draining {
		return nil
	}

	var promoted []transport.Task

	for {
		entry, ok := m.sched.PromoteNext()
		if !ok {
			break
		}

		m.applyLocked(entry.ID, transfer.Input{Trigger: transfer.TriggerStart})
		m.logger.Debug("promoted queued transfer", "item_id", entry.ID)

		promoted = append(promoted, entry.Handle)
	}

	m.recordDepthLocked()

	return promoted
}

func (m *Manager) admissionLocked(id string) scheduler.Admission {
	if m.sched.IsRunning(id) {
		return scheduler.Running
	}

	return scheduler.Queued
}

func (m *Manager) recordDepthLocked() {
	m.telemetry.RecordSchedulerDepth(m.sched.Running(), m.sched.Queued())
}

func (m *Manager) startAll(tasks []transport.Task) {
	for _, task := range tasks {
		task.Start()
	}
}

// discard releases the partial bytes behind a checkpoint nobody will resume from.
func (m *Manager) discard(ctx context.Context, checkpoint []byte) {
	if len(checkpoint) == 0 {
		return
	}

	if err := m.transport.Discard(ctx, checkpoint); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to discard partial bytes", "err", err)
	}
}

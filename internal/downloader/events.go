package downloader

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/italolelis/resumable_downloader/internal/transport"
)

// eventAdapter turns transport events into transitions.
//
// An event is stale when the scheduler holds a different task for the same id: the item
// was cancelled or paused and admitted again, and the old task must not touch the new
// one. A task with no scheduler entry is detached; its events are applied only where the
// transition table allows, so a cancelled or completed item is never resurrected. A
// detached finish still completes a paused item: the bytes are all there.
//
// Store writes and file moves happen outside the manager lock.
type eventAdapter struct {
	m *Manager
}

func (a *eventAdapter) Progress(task transport.Task, written, expected int64) {
	m := a.m

	var progress float64
	if expected > 0 {
		progress = float64(written) / float64(expected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(task) {
		return
	}

	m.applyLocked(task.ID(), transfer.Input{Trigger: transfer.TriggerProgress, Progress: progress})
}

func (a *eventAdapter) FinishedToTemp(task transport.Task, tempPath, suggestedName string) {
	m := a.m
	ctx := m.bgCtx
	id := task.ID()

	m.mu.Lock()
	owned := m.ownsFinishLocked(task)
	m.mu.Unlock()

	if !owned {
		m.logger.Debug("dropping finished bytes of a stopped transfer", "item_id", id)
		m.removeFile(tempPath)

		return
	}

	dest := filepath.Join(m.targetDir, filepath.Base(suggestedName))

	if err := m.move(tempPath, dest); err != nil {
		m.logger.Error("failed to move finished transfer", "item_id", id, "err", err)
		m.removeFile(tempPath)

		if m.settle(task, transfer.Input{Trigger: transfer.TriggerFail, Reason: err.Error()}) {
			m.store.SetIntent(ctx, id, false)
			m.telemetry.RecordDownload("failed")
		}

		return
	}

	if !m.settle(task, transfer.Input{Trigger: transfer.TriggerFinish, LocalPath: dest}) {
		m.logger.Debug("item was reset while its file was moved, removing it", "item_id", id, "path", dest)
		m.removeFile(dest)

		return
	}

	m.store.SetIntent(ctx, id, false)
	m.store.ClearCheckpoint(ctx, id)
	m.store.TrackArtifact(ctx, id, dest)

	m.logger.Info("transfer completed", "item_id", id, "path", dest)
	m.telemetry.RecordDownload("completed")
}

func (a *eventAdapter) Completed(task transport.Task, err error) {
	m := a.m
	ctx := m.bgCtx
	id := task.ID()

	checkpoint, hasCheckpoint := transport.CheckpointOf(err)

	m.mu.Lock()

	if m.staleLocked(task) {
		m.mu.Unlock()

		// The item belongs to another task now; bytes kept for this one are orphaned.
		if hasCheckpoint {
			m.discard(ctx, checkpoint)
		}

		return
	}

	attached := m.attachedLocked(task)

	var (
		save, discard []byte
		failed        bool
	)

	if hasCheckpoint {
		save, discard = m.pausedLocked(id, task, checkpoint)
	} else if err != nil && !transport.IsCancelled(err) &&
		(attached || m.stateLocked(id).Kind == transfer.KindDownloading) {
		failed = m.applyLocked(id, transfer.Input{Trigger: transfer.TriggerFail, Reason: err.Error()})
	}

	if attached {
		m.sched.Remove(id)
	}

	promoted := m.promoteLocked()
	m.mu.Unlock()

	m.keepCheckpoint(ctx, id, save, discard)

	var interrupted *transport.InterruptedError

	switch {
	case failed:
		m.store.SetIntent(ctx, id, false)
		m.logger.Warn("transfer failed", "item_id", id, "err", err)
		m.telemetry.RecordDownload("failed")
	case save != nil && errors.As(err, &interrupted):
		// Intent is kept: the item resumes from the checkpoint on the next start.
		m.logger.Warn("transfer interrupted, paused at checkpoint", "item_id", id, "err", interrupted.Err)
		m.telemetry.RecordDownload("interrupted")
	}

	m.startAll(promoted)
}

func (a *eventAdapter) AllEventsFlushed(sessionID string) {
	m := a.m

	m.mu.Lock()
	continuation := m.continuations[sessionID]
	delete(m.continuations, sessionID)
	m.mu.Unlock()

	if continuation != nil {
		m.logger.Debug("background session flushed", "session_id", sessionID)
		continuation()
	}
}

func (m *Manager) staleLocked(task transport.Task) bool {
	current, ok := m.sched.Get(task.ID())

	return ok && current != task
}

func (m *Manager) attachedLocked(task transport.Task) bool {
	current, ok := m.sched.Get(task.ID())

	return ok && current == task
}

// ownsFinishLocked reports whether the outcome of task still belongs to its item: no
// other task took the id over and the item was not reset since task stopped.
func (m *Manager) ownsFinishLocked(task transport.Task) bool {
	if m.staleLocked(task) {
		return false
	}

	return m.attachedLocked(task) || m.stateLocked(task.ID()).Kind != transfer.KindIdle
}

// settle applies the outcome of a finished task and frees its slot. Nothing happens
// when the item stopped belonging to task while the caller was doing I/O; settle
// reports whether the outcome was applied.
func (m *Manager) settle(task transport.Task, in transfer.Input) bool {
	id := task.ID()

	m.mu.Lock()

	if !m.ownsFinishLocked(task) {
		m.mu.Unlock()

		return false
	}

	m.applyLocked(id, in)

	if m.attachedLocked(task) {
		m.sched.Remove(id)
	}

	promoted := m.promoteLocked()
	m.mu.Unlock()

	m.startAll(promoted)

	return true
}

// move places finished bytes at dest, replacing whatever is there.
func (m *Manager) move(from, dest string) error {
	if err := m.fs.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return &transfer.MoveError{From: from, To: dest, Err: err}
	}

	if err := m.fs.Remove(dest); err != nil && !os.IsNotExist(err) {
		return &transfer.MoveError{From: from, To: dest, Err: err}
	}

	if err := m.fs.Rename(from, dest); err != nil {
		return &transfer.MoveError{From: from, To: dest, Err: err}
	}

	return nil
}

func (m *Manager) removeFile(path string) {
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove file", "path", path, "err", err)
	}
}

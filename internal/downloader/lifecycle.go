package downloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/scheduler"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/italolelis/resumable_downloader/internal/transport"
)

// Reconnect adopts the tasks the transport already knows about, typically ones that
// outlived a previous manager. Running tasks take a slot while one is free; every other
// task joins the queue. The state follows the set the task ended up in.
func (m *Manager) Reconnect(ctx context.Context) error {
	tasks, err := m.transport.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list transport tasks: %w", err)
	}

	m.mu.Lock()

	for _, task := range tasks {
		if m.sched.Restore(task.ID(), task, task.Running()) == scheduler.Running {
			m.applyLocked(task.ID(), transfer.Input{Trigger: transfer.TriggerStart})
		} else {
			m.applyLocked(task.ID(), transfer.Input{Trigger: transfer.TriggerEnqueue})
		}
	}

	promoted := m.promoteLocked()
	m.mu.Unlock()

	m.startAll(promoted)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "reconnected to transport", "tasks", len(tasks))

	return nil
}

// DrainReport tells the host what a drain did.
type DrainReport struct {
	// Tasks is how many live tasks were asked for a checkpoint. With none, the transport
	// has no events left to flush.
	Tasks int
	// Lost is how many checkpoints did not arrive in time; those items restart from zero.
	Lost int
}

// DrainBeforeTermination asks every live task for a checkpoint and blocks until all of
// them arrived or the drain timeout passed. Intent is kept, so drained items auto-resume
// on the next start. Queued items are no longer promoted afterwards.
func (m *Manager) DrainBeforeTermination(ctx context.Context) DrainReport {
	logger := logctx.LoggerFromContext(ctx)

	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	tasks, err := m.transport.Tasks(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list transport tasks for drain", "err", err)

		return DrainReport{}
	}

	if len(tasks) == 0 {
		logger.InfoContext(ctx, "nothing to drain")

		return DrainReport{}
	}

	var (
		wg      sync.WaitGroup
		arrived atomic.Int64
	)

	wg.Add(len(tasks))

	for _, task := range tasks {
		task := task
		task.CancelWithCheckpoint(func(checkpoint []byte) {
			defer wg.Done()

			arrived.Add(1)
			m.drained(ctx, task, checkpoint)
		})
	}

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	lost := len(tasks) - int(arrived.Load())
	if lost > 0 {
		logger.WarnContext(ctx, "drain deadline passed, checkpoints lost", "lost", lost, "tasks", len(tasks))
		m.telemetry.RecordLostCheckpoints(lost)
	} else {
		logger.InfoContext(ctx, "drained transfers", "tasks", len(tasks))
	}

	return DrainReport{Tasks: len(tasks), Lost: lost}
}

func (m *Manager) drained(ctx context.Context, task transport.Task, checkpoint []byte) {
	id := task.ID()

	m.mu.Lock()
	save, discard := m.pausedLocked(id, task, checkpoint)

	if m.attachedLocked(task) {
		m.sched.Remove(id)
		m.recordDepthLocked()
	}
	m.mu.Unlock()

	m.keepCheckpoint(ctx, id, save, discard)
}

// PrepareForTermination is the host's last call before the process dies.
func (m *Manager) PrepareForTermination() DrainReport {
	return m.DrainBeforeTermination(m.bgCtx)
}

// HandleBackgroundCompletion registers fn to run once the transport reports that
// session has no events left to deliver. A later registration for the same session
// replaces an earlier one.
func (m *Manager) HandleBackgroundCompletion(sessionID string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.continuations[sessionID] = fn
}

// ResumePending resumes every remembered item that should auto-resume and returns
// their ids.
func (m *Manager) ResumePending(ctx context.Context) []string {
	var resumed []string

	for _, item := range m.store.Items(ctx) {
		if !m.ShouldAutoResume(ctx, item.ID) {
			continue
		}

		if _, err := m.Resume(ctx, item); err != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to resume transfer", "item_id", item.ID, "err", err)

			continue
		}

		resumed = append(resumed, item.ID)
	}

	return resumed
}

package transfer

// Trigger is what happened to an item: a manager decision or a transport event.
type Trigger int

const (
	// TriggerStart is admission to the running set, directly or by promotion.
	TriggerStart Trigger = iota
	// TriggerEnqueue is admission to the wait queue.
	TriggerEnqueue
	TriggerProgress
	// TriggerPause is a cancel-with-checkpoint acknowledgement.
	TriggerPause
	// TriggerFinish is a successful move to the output directory.
	TriggerFinish
	TriggerFail
	// TriggerReset is cancel or delete.
	TriggerReset
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerEnqueue:
		return "enqueue"
	case TriggerProgress:
		return "progress"
	case TriggerPause:
		return "pause"
	case TriggerFinish:
		return "finish"
	case TriggerFail:
		return "fail"
	case TriggerReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Input is a trigger plus the payload the resulting state carries.
type Input struct {
	Trigger    Trigger
	Progress   float64
	Checkpoint []byte
	LocalPath  string
	Reason     string
}

// Next is the transition table. It is total: every (state, input) pair yields a state.
// Inputs that do not apply to the current state leave it unchanged and report false:
//
//   - progress only moves a Downloading item (stale progress after pause, cancel or
//     completion is dropped);
//   - pause never resurrects an item that was reset or completed;
//   - finish never resurrects a reset item;
//   - failure never overwrites a completed item.
func Next(cur State, in Input) (State, bool) {
	switch in.Trigger {
	case TriggerStart:
		return Downloading(0), true
	case TriggerEnqueue:
		return Queued(), true
	case TriggerProgress:
		if cur.Kind != KindDownloading {
			return cur, false
		}

		return Downloading(in.Progress), true
	case TriggerPause:
		if cur.Kind == KindIdle || cur.Kind == KindCompleted {
			return cur, false
		}

		return Paused(in.Checkpoint), true
	case TriggerFinish:
		if cur.Kind == KindIdle {
			return cur, false
		}

		return Completed(in.LocalPath), true
	case TriggerFail:
		if cur.Kind == KindCompleted {
			return cur, false
		}

		return Failed(in.Reason), true
	case TriggerReset:
		return Idle(), true
	default:
		return cur, false
	}
}

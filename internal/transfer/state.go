package transfer

import (
	"bytes"
	"fmt"
)

// Kind enumerates the lifecycle states of a transfer item.
type Kind int

const (
	KindIdle Kind = iota
	KindQueued
	KindDownloading
	KindPaused
	KindCompleted
	KindFailed
)

var kindNames = map[Kind]string{
	KindIdle:        "idle",
	KindQueued:      "queued",
	KindDownloading: "downloading",
	KindPaused:      "paused",
	KindCompleted:   "completed",
	KindFailed:      "failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown transfer kind %d", int(k))
	}

	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind

			return nil
		}
	}

	return fmt.Errorf("unknown transfer kind %q", string(b))
}

// State is the observable lifecycle state of one item. Only the fields relevant to Kind are set.
type State struct {
	Kind       Kind    `json:"kind"`
	Progress   float64 `json:"progress,omitempty"`
	Checkpoint []byte  `json:"checkpoint,omitempty"`
	LocalPath  string  `json:"local_path,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

func Idle() State   { return State{Kind: KindIdle} }
func Queued() State { return State{Kind: KindQueued} }

func Downloading(progress float64) State {
	return State{Kind: KindDownloading, Progress: clamp(progress)}
}

// Paused holds the checkpoint produced by the transport, nil when none was produced.
func Paused(checkpoint []byte) State {
	return State{Kind: KindPaused, Checkpoint: checkpoint}
}

func Completed(localPath string) State {
	return State{Kind: KindCompleted, LocalPath: localPath}
}

func Failed(reason string) State {
	return State{Kind: KindFailed, Reason: reason}
}

// ProgressValue is the progress for Downloading states and 0 for every other state.
func (s State) ProgressValue() float64 {
	if s.Kind == KindDownloading {
		return s.Progress
	}

	return 0
}

// HasCheckpoint reports whether s is Paused with a checkpoint attached.
func (s State) HasCheckpoint() bool {
	return s.Kind == KindPaused && s.Checkpoint != nil
}

// IsActive reports whether the item is admitted (running or waiting for a slot).
func (s State) IsActive() bool {
	return s.Kind == KindQueued || s.Kind == KindDownloading
}

func (s State) Equal(o State) bool {
	return s.Kind == o.Kind &&
		s.Progress == o.Progress &&
		bytes.Equal(s.Checkpoint, o.Checkpoint) &&
		s.LocalPath == o.LocalPath &&
		s.Reason == o.Reason
}

func (s State) String() string {
	switch s.Kind {
	case KindDownloading:
		return fmt.Sprintf("downloading(%.3f)", s.Progress)
	case KindPaused:
		return fmt.Sprintf("paused(checkpoint=%dB)", len(s.Checkpoint))
	case KindCompleted:
		return "completed(" + s.LocalPath + ")"
	case KindFailed:
		return "failed(" + s.Reason + ")"
	default:
		return s.Kind.String()
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0 || p != p:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

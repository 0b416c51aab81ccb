package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{
	Idle(),
	Queued(),
	Downloading(0.4),
	Paused([]byte{0x01}),
	Paused(nil),
	Completed("/out/f1.bin"),
	Failed("boom"),
}

func TestNext_IsTotal(t *testing.T) {
	triggers := []Trigger{TriggerStart, TriggerEnqueue, TriggerProgress, TriggerPause, TriggerFinish, TriggerFail, TriggerReset, Trigger(99)}

	for _, cur := range allStates {
		for _, tr := range triggers {
			next, applied := Next(cur, Input{Trigger: tr, Progress: 0.5})
			if !applied {
				assert.True(t, cur.Equal(next), "%s on %s must leave state unchanged", tr, cur)
			}

			_, known := kindNames[next.Kind]
			assert.True(t, known, "%s on %s yielded unknown kind", tr, cur)
		}
	}
}

func TestNext_Progress(t *testing.T) {
	tests := []struct {
		name    string
		cur     State
		applied bool
		want    State
	}{
		{"downloading advances", Downloading(0.1), true, Downloading(0.5)},
		{"stale after completion", Completed("/out/x"), false, Completed("/out/x")},
		{"stale after cancel", Idle(), false, Idle()},
		{"stale after pause", Paused([]byte{1}), false, Paused([]byte{1})},
		{"queued ignores progress", Queued(), false, Queued()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := Next(tt.cur, Input{Trigger: TriggerProgress, Progress: 0.5})
			assert.Equal(t, tt.applied, applied)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestNext_PauseDoesNotResurrect(t *testing.T) {
	for _, cur := range []State{Idle(), Completed("/out/x")} {
		got, applied := Next(cur, Input{Trigger: TriggerPause, Checkpoint: []byte{1, 2}})
		assert.False(t, applied)
		assert.True(t, cur.Equal(got))
	}

	got, applied := Next(Downloading(0.3), Input{Trigger: TriggerPause, Checkpoint: []byte{1, 2}})
	assert.True(t, applied)
	assert.Equal(t, Paused([]byte{1, 2}), got)
}

func TestNext_FinishAndFail(t *testing.T) {
	_, applied := Next(Idle(), Input{Trigger: TriggerFinish, LocalPath: "/out/x"})
	assert.False(t, applied)

	got, applied := Next(Downloading(0.9), Input{Trigger: TriggerFinish, LocalPath: "/out/x"})
	assert.True(t, applied)
	assert.Equal(t, Completed("/out/x"), got)

	_, applied = Next(Completed("/out/x"), Input{Trigger: TriggerFail, Reason: "late"})
	assert.False(t, applied)

	got, applied = Next(Downloading(0.2), Input{Trigger: TriggerFail, Reason: "connection reset"})
	assert.True(t, applied)
	assert.Equal(t, Failed("connection reset"), got)
}

func TestNext_ResetAlwaysIdle(t *testing.T) {
	for _, cur := range allStates {
		got, applied := Next(cur, Input{Trigger: TriggerReset})
		assert.True(t, applied)
		assert.Equal(t, Idle(), got)
	}
}

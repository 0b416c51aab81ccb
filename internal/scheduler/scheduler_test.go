package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct{ name string }

func admit(t *testing.T, s *Scheduler[*handle], id string) Admission {
	t.Helper()

	a, err := s.Admit(id, &handle{name: id})
	require.NoError(t, err)

	return a
}

func TestAdmit_RespectsBound(t *testing.T) {
	s := New[*handle](2)

	assert.Equal(t, Running, admit(t, s, "A"))
	assert.Equal(t, Running, admit(t, s, "B"))
	assert.Equal(t, Queued, admit(t, s, "C"))

	assert.Equal(t, 2, s.Running())
	assert.Equal(t, 1, s.Queued())
}

func TestAdmit_DuplicateIsRejected(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "A")
	admit(t, s, "B")

	_, err := s.Admit("A", &handle{})
	assert.ErrorIs(t, err, ErrAlreadyAdmitted)

	_, err = s.Admit("B", &handle{})
	assert.ErrorIs(t, err, ErrAlreadyAdmitted)
}

func TestCompletionPromotesQueued(t *testing.T) {
	s := New[*handle](2)
	admit(t, s, "A")
	admit(t, s, "B")
	admit(t, s, "C")

	s.Remove("A")

	next, ok := s.PromoteNext()
	require.True(t, ok)
	assert.Equal(t, "C", next.ID)
	assert.Equal(t, "C", next.Handle.name)

	assert.ElementsMatch(t, []string{"B", "C"}, s.RunningIDs())
	assert.Empty(t, s.QueuedIDs())

	_, ok = s.PromoteNext()
	assert.False(t, ok)
}

func TestPromoteNext_FIFO(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "running")

	for i := 0; i < 10; i++ {
		assert.Equal(t, Queued, admit(t, s, fmt.Sprintf("q%d", i)))
	}

	for i := 0; i < 10; i++ {
		s.Remove(s.RunningIDs()[0])

		next, ok := s.PromoteNext()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("q%d", i), next.ID)
	}
}

func TestPromoteNext_FullDoesNothing(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "A")
	admit(t, s, "B")

	_, ok := s.PromoteNext()
	assert.False(t, ok)
	assert.Equal(t, []string{"B"}, s.QueuedIDs())
}

func TestPromoteNext_CascadesOverFreedSlots(t *testing.T) {
	s := New[*handle](3)
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		admit(t, s, id)
	}

	s.Remove("A")
	s.Remove("B")

	var promoted []string
	for {
		next, ok := s.PromoteNext()
		if !ok {
			break
		}

		promoted = append(promoted, next.ID)
	}

	assert.Equal(t, []string{"D", "E"}, promoted)
	assert.Equal(t, []string{"F"}, s.QueuedIDs())
}

func TestGet(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "A")
	admit(t, s, "B")

	h, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", h.name)

	h, ok = s.Get("B")
	require.True(t, ok)
	assert.Equal(t, "B", h.name)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestReplace_PreservesMembershipAndOrder(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "A")
	admit(t, s, "B")
	admit(t, s, "C")

	assert.True(t, s.Replace("A", &handle{name: "A2"}))
	assert.True(t, s.Replace("B", &handle{name: "B2"}))
	assert.False(t, s.Replace("missing", &handle{}))

	assert.True(t, s.IsRunning("A"))
	assert.Equal(t, []string{"B", "C"}, s.QueuedIDs())

	h, _ := s.Get("B")
	assert.Equal(t, "B2", h.name)
}

func TestRestore(t *testing.T) {
	s := New[*handle](1)

	assert.Equal(t, Running, s.Restore("A", &handle{name: "A"}, true))
	assert.Equal(t, Queued, s.Restore("B", &handle{name: "B"}, true), "no slot left")
	assert.Equal(t, Queued, s.Restore("C", &handle{name: "C"}, false))
	assert.Equal(t, Running, s.Restore("A", &handle{name: "A2"}, false), "present id keeps its set")

	h, _ := s.Get("A")
	assert.Equal(t, "A2", h.name)
	assert.Equal(t, []string{"B", "C"}, s.QueuedIDs())
}

func TestRemove_Idempotent(t *testing.T) {
	s := New[*handle](1)
	admit(t, s, "A")
	admit(t, s, "B")

	s.Remove("B")
	s.Remove("B")
	s.Remove("missing")

	assert.Equal(t, 1, s.Running())
	assert.Equal(t, 0, s.Queued())
}

func TestNew_DefaultBound(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrent, New[*handle](0).MaxConcurrent())
}

// Random admit/remove/promote sequences never exceed the bound and keep sets disjoint.
func TestRandomOperations_KeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, bound := range []int{1, 2, 3, 5} {
		s := New[*handle](bound)
		known := map[string]bool{}

		for step := 0; step < 2000; step++ {
			id := fmt.Sprintf("i%d", rng.Intn(20))

			switch rng.Intn(3) {
			case 0:
				if _, err := s.Admit(id, &handle{name: id}); err == nil {
					known[id] = true
				} else {
					require.True(t, known[id], "duplicate error for unknown id at step %d", step)
				}
			case 1:
				s.Remove(id)
				delete(known, id)
			case 2:
				for {
					if _, ok := s.PromoteNext(); !ok {
						break
					}
				}
			}

			require.LessOrEqual(t, s.Running(), bound)
			require.Equal(t, len(known), s.Running()+s.Queued())

			for _, rid := range s.RunningIDs() {
				require.NotContains(t, s.QueuedIDs(), rid)
			}
		}
	}
}

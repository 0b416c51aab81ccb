package downloader

import (
	"context"
	"sort"
	"sync"

	"github.com/italolelis/resumable_downloader/internal/transfer"
)

type subscriber struct {
	// id filters events; empty receives every item.
	id   string
	push func(transfer.Event)
}

// Subscribe streams the states of id, starting with the current one. The channel is
// closed when ctx is done. Delivery is unbounded: a slow reader never blocks a
// transition.
func (m *Manager) Subscribe(ctx context.Context, id string) <-chan transfer.Event {
	return subscribe(ctx, m, id, func(ev transfer.Event) transfer.Event { return ev })
}

// SubscribeProgress streams the progress of id, 0 for every state but Downloading.
func (m *Manager) SubscribeProgress(ctx context.Context, id string) <-chan float64 {
	return subscribe(ctx, m, id, func(ev transfer.Event) float64 { return ev.State.ProgressValue() })
}

// SubscribeAll streams every transition of every item, starting with a snapshot of the
// items that are not Idle.
func (m *Manager) SubscribeAll(ctx context.Context) <-chan transfer.Event {
	return subscribe(ctx, m, "", func(ev transfer.Event) transfer.Event { return ev })
}

func subscribe[T any](ctx context.Context, m *Manager, id string, convert func(transfer.Event) T) <-chan T {
	f := newFeed[T]()
	sub := &subscriber{id: id, push: func(ev transfer.Event) { f.push(convert(ev)) }}

	m.mu.Lock()

	if id != "" {
		sub.push(transfer.Event{ID: id, State: m.stateLocked(id)})
	} else {
		ids := make([]string, 0, len(m.states))
		for itemID := range m.states {
			ids = append(ids, itemID)
		}

		sort.Strings(ids)

		for _, itemID := range ids {
			sub.push(transfer.Event{ID: itemID, State: m.states[itemID]})
		}
	}

	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	go f.run(ctx, func() {
		m.mu.Lock()
		delete(m.subscribers, sub)
		m.mu.Unlock()
	})

	return f.out
}

func (m *Manager) publishLocked(ev transfer.Event) {
	for sub := range m.subscribers {
		if sub.id == "" || sub.id == ev.ID {
			sub.push(ev)
		}
	}
}

// feed is an unbounded FIFO between publishers and one reader.
type feed[T any] struct {
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	out   chan T
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	f.queue = append(f.queue, v)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed[T]) run(ctx context.Context, unregister func()) {
	defer close(f.out)
	defer unregister()

	var zero T

	for {
		f.mu.Lock()

		if len(f.queue) == 0 {
			f.mu.Unlock()

			select {
			case <-f.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		v := f.queue[0]
		f.queue[0] = zero
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-ctx.Done():
			return
		}
	}
}

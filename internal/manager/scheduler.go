package manager

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// retryScheduler is a delay queue for persisted nextRetryAt deadlines.
// It fires the callback for each id once its deadline passes. Deadlines
// come from the store, so retry state survives process restarts: on boot
// the manager re-schedules every pending nextRetryAt it finds.
type retryScheduler struct {
	mu    sync.Mutex
	items retryHeap
	wake  chan struct{}
	fire  func(ctx context.Context, id string)
}

type retryItem struct {
	id string
	at time.Time
}

func newRetryScheduler(fire func(ctx context.Context, id string)) *retryScheduler {
	return &retryScheduler{
		wake: make(chan struct{}, 1),
		fire: fire,
	}
}

// Schedule registers an id to fire at the given time. Past deadlines fire
// on the next loop iteration.
func (s *retryScheduler) Schedule(id string, at time.Time) {
	s.mu.Lock()
	heap.Push(&s.items, retryItem{id: id, at: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of pending deadlines.
func (s *retryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

// Run fires due deadlines until the context is cancelled.
func (s *retryScheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wait time.Duration
		s.mu.Lock()
		now := time.Now()
		var due []string
		for s.items.Len() > 0 && !s.items[0].at.After(now) {
			due = append(due, heap.Pop(&s.items).(retryItem).id)
		}
		if s.items.Len() > 0 {
			wait = time.Until(s.items[0].at)
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		for _, id := range due {
			s.fire(ctx, id)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

type retryHeap []retryItem

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)        { *h = append(*h, x.(retryItem)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

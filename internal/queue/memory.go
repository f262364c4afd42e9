package queue

import "context"

// MemoryQueue implements Queue with a buffered channel. It is the
// single-binary default and the hermetic queue used by tests.
type MemoryQueue struct {
	ch chan string
}

func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &MemoryQueue{ch: make(chan string, bufferSize)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, id string) error {
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports the number of buffered ids.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

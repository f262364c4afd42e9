package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeue_Order(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8)

	require.NoError(t, q.Enqueue(ctx, "tx_aaaaaaaa01"))
	require.NoError(t, q.Enqueue(ctx, "tx_bbbbbbbb02"))
	assert.Equal(t, 2, q.Len())

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx_aaaaaaaa01", id)

	id, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx_bbbbbbbb02", id)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_Dequeue_BlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue(1)

	got := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			got <- id
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), "tx_cccccccc03"))

	select {
	case id := <-got:
		assert.Equal(t, "tx_cccccccc03", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestMemoryQueue_Dequeue_HonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_Enqueue_HonorsContextWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "tx_dddddddd04"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, "tx_eeeeeeee05")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

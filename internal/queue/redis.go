package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis Stream with a consumer group.
// Messages are acknowledged on read; redelivery safety comes from the
// manager's persisted state machine, which skips records that are no
// longer queued.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration

	pending []string
}

func NewRedisQueue(client *redis.Client, cfg *config.QueueConfig, consumer string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.ConsumerGroup,
		consumer:      consumer,
		batchSize:     cfg.BatchSize,
		blockDuration: cfg.BlockDuration,
	}
}

// CreateGroup creates the stream and the consumer group if missing.
func (q *RedisQueue) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"transaction_id": id,
			"timestamp":      time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dispatch transaction: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			return id, nil
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.batchSize,
			Block:    q.blockDuration,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // no new messages, block again
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if id, ok := msg.Values["transaction_id"].(string); ok {
					q.pending = append(q.pending, id)
				}
				q.client.XAck(ctx, q.stream, q.group, msg.ID)
			}
		}
	}
}

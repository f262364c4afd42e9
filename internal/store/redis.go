package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "transactions:"

// RedisStore implements Store on top of Redis, one JSON value per record
// key. Pattern scans use SCAN MATCH over the key prefix.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, rec *transaction.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, recordKeyPrefix+rec.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*transaction.Record, error) {
	data, err := s.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	var rec transaction.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]*transaction.Record, error) {
	var out []*transaction.Record
	iter := s.client.Scan(ctx, 0, recordKeyPrefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(recordKeyPrefix):]
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domainErrors.ErrTransactionNotFound) {
				continue // deleted between scan and get
			}
			return nil, err
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

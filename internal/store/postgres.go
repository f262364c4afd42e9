package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a typed-column transactions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

const recordColumns = `id, tx_type, payload, metadata, priority, status, result,
	        last_error, retry_count, max_retries, created_at, updated_at,
	        completed_at, cancelled_at, last_retry_at, next_retry_at`

func (s *PostgresStore) Put(ctx context.Context, rec *transaction.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var result []byte
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO transactions
		 (`+recordColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, result = EXCLUDED.result,
		   last_error = EXCLUDED.last_error, retry_count = EXCLUDED.retry_count,
		   updated_at = EXCLUDED.updated_at, completed_at = EXCLUDED.completed_at,
		   cancelled_at = EXCLUDED.cancelled_at, last_retry_at = EXCLUDED.last_retry_at,
		   next_retry_at = EXCLUDED.next_retry_at`,
		rec.ID, rec.Type, payload, metadata, string(rec.Priority), string(rec.Status), result,
		rec.LastError, rec.RetryCount, rec.MaxRetries, rec.CreatedAt, rec.UpdatedAt,
		rec.CompletedAt, rec.CancelledAt, rec.LastRetryAt, rec.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*transaction.Record, error) {
	return s.scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE id = $1`, id))
}

func (s *PostgresStore) Scan(ctx context.Context, pattern string) ([]*transaction.Record, error) {
	// Glob pattern to SQL LIKE: * matches any run, ? a single character.
	like := strings.NewReplacer("%", `\%`, "_", `\_`, "*", "%", "?", "_").Replace(pattern)
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE id LIKE $1 ORDER BY created_at`, like)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*transaction.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanRecord(row scanner) (*transaction.Record, error) {
	var (
		rec              transaction.Record
		priority, status string
		payload          []byte
		metadata         []byte
		result           []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Type, &payload, &metadata, &priority, &status, &result,
		&rec.LastError, &rec.RetryCount, &rec.MaxRetries, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.CompletedAt, &rec.CancelledAt, &rec.LastRetryAt, &rec.NextRetryAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}

	rec.Priority = transaction.Priority(priority)
	rec.Status = transaction.Status(status)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &rec, nil
}

package store

import (
	"context"

	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
)

// Store is the persisted transaction record holder. It has hash-map
// semantics: one record per id, whole-record reads and writes, and an
// id-pattern scan. The Transaction Manager is its only writer.
type Store interface {
	// Put writes the full record, creating or replacing it.
	Put(ctx context.Context, rec *transaction.Record) error

	// Get retrieves a record by id. Returns errors.ErrTransactionNotFound
	// for unknown ids.
	Get(ctx context.Context, id string) (*transaction.Record, error)

	// Scan returns all records whose id matches the glob pattern.
	Scan(ctx context.Context, pattern string) ([]*transaction.Record, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

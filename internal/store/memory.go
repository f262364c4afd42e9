package store

import (
	"context"
	"path"
	"sync"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
)

// MemoryStore implements Store with an in-process map. It is the default
// single-binary driver and the hermetic store used by tests. Records are
// cloned on the way in and out so callers never share mutable state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*transaction.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*transaction.Record),
	}
}

func (s *MemoryStore) Put(ctx context.Context, rec *transaction.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string) ([]*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*transaction.Record
	for id, rec := range s.records {
		ok, err := path.Match(pattern, id)
		if err != nil {
			return nil, domainErrors.NewValidationError("pattern", err.Error())
		}
		if ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

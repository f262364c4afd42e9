package pubsub

import (
	"sync"

	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/rs/zerolog"
)

// Hub broadcasts persisted status transitions to per-transaction
// listeners. Delivery is synchronous: the manager publishes while holding
// the per-id lock, so every listener observes writes in commit order. A
// panicking listener is isolated and logged, never breaking delivery to
// the others.
//
// Listeners must not block and must not call back into the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(transaction.Event)
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[int]func(transaction.Event)),
		logger: logger,
	}
}

// Subscribe registers a listener for one transaction id and returns its
// disposer. The disposer is idempotent.
func (h *Hub) Subscribe(transactionID string, fn func(transaction.Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	if h.subs[transactionID] == nil {
		h.subs[transactionID] = make(map[int]func(transaction.Event))
	}
	h.subs[transactionID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[transactionID], id)
			if len(h.subs[transactionID]) == 0 {
				delete(h.subs, transactionID)
			}
		})
	}
}

// Publish delivers the event to every listener of its transaction id.
func (h *Hub) Publish(ev transaction.Event) {
	h.mu.RLock()
	listeners := make([]func(transaction.Event), 0, len(h.subs[ev.TransactionID]))
	for _, fn := range h.subs[ev.TransactionID] {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.deliver(fn, ev)
	}
}

// Listeners reports the number of listeners for a transaction id.
func (h *Hub) Listeners(transactionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[transactionID])
}

func (h *Hub) deliver(fn func(transaction.Event), ev transaction.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("transaction_id", ev.TransactionID).
				Interface("panic", r).
				Msg("Subscriber panicked during event delivery")
		}
	}()
	fn(ev)
}

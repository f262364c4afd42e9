package subscribe

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnectionStatus summarizes the health of every active subscription.
// Failed counts subscriptions whose reconnect attempts are exhausted.
type ConnectionStatus struct {
	Total        int
	Connected    int
	Reconnecting int
	Failed       int
}

type subscription struct {
	id            string
	transactionID string
	obs           *Observable
	cancel        context.CancelFunc

	mu        sync.Mutex
	callbacks map[int]func(Snapshot)
	nextCB    int
}

func (s *subscription) notify(logger zerolog.Logger, snap Snapshot) {
	s.mu.Lock()
	cbs := make([]func(Snapshot), 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Interface("panic", r).
						Str("transaction_id", s.transactionID).
						Msg("Subscription callback panicked")
				}
			}()
			cb(snap)
		}()
	}
}

// Multiplexer manages many concurrent transaction subscriptions over
// independent event streams. Subscription handles are opaque ids so the
// same transaction can be watched more than once with different options.
type Multiplexer struct {
	baseURL  string
	defaults Options
	logger   zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

// NewMultiplexer creates a multiplexer for the given gateway base URL.
// Zero fields in defaults fall back to DefaultOptions.
func NewMultiplexer(baseURL string, defaults Options, logger zerolog.Logger) *Multiplexer {
	return &Multiplexer{
		baseURL:  baseURL,
		defaults: mergeOptions(DefaultOptions(), defaults),
		logger:   logger,
		subs:     make(map[string]*subscription),
	}
}

// Subscribe starts watching a transaction and returns the subscription id.
// Per-call options override the multiplexer defaults field by field.
func (m *Multiplexer) Subscribe(transactionID string, opts *Options) string {
	effective := m.defaults
	if opts != nil {
		effective = mergeOptions(m.defaults, *opts)
	}

	sub := &subscription{
		id:            uuid.New().String(),
		transactionID: transactionID,
		callbacks:     make(map[int]func(Snapshot)),
	}
	sub.obs = newObservable(m.baseURL, transactionID, effective, m.logger, func(snap Snapshot) {
		sub.notify(m.logger, snap)
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return sub.id
	}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go sub.obs.Run(ctx)

	m.logger.Debug().
		Str("subscription_id", sub.id).
		Str("transaction_id", transactionID).
		Msg("Subscription started")
	return sub.id
}

// Unsubscribe stops a subscription and drops its state. Unknown or
// already-removed ids are a no-op.
func (m *Multiplexer) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	sub, ok := m.subs[subscriptionID]
	if ok {
		delete(m.subs, subscriptionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	sub.obs.Stop()
	sub.cancel()
	m.logger.Debug().
		Str("subscription_id", subscriptionID).
		Str("transaction_id", sub.transactionID).
		Msg("Subscription stopped")
}

// GetSubscription returns the current snapshot for a subscription, or
// nil when the id is unknown.
func (m *Multiplexer) GetSubscription(subscriptionID string) *Snapshot {
	m.mu.RLock()
	sub, ok := m.subs[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	snap := sub.obs.Snapshot()
	return &snap
}

// OnSubscriptionUpdate registers a callback invoked on every snapshot
// change for the subscription. The returned function unregisters it and
// is safe to call more than once. Registration on an unknown id returns
// false.
func (m *Multiplexer) OnSubscriptionUpdate(subscriptionID string, cb func(Snapshot)) (func(), bool) {
	m.mu.RLock()
	sub, ok := m.subs[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sub.mu.Lock()
	key := sub.nextCB
	sub.nextCB++
	sub.callbacks[key] = cb
	sub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			delete(sub.callbacks, key)
			sub.mu.Unlock()
		})
	}, true
}

// GlobalConnectionStatus computes an aggregate view across all active
// subscriptions at call time. Nothing is cached.
func (m *Multiplexer) GlobalConnectionStatus() ConnectionStatus {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	status := ConnectionStatus{Total: len(subs)}
	for _, sub := range subs {
		snap := sub.obs.Snapshot()
		switch {
		case snap.IsConnected:
			status.Connected++
		case snap.IsReconnecting:
			status.Reconnecting++
		case snap.Error != "" && !isTerminalStatus(snap.Status):
			status.Failed++
		}
	}
	return status
}

// Close stops every subscription. The multiplexer accepts no new
// subscriptions afterwards.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.obs.Stop()
		sub.cancel()
	}
}

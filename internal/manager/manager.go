package manager

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/observability"
	"github.com/cassiomorais/deploytrack/internal/processor"
	"github.com/cassiomorais/deploytrack/internal/pubsub"
	"github.com/cassiomorais/deploytrack/internal/queue"
	"github.com/cassiomorais/deploytrack/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const lockStripes = 64

// Manager owns the transaction lifecycle: enqueue, drive-to-completion
// with bounded retries, cancellation, and ordered subscription delivery.
// It is the single writer of transaction records. Per-id writes are
// serialized by striped mutexes; different ids process fully in parallel.
type Manager struct {
	store    store.Store
	queue    queue.Queue
	registry *processor.Registry
	hub      *pubsub.Hub
	sched    *retryScheduler
	cfg      config.TransactionConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics

	locks [lockStripes]sync.Mutex
}

// New creates a Manager. The caller owns the lifecycle: construct at
// startup, pass explicitly to the gateway and controllers, then Run the
// worker loop until shutdown.
func New(
	st store.Store,
	q queue.Queue,
	registry *processor.Registry,
	cfg config.TransactionConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Manager {
	m := &Manager{
		store:    st,
		queue:    q,
		registry: registry,
		hub:      pubsub.NewHub(logger),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
	m.sched = newRetryScheduler(m.redispatch)
	return m
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.locks[h.Sum32()%lockStripes]
}

// backoff is the documented retry policy: linear,
// nextRetryAt = now + retryDelay * attempt.
func (m *Manager) backoff(attempt int) time.Duration {
	return m.cfg.RetryDelay * time.Duration(attempt)
}

// Enqueue validates, persists a queued record, and dispatches it.
// The record is durably queued before the id is returned.
func (m *Manager) Enqueue(ctx context.Context, txType string, payload, metadata map[string]any, priority transaction.Priority) (*transaction.Record, error) {
	proc, err := m.registry.Get(txType)
	if err != nil {
		return nil, domainErrors.NewValidationError("type", "no processor registered for "+txType)
	}
	if err := proc.Validate(payload); err != nil {
		return nil, err
	}

	rec := transaction.NewRecord(txType, payload, metadata, priority, m.cfg.MaxRetries)

	lock := m.lockFor(rec.ID)
	lock.Lock()
	if err := m.store.Put(ctx, rec); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("persist transaction: %w", err)
	}
	m.hub.Publish(transaction.NewEvent(rec))
	lock.Unlock()

	m.metrics.TransactionsTotal.WithLabelValues(txType, string(transaction.StatusQueued)).Inc()

	if err := m.queue.Enqueue(ctx, rec.ID); err != nil {
		// The record is persisted as queued; startup recovery re-dispatches.
		m.logger.Error().Err(err).Str("transaction_id", rec.ID).Msg("Failed to dispatch transaction")
		return nil, fmt.Errorf("dispatch transaction: %w", err)
	}

	m.logger.Info().
		Str("transaction_id", rec.ID).
		Str("type", txType).
		Str("priority", string(rec.Priority)).
		Msg("Transaction enqueued")
	return rec.Clone(), nil
}

// Get returns the persisted snapshot for an id. It is the read-only
// status query consumers use instead of reaching into the store.
func (m *Manager) Get(ctx context.Context, id string) (*transaction.Record, error) {
	return m.store.Get(ctx, id)
}

// List returns the records whose ids match the glob pattern.
func (m *Manager) List(ctx context.Context, pattern string) ([]*transaction.Record, error) {
	return m.store.Scan(ctx, pattern)
}

// Cancel marks a non-terminal transaction cancelled. In-flight processor
// work is not interrupted; a late success loses the terminal-write race
// and is discarded. Returns ErrTransactionNotFound for unknown ids and
// ErrNotCancellable when the record is already terminal.
func (m *Manager) Cancel(ctx context.Context, id string) (*transaction.Record, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		return nil, domainErrors.ErrNotCancellable
	}

	if err := rec.MarkCancelled(); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}
	m.hub.Publish(transaction.NewEvent(rec))

	m.metrics.TransactionsTotal.WithLabelValues(rec.Type, string(transaction.StatusCancelled)).Inc()
	m.logger.Info().Str("transaction_id", id).Msg("Transaction cancelled")
	return rec, nil
}

// Subscribe delivers the current snapshot as a synthetic initial event,
// then every subsequent persisted transition in write order, until the
// returned disposer is called. The callback must not block and must not
// call back into the Manager.
func (m *Manager) Subscribe(ctx context.Context, id string, onUpdate func(transaction.Event)) (func(), error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Register before releasing the per-id lock so no transition can slip
	// between the snapshot and the live feed.
	unsubscribe := m.hub.Subscribe(id, onUpdate)
	onUpdate(transaction.NewEvent(rec))
	return unsubscribe, nil
}

// Process drives one attempt for a queued transaction. Driven by the
// worker loop; safe to call with duplicate deliveries.
func (m *Manager) Process(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("load transaction: %w", err)
	}
	if rec.Status != transaction.StatusQueued {
		// Duplicate delivery, concurrent cancel, or an attempt already
		// running elsewhere.
		if rec.IsTerminal() {
			m.logConflict(id, "process")
		}
		lock.Unlock()
		return nil
	}

	if err := rec.MarkProcessing(); err != nil {
		lock.Unlock()
		return err
	}
	if err := m.store.Put(ctx, rec); err != nil {
		lock.Unlock()
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.hub.Publish(transaction.NewEvent(rec))
	lock.Unlock()

	// Processor execution happens outside the per-id lock: it may block on
	// external I/O and must not stall reads, cancels, or other ids.
	execCtx := ctx
	if m.cfg.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.cfg.ProcessingTimeout)
		defer cancel()
	}
	start := time.Now()
	result, execErr := m.registry.Execute(execCtx, rec.Type, processor.Request{
		TransactionID: rec.ID,
		Payload:       rec.Payload,
		Metadata:      rec.Metadata,
	})
	m.metrics.WorkerProcessingDuration.WithLabelValues(rec.Type).Observe(time.Since(start).Seconds())

	lock.Lock()
	defer lock.Unlock()

	// Re-read: a cancel may have won the race while we were executing.
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reload transaction: %w", err)
	}
	if cur.IsTerminal() {
		// First terminal write wins; the attempt outcome is discarded.
		m.logConflict(id, "late attempt result")
		return nil
	}

	if execErr == nil {
		return m.complete(ctx, cur, result)
	}
	return m.handleFailure(ctx, cur, execErr)
}

func (m *Manager) complete(ctx context.Context, rec *transaction.Record, result *processor.Result) error {
	var output map[string]any
	if result != nil {
		output = result.Output
	}
	if err := rec.MarkCompleted(output); err != nil {
		return err
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	m.hub.Publish(transaction.NewEvent(rec))

	m.metrics.TransactionsTotal.WithLabelValues(rec.Type, string(transaction.StatusCompleted)).Inc()
	m.metrics.TransactionDuration.WithLabelValues(rec.Type, "completed").Observe(time.Since(rec.CreatedAt).Seconds())
	m.logger.Info().
		Str("transaction_id", rec.ID).
		Int("retry_count", rec.RetryCount).
		Msg("Transaction completed")
	return nil
}

// handleFailure routes a failed attempt: retryable failures count against
// max retries and are re-queued with linear backoff; non-retryable
// failures bypass the retry budget and fail immediately.
func (m *Manager) handleFailure(ctx context.Context, rec *transaction.Record, execErr error) error {
	retryable := domainErrors.IsRetryable(execErr)

	if retryable && rec.RetryCount < rec.MaxRetries {
		attempt := rec.RetryCount + 1
		at := time.Now().Add(m.backoff(attempt))
		if err := rec.ScheduleRetry(execErr.Error(), at); err != nil {
			return err
		}
		if err := m.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("persist retry state: %w", err)
		}
		m.hub.Publish(transaction.NewEvent(rec))
		m.sched.Schedule(rec.ID, at)

		m.metrics.TransactionRetries.WithLabelValues(rec.Type).Inc()
		m.logger.Warn().
			Err(execErr).
			Str("transaction_id", rec.ID).
			Int("retry_count", rec.RetryCount).
			Time("next_retry_at", at).
			Msg("Transaction attempt failed, retry scheduled")
		return nil
	}

	if err := rec.MarkFailed(execErr.Error()); err != nil {
		return err
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	m.hub.Publish(transaction.NewEvent(rec))

	m.metrics.TransactionsTotal.WithLabelValues(rec.Type, string(transaction.StatusFailed)).Inc()
	m.metrics.TransactionDuration.WithLabelValues(rec.Type, "failed").Observe(time.Since(rec.CreatedAt).Seconds())
	m.logger.Error().
		Err(execErr).
		Str("transaction_id", rec.ID).
		Int("retry_count", rec.RetryCount).
		Bool("retryable", retryable).
		Msg("Transaction failed")
	return nil
}

// redispatch pushes a due retry back onto the dispatch queue.
func (m *Manager) redispatch(ctx context.Context, id string) {
	if err := m.queue.Enqueue(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Str("transaction_id", id).Msg("Failed to re-dispatch retry")
	}
}

// Recover re-dispatches non-terminal records found in the store: pending
// retries go back on the scheduler, everything else back on the queue.
// Interrupted "processing" records are re-queued for another attempt.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.store.Scan(ctx, transaction.IDPattern)
	if err != nil {
		return fmt.Errorf("scan store: %w", err)
	}

	now := time.Now()
	recovered := 0
	for _, rec := range records {
		if rec.IsTerminal() {
			continue
		}
		recovered++

		if rec.Status == transaction.StatusProcessing {
			// The previous process died mid-attempt. Re-queue without
			// consuming a retry: the attempt never reported an outcome.
			lock := m.lockFor(rec.ID)
			lock.Lock()
			if err := rec.TransitionTo(transaction.StatusQueued); err == nil {
				if err := m.store.Put(ctx, rec); err != nil {
					lock.Unlock()
					return fmt.Errorf("persist recovery: %w", err)
				}
				m.hub.Publish(transaction.NewEvent(rec))
			}
			lock.Unlock()
		}

		if rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			m.sched.Schedule(rec.ID, *rec.NextRetryAt)
			continue
		}
		if err := m.queue.Enqueue(ctx, rec.ID); err != nil {
			return fmt.Errorf("re-dispatch %s: %w", rec.ID, err)
		}
	}

	if recovered > 0 {
		m.logger.Info().Int("count", recovered).Msg("Recovered non-terminal transactions")
	}
	return nil
}

// Run starts the retry scheduler and the worker loop, blocking until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.sched.Run(gCtx)
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				id, err := m.queue.Dequeue(gCtx)
				if err != nil {
					if gCtx.Err() != nil {
						return gCtx.Err()
					}
					m.logger.Error().Err(err).Msg("Failed to dequeue")
					continue
				}
				if err := m.Process(gCtx, id); err != nil {
					m.logger.Error().Err(err).Str("transaction_id", id).Msg("Failed to process transaction")
					m.metrics.WorkerJobsProcessed.WithLabelValues("error").Inc()
				} else {
					m.metrics.WorkerJobsProcessed.WithLabelValues("success").Inc()
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) logConflict(id, op string) {
	m.metrics.TerminalConflictsTotal.Inc()
	m.logger.Warn().
		Str("transaction_id", id).
		Str("operation", op).
		Msg("Write rejected, record already terminal")
}

package processor

import (
	"context"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// Registry holds the processors bound at construction, one circuit breaker
// per transaction type. An open breaker surfaces as a retryable failure so
// the attempt is counted and rescheduled rather than spinning on a
// degraded backend.
type Registry struct {
	processors      map[string]Processor
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Result]
}

func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{
		processors:      make(map[string]Processor),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
	}
	for _, p := range processors {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Processor) {
	r.processors[p.Type()] = p
	r.circuitBreakers[p.Type()] = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        p.Type(),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})
}

// Get returns the processor for a transaction type.
func (r *Registry) Get(txType string) (Processor, error) {
	p, ok := r.processors[txType]
	if !ok {
		return nil, domainErrors.ErrUnknownTransactionType
	}
	return p, nil
}

// Execute runs the processor for txType behind its circuit breaker.
func (r *Registry) Execute(ctx context.Context, txType string, req Request) (*Result, error) {
	p, ok := r.processors[txType]
	if !ok {
		return nil, domainErrors.ErrUnknownTransactionType
	}
	breaker := r.circuitBreakers[txType]

	result, err := breaker.Execute(func() (*Result, error) {
		return p.Execute(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domainErrors.NewRetryableError("processor circuit open", domainErrors.ErrProcessorUnavailable)
		}
		return nil, err
	}
	return result, nil
}

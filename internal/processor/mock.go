package processor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/google/uuid"
)

// MockProcessor simulates a deployment backend with configurable latency
// and failure behavior.
type MockProcessor struct {
	txType        string
	failureRate   float64 // 0.0 to 1.0
	latency       time.Duration
	permanentRate float64 // 0.0 to 1.0, share of failures that are non-retryable
	requiredField string
}

type MockProcessorOption func(*MockProcessor)

func WithFailureRate(rate float64) MockProcessorOption {
	return func(p *MockProcessor) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockProcessorOption {
	return func(p *MockProcessor) { p.latency = d }
}

func WithPermanentRate(rate float64) MockProcessorOption {
	return func(p *MockProcessor) { p.permanentRate = rate }
}

// WithRequiredField makes Validate reject payloads missing the given key.
func WithRequiredField(field string) MockProcessorOption {
	return func(p *MockProcessor) { p.requiredField = field }
}

func NewMockProcessor(txType string, opts ...MockProcessorOption) *MockProcessor {
	p := &MockProcessor{
		txType:      txType,
		failureRate: 0.0,
		latency:     100 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProcessor) Type() string { return p.txType }

func (p *MockProcessor) Validate(payload map[string]any) error {
	if len(payload) == 0 {
		return domainErrors.NewValidationError("payload", "cannot be empty")
	}
	if p.requiredField != "" {
		if _, ok := payload[p.requiredField]; !ok {
			return domainErrors.NewValidationError("payload."+p.requiredField, "is required")
		}
	}
	return nil
}

func (p *MockProcessor) Execute(ctx context.Context, req Request) (*Result, error) {
	// Simulate latency
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < p.failureRate {
		if rand.Float64() < p.permanentRate {
			return nil, domainErrors.NewPermanentError(
				fmt.Sprintf("%s: simulated permanent failure for %s", p.txType, req.TransactionID), nil)
		}
		return nil, domainErrors.NewRetryableError(
			fmt.Sprintf("%s: simulated failure for %s", p.txType, req.TransactionID), nil)
	}

	return &Result{
		Output: map[string]any{
			"reference": fmt.Sprintf("%s_%s", p.txType, uuid.New().String()[:8]),
			"status":    "success",
		},
	}, nil
}

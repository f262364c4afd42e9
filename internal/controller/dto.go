package controller

import (
	"time"

	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
)

// EnqueueRequest is the body for POST /api/v1/transactions.
type EnqueueRequest struct {
	Type     string         `json:"type" validate:"required"`
	Payload  map[string]any `json:"payload" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Priority string         `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
}

// TransactionResponse is the wire form of a record, with derived progress.
type TransactionResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    string         `json:"priority"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
}

// FromRecord maps a record to its response form.
func FromRecord(r *transaction.Record) *TransactionResponse {
	return &TransactionResponse{
		ID:          r.ID,
		Type:        r.Type,
		Priority:    string(r.Priority),
		Status:      string(r.Status),
		Progress:    r.Progress(),
		Result:      r.Result,
		LastError:   r.LastError,
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
		CancelledAt: r.CancelledAt,
		NextRetryAt: r.NextRetryAt,
	}
}

// ErrorResponse is the structured error body with a machine-checkable code.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

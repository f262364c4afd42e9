package transaction

import (
	"strings"
	"time"

	"github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/google/uuid"
)

// IDPrefix is the opaque prefix carried by every transaction id.
const IDPrefix = "tx_"

// minIDSuffixLen is the minimum number of characters after the prefix.
const minIDSuffixLen = 8

// IDPattern matches every transaction id in the store.
const IDPattern = IDPrefix + "*"

// Status represents the transaction status in the state machine
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Priority is a caller-supplied scheduling hint.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Record represents a tracked asynchronous unit of work
type Record struct {
	ID          string
	Type        string
	Payload     map[string]any
	Metadata    map[string]any
	Priority    Priority
	Status      Status
	Result      map[string]any
	LastError   *string
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	LastRetryAt *time.Time
	NextRetryAt *time.Time
}

// NewID generates a fresh transaction id.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidateID checks the id format without touching the store: the fixed
// prefix, a minimum suffix length, and an alphanumeric charset.
func ValidateID(id string) error {
	if !strings.HasPrefix(id, IDPrefix) {
		return errors.NewValidationError("id", "must start with "+IDPrefix)
	}
	suffix := id[len(IDPrefix):]
	if len(suffix) < minIDSuffixLen {
		return errors.NewValidationError("id", "too short")
	}
	for _, c := range suffix {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return errors.NewValidationError("id", "contains invalid characters")
		}
	}
	return nil
}

// NewRecord creates a new queued record with a generated id.
func NewRecord(txType string, payload, metadata map[string]any, priority Priority, maxRetries int) *Record {
	if priority == "" {
		priority = PriorityNormal
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	now := time.Now()
	return &Record{
		ID:         NewID(),
		Type:       txType,
		Payload:    payload,
		Metadata:   metadata,
		Priority:   priority,
		Status:     StatusQueued,
		RetryCount: 0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanTransitionTo checks if the record can transition to the given status
func (r *Record) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusQueued: {
			StatusProcessing,
			StatusCancelled,
		},
		StatusProcessing: {
			StatusCompleted,
			StatusFailed,
			StatusCancelled,
			StatusQueued, // retry re-entry
		},
		StatusCompleted: {}, // Terminal state
		StatusFailed:    {}, // Terminal state
		StatusCancelled: {}, // Terminal state
	}

	allowed, exists := transitions[r.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the record to a new status
func (r *Record) TransitionTo(newStatus Status) error {
	if !r.CanTransitionTo(newStatus) {
		if r.IsTerminal() {
			return errors.ErrTerminalConflict
		}
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	r.Status = newStatus
	r.UpdatedAt = time.Now()

	switch newStatus {
	case StatusCompleted, StatusFailed:
		now := time.Now()
		r.CompletedAt = &now
	case StatusCancelled:
		now := time.Now()
		r.CancelledAt = &now
	}
	return nil
}

// MarkProcessing transitions the record to processing status
func (r *Record) MarkProcessing() error {
	return r.TransitionTo(StatusProcessing)
}

// MarkCompleted transitions the record to completed status and stores the result
func (r *Record) MarkCompleted(result map[string]any) error {
	if err := r.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	r.Result = result
	return nil
}

// MarkFailed transitions the record to failed status
func (r *Record) MarkFailed(errorMsg string) error {
	if err := r.TransitionTo(StatusFailed); err != nil {
		return err
	}
	r.LastError = &errorMsg
	return nil
}

// MarkCancelled transitions the record to cancelled status
func (r *Record) MarkCancelled() error {
	return r.TransitionTo(StatusCancelled)
}

// ScheduleRetry counts a failed attempt and re-queues the record for the
// given deadline. The caller computes the backoff delay.
func (r *Record) ScheduleRetry(errorMsg string, at time.Time) error {
	if r.RetryCount >= r.MaxRetries {
		return errors.ErrMaxRetriesExceeded
	}
	if err := r.TransitionTo(StatusQueued); err != nil {
		return err
	}
	now := time.Now()
	r.RetryCount++
	r.LastError = &errorMsg
	r.LastRetryAt = &now
	r.NextRetryAt = &at
	return nil
}

// CanRetry checks if another attempt is permitted
func (r *Record) CanRetry() bool {
	return !r.IsTerminal() && r.RetryCount < r.MaxRetries
}

// IsTerminal checks if the record is in a terminal state
func (r *Record) IsTerminal() bool {
	return r.Status == StatusCompleted ||
		r.Status == StatusFailed ||
		r.Status == StatusCancelled
}

// Progress derives the coarse completion percentage from the status.
// It is computed, never stored.
func (r *Record) Progress() int {
	return ProgressFor(r.Status)
}

// ProgressFor maps a status to its derived progress percentage.
func ProgressFor(s Status) int {
	switch s {
	case StatusQueued:
		return 10
	case StatusProcessing:
		return 50
	case StatusCompleted:
		return 100
	default: // failed, cancelled
		return 0
	}
}

// Clone returns a copy of the record safe to hand to readers while the
// manager keeps mutating its own copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = cloneMap(r.Payload)
	c.Metadata = cloneMap(r.Metadata)
	c.Result = cloneMap(r.Result)
	c.LastError = clonePtr(r.LastError)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.CancelledAt = clonePtr(r.CancelledAt)
	c.LastRetryAt = clonePtr(r.LastRetryAt)
	c.NextRetryAt = clonePtr(r.NextRetryAt)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

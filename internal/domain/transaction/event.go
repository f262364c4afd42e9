package transaction

import "time"

// Event is the broadcast form of a persisted status transition. Progress is
// derived from the status at construction time, never stored on the record.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
	Error         string    `json:"error,omitempty"`
}

// NewEvent builds the event for the record's current persisted state.
func NewEvent(r *Record) Event {
	ev := Event{
		TransactionID: r.ID,
		Status:        r.Status,
		Progress:      r.Progress(),
		Timestamp:     r.UpdatedAt,
		RetryCount:    r.RetryCount,
	}
	if r.LastError != nil {
		ev.Error = *r.LastError
	}
	return ev
}

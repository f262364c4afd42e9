package transaction

import (
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	assert.NoError(t, ValidateID(id))

	other := NewID()
	assert.NotEqual(t, id, other)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid id", "tx_abc123def456", false},
		{"valid minimum length", "tx_12345678", false},
		{"missing prefix", "abc123def456", true},
		{"wrong prefix", "job_abc123def456", true},
		{"too short suffix", "tx_abc1234", true},
		{"empty", "", true},
		{"invalid characters", "tx_abc-123-def", true},
		{"whitespace", "tx_abc 123 def", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRecord_Defaults(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"contract": "0xabc"}, nil, "", 3)

	assert.NoError(t, ValidateID(rec.ID))
	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, PriorityNormal, rec.Priority)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 3, rec.MaxRetries)
	assert.NotNil(t, rec.Metadata)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestRecord_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to cancelled", StatusQueued, StatusCancelled, true},
		{"queued to completed", StatusQueued, StatusCompleted, false},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to cancelled", StatusProcessing, StatusCancelled, true},
		{"processing to queued", StatusProcessing, StatusQueued, true},
		{"completed is terminal", StatusCompleted, StatusProcessing, false},
		{"failed is terminal", StatusFailed, StatusQueued, false},
		{"cancelled is terminal", StatusCancelled, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 3)
			rec.Status = tt.from
			assert.Equal(t, tt.allowed, rec.CanTransitionTo(tt.to))
		})
	}
}

func TestRecord_TransitionTo_TerminalConflict(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 3)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkCompleted(map[string]any{"address": "0xdead"}))

	err := rec.TransitionTo(StatusCancelled)
	assert.ErrorIs(t, err, domainErrors.ErrTerminalConflict)

	err = rec.MarkFailed("late failure")
	assert.ErrorIs(t, err, domainErrors.ErrTerminalConflict)
}

func TestRecord_MarkCompleted_SetsResultAndTimestamp(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 3)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkCompleted(map[string]any{"address": "0xdead"}))

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "0xdead", rec.Result["address"])
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.IsTerminal())
}

func TestRecord_MarkCancelled_SetsTimestamp(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 3)
	require.NoError(t, rec.MarkCancelled())

	assert.Equal(t, StatusCancelled, rec.Status)
	require.NotNil(t, rec.CancelledAt)
	assert.Nil(t, rec.CompletedAt)
}

func TestRecord_ScheduleRetry(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 2)
	require.NoError(t, rec.MarkProcessing())

	at := time.Now().Add(5 * time.Second)
	require.NoError(t, rec.ScheduleRetry("rpc timeout", at))

	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "rpc timeout", *rec.LastError)
	require.NotNil(t, rec.NextRetryAt)
	assert.Equal(t, at, *rec.NextRetryAt)
	require.NotNil(t, rec.LastRetryAt)
}

func TestRecord_ScheduleRetry_ExhaustedBudget(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 1)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.ScheduleRetry("first failure", time.Now()))

	require.NoError(t, rec.MarkProcessing())
	err := rec.ScheduleRetry("second failure", time.Now())
	assert.ErrorIs(t, err, domainErrors.ErrMaxRetriesExceeded)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestRecord_CanRetry(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 1)
	assert.True(t, rec.CanRetry())

	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.ScheduleRetry("boom", time.Now()))
	assert.False(t, rec.CanRetry())

	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkFailed("boom"))
	assert.False(t, rec.CanRetry())
}

func TestProgressFor(t *testing.T) {
	assert.Equal(t, 10, ProgressFor(StatusQueued))
	assert.Equal(t, 50, ProgressFor(StatusProcessing))
	assert.Equal(t, 100, ProgressFor(StatusCompleted))
	assert.Equal(t, 0, ProgressFor(StatusFailed))
	assert.Equal(t, 0, ProgressFor(StatusCancelled))
}

func TestRecord_Clone_IsIndependent(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"contract": "0xabc"}, map[string]any{"env": "test"}, PriorityHigh, 3)
	require.NoError(t, rec.MarkProcessing())

	clone := rec.Clone()
	clone.Payload["contract"] = "0xother"
	clone.Metadata["env"] = "prod"
	require.NoError(t, clone.MarkCompleted(map[string]any{"done": true}))

	assert.Equal(t, "0xabc", rec.Payload["contract"])
	assert.Equal(t, "test", rec.Metadata["env"])
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestNewEvent_DerivesProgress(t *testing.T) {
	rec := NewRecord("contract_deploy", map[string]any{"x": 1}, nil, PriorityNormal, 3)
	ev := NewEvent(rec)

	assert.Equal(t, rec.ID, ev.TransactionID)
	assert.Equal(t, StatusQueued, ev.Status)
	assert.Equal(t, 10, ev.Progress)
	assert.Equal(t, rec.UpdatedAt, ev.Timestamp)
	assert.Empty(t, ev.Error)

	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkFailed("gas estimation failed"))
	ev = NewEvent(rec)
	assert.Equal(t, 0, ev.Progress)
	assert.Equal(t, "gas estimation failed", ev.Error)
}

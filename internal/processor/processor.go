package processor

import (
	"context"
)

// Result is the output of a successful execution. Output is persisted on
// the record verbatim.
type Result struct {
	Output map[string]any
}

// Processor is the pluggable executor bound to a transaction type.
// Execute may return *errors.ProcessorError to control retry routing;
// any other error is treated as retryable.
type Processor interface {
	// Type returns the transaction type this processor handles.
	Type() string
	// Validate checks the payload before a record is accepted.
	Validate(payload map[string]any) error
	// Execute performs the unit of work. It may block on external I/O and
	// should honor ctx cancellation, though interruption is best-effort.
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Request carries the record fields a processor may read.
type Request struct {
	TransactionID string
	Payload       map[string]any
	Metadata      map[string]any
}

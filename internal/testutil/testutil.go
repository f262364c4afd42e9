package testutil

import (
	"context"
	"sync"
	"time"

	domainerr "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/processor"
)

// NewTestRecord builds a queued record with sane defaults for tests.
func NewTestRecord(txType string) *transaction.Record {
	return transaction.NewRecord(txType, map[string]any{"contract": "0xabc"}, nil, transaction.PriorityNormal, 3)
}

// ScriptedProcessor fails a fixed number of executions with a retryable
// error, then succeeds. Execution order is tracked so tests can assert
// attempt counts.
type ScriptedProcessor struct {
	TxType   string
	FailN    int
	ExecErr  error
	Output   map[string]any
	Delay    time.Duration
	mu       sync.Mutex
	attempts int
}

func (p *ScriptedProcessor) Type() string { return p.TxType }

func (p *ScriptedProcessor) Validate(payload map[string]any) error {
	if len(payload) == 0 {
		return &domainerr.ValidationError{Field: "payload", Message: "payload must not be empty"}
	}
	return nil
}

func (p *ScriptedProcessor) Execute(ctx context.Context, req processor.Request) (*processor.Result, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.attempts++
	n := p.attempts
	p.mu.Unlock()

	if n <= p.FailN {
		if p.ExecErr != nil {
			return nil, p.ExecErr
		}
		return nil, domainerr.NewRetryableError("simulated transient failure", nil)
	}
	out := p.Output
	if out == nil {
		out = map[string]any{"attempts": n}
	}
	return &processor.Result{Output: out}, nil
}

// Attempts returns how many times Execute has run.
func (p *ScriptedProcessor) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// BlockingProcessor parks every execution until Release is called or the
// context is cancelled. Used to stage races against in-flight work.
type BlockingProcessor struct {
	TxType  string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewBlockingProcessor(txType string) *BlockingProcessor {
	return &BlockingProcessor{
		TxType:  txType,
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (p *BlockingProcessor) Type() string { return p.TxType }

func (p *BlockingProcessor) Validate(payload map[string]any) error { return nil }

func (p *BlockingProcessor) Execute(ctx context.Context, req processor.Request) (*processor.Result, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return &processor.Result{Output: map[string]any{"released": true}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Started signals once per execution that has entered the processor.
func (p *BlockingProcessor) Started() <-chan struct{} { return p.started }

// Release unblocks all current and future executions.
func (p *BlockingProcessor) Release() {
	p.once.Do(func() { close(p.release) })
}

// EventCollector records published events in order.
type EventCollector struct {
	mu     sync.Mutex
	events []transaction.Event
}

func (c *EventCollector) Collect(ev transaction.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *EventCollector) Events() []transaction.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transaction.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *EventCollector) Statuses() []transaction.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transaction.Status, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Status)
	}
	return out
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

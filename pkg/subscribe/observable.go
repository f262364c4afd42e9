package subscribe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/deploytrack/pkg/retry"
	"github.com/rs/zerolog"
)

// Options configures a logical subscription. Caller options are merged
// over the multiplexer defaults; the caller wins on conflict.
type Options struct {
	// ReconnectDelay is the initial backoff delay between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds connection attempts per outage.
	MaxReconnectAttempts uint
	// SilenceTimeout treats a stream with no events or heartbeats for this
	// long as a lost connection.
	SilenceTimeout time.Duration
	// HTTPClient overrides the client used for the event stream.
	HTTPClient *http.Client
}

// DefaultOptions returns the options used when neither the multiplexer
// nor the caller overrides a field.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectAttempts: 5,
		SilenceTimeout:       60 * time.Second,
	}
}

func mergeOptions(base, override Options) Options {
	out := base
	if override.ReconnectDelay > 0 {
		out.ReconnectDelay = override.ReconnectDelay
	}
	if override.MaxReconnectAttempts > 0 {
		out.MaxReconnectAttempts = override.MaxReconnectAttempts
	}
	if override.SilenceTimeout > 0 {
		out.SilenceTimeout = override.SilenceTimeout
	}
	if override.HTTPClient != nil {
		out.HTTPClient = override.HTTPClient
	}
	return out
}

// Snapshot is the latest-only local view of a subscription. No history is
// retained.
type Snapshot struct {
	TransactionID     string
	Status            string
	Progress          int
	Error             string
	IsConnected       bool
	IsReconnecting    bool
	ReconnectAttempts int
}

// statusEvent mirrors the gateway's "status" event payload.
type statusEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Error         string `json:"error,omitempty"`
}

// errorEvent mirrors the gateway's "error" event payload.
type errorEvent struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func isTerminalStatus(status string) bool {
	return status == "completed" || status == "failed" || status == "cancelled"
}

// Observable maintains one server-sent event stream for one transaction,
// reconnecting with backoff on transport loss. It owns the connection
// state; the multiplexer keeps the registration and callbacks alive
// across reconnects.
type Observable struct {
	baseURL       string
	transactionID string
	opts          Options
	client        *http.Client
	logger        zerolog.Logger
	onChange      func(Snapshot)

	mu   sync.Mutex
	snap Snapshot
	done bool
}

func newObservable(baseURL, transactionID string, opts Options, logger zerolog.Logger, onChange func(Snapshot)) *Observable {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Observable{
		baseURL:       strings.TrimRight(baseURL, "/"),
		transactionID: transactionID,
		opts:          opts,
		client:        client,
		logger:        logger,
		onChange:      onChange,
		snap:          Snapshot{TransactionID: transactionID},
	}
}

// Snapshot returns the current local view.
func (o *Observable) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Run connects and streams until the transaction reaches a terminal
// status, reconnect attempts are exhausted, or ctx is cancelled.
// Exhausted retries surface on the snapshot as Error; the registration
// itself is never dropped here.
func (o *Observable) Run(ctx context.Context) {
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  o.opts.MaxReconnectAttempts,
		InitialDelay: o.opts.ReconnectDelay,
		MaxDelay:     o.opts.SilenceTimeout,
		OnRetry: func(n uint, err error) {
			o.update(func(s *Snapshot) {
				s.IsConnected = false
				s.IsReconnecting = true
				s.ReconnectAttempts = int(n)
			})
			o.logger.Warn().
				Err(err).
				Str("transaction_id", o.transactionID).
				Uint("attempt", n).
				Msg("Reconnecting event stream")
		},
	}, func() error {
		return o.stream(ctx)
	})

	if err != nil && ctx.Err() == nil {
		o.update(func(s *Snapshot) {
			s.IsConnected = false
			s.IsReconnecting = false
			s.Error = err.Error()
		})
	}
}

// stream runs a single connection. A nil return means the stream ended
// deliberately (terminal status, server error event, or shutdown) and no
// reconnect is wanted.
func (o *Observable) stream(ctx context.Context) error {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	url := fmt.Sprintf("%s/api/v1/transactions/%s/events", o.baseURL, o.transactionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	o.update(func(s *Snapshot) {
		s.IsConnected = true
		s.IsReconnecting = false
		s.ReconnectAttempts = 0
		s.Error = ""
	})

	// Silence watchdog: no event or heartbeat inside the timeout means the
	// connection is gone even if the transport has not noticed yet.
	watchdog := time.AfterFunc(o.opts.SilenceTimeout, cancelStream)
	defer watchdog.Stop()

	var eventName string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			watchdog.Reset(o.opts.SilenceTimeout)
			data := strings.TrimPrefix(line, "data: ")
			stop, err := o.handleFrame(eventName, data)
			if err != nil {
				return err
			}
			if stop {
				o.update(func(s *Snapshot) { s.IsConnected = false })
				return nil
			}
		}
	}

	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done || ctx.Err() != nil {
		o.update(func(s *Snapshot) { s.IsConnected = false })
		return nil
	}

	o.update(func(s *Snapshot) { s.IsConnected = false })
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed unexpectedly")
}

func (o *Observable) handleFrame(eventName, data string) (stop bool, err error) {
	switch eventName {
	case "status":
		var ev statusEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, fmt.Errorf("decode status event: %w", err)
		}
		o.update(func(s *Snapshot) {
			s.Status = ev.Status
			s.Progress = ev.Progress
			s.Error = ev.Error
		})
		if isTerminalStatus(ev.Status) {
			o.markDone()
			return true, nil
		}
	case "error":
		var ev errorEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, fmt.Errorf("decode error event: %w", err)
		}
		o.update(func(s *Snapshot) { s.Error = ev.Error })
		o.markDone()
		return true, nil
	case "heartbeat":
		// Watchdog already reset by the caller.
	}
	return false, nil
}

// Stop makes the next stream exit report a deliberate close.
func (o *Observable) Stop() {
	o.markDone()
}

func (o *Observable) markDone() {
	o.mu.Lock()
	o.done = true
	o.mu.Unlock()
}

func (o *Observable) update(mutate func(*Snapshot)) {
	o.mu.Lock()
	mutate(&o.snap)
	snap := o.snap
	o.mu.Unlock()
	if o.onChange != nil {
		o.onChange(snap)
	}
}

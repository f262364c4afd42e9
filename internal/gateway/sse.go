package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// eventBuffer bounds the per-connection mailbox. A transaction emits at
// most 2 + 2*maxRetries + 1 transitions, so the buffer never fills for
// any sane retry budget.
const eventBuffer = 64

// Subscriber is the slice of the Manager the gateway needs. Implemented
// by manager.Manager.
type Subscriber interface {
	Subscribe(ctx context.Context, id string, onUpdate func(transaction.Event)) (func(), error)
}

// Gateway turns Manager subscriptions into one-directional Server-Sent
// Event streams, one connection per transaction id. It is read-only with
// respect to transaction records: client disconnects release resources
// but never cancel the underlying transaction.
type Gateway struct {
	manager Subscriber
	cfg     config.StreamingConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(manager Subscriber, cfg config.StreamingConfig, logger zerolog.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleEvents serves GET /transactions/{id}/events.
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Validate the id format before touching the store, bounding load from
	// malformed requests.
	if err := transaction.ValidateID(id); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "invalid_id"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Event streams outlive any fixed write deadline.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	events := make(chan transaction.Event, eventBuffer)
	unsubscribe, err := g.manager.Subscribe(r.Context(), id, func(ev transaction.Event) {
		select {
		case events <- ev:
		case <-r.Context().Done():
		}
	})
	if err != nil {
		// Explicit error event then closure, never a silent hang.
		g.writeErrorEvent(w, flusher, id, err)
		return
	}
	defer unsubscribe()

	g.metrics.ActiveStreams.Inc()
	defer g.metrics.ActiveStreams.Dec()
	g.logger.Debug().Str("transaction_id", id).Msg("Event stream opened")

	heartbeat := time.NewTicker(g.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client went away: release resources, leave the transaction alone.
			g.logger.Debug().Str("transaction_id", id).Msg("Event stream client disconnected")
			return

		case ev := <-events:
			if err := g.writeEvent(w, flusher, "status", ev); err != nil {
				return
			}
			if ev.Status == transaction.StatusCompleted ||
				ev.Status == transaction.StatusFailed ||
				ev.Status == transaction.StatusCancelled {
				// Hold the stream open briefly so the final event flushes,
				// then close from the server side.
				select {
				case <-time.After(g.cfg.TerminalGrace):
				case <-r.Context().Done():
				}
				return
			}

		case <-heartbeat.C:
			hb := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}
			if err := g.writeEvent(w, flusher, "heartbeat", hb); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	g.metrics.StreamEventsTotal.WithLabelValues(event).Inc()
	return nil
}

func (g *Gateway) writeErrorEvent(w http.ResponseWriter, flusher http.Flusher, id string, err error) {
	code := "internal_error"
	msg := "failed to load transaction"
	if errors.Is(err, domainErrors.ErrTransactionNotFound) {
		code = "not_found"
		msg = "transaction not found"
	} else {
		g.logger.Error().Err(err).Str("transaction_id", id).Msg("Event stream subscribe failed")
	}
	g.writeEvent(w, flusher, "error", map[string]string{
		"transaction_id": id,
		"code":           code,
		"error":          msg,
	})
}

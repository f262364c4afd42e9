package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber scripts the Subscribe behavior: an optional error, a
// snapshot, and a stream of follow-up events.
type fakeSubscriber struct {
	err      error
	snapshot transaction.Event
	follow   chan transaction.Event
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, id string, onUpdate func(transaction.Event)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	onUpdate(f.snapshot)
	if f.follow != nil {
		go func() {
			for ev := range f.follow {
				onUpdate(ev)
			}
		}()
	}
	return func() {}, nil
}

func newTestGateway(sub Subscriber) *Gateway {
	cfg := config.StreamingConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		TerminalGrace:     10 * time.Millisecond,
	}
	return New(sub, cfg, zerolog.Nop(), observability.NewMetrics("test", prometheus.NewRegistry()))
}

func newTestServer(g *Gateway) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/api/v1/transactions/{id}/events", g.HandleEvents)
	return httptest.NewServer(r)
}

type sseFrame struct {
	event string
	data  string
}

// readFrames consumes frames from the stream until it closes or max
// frames arrive.
func readFrames(t *testing.T, resp *http.Response, max int) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			frames = append(frames, sseFrame{event: event, data: strings.TrimPrefix(line, "data: ")})
			if len(frames) >= max {
				return frames
			}
		}
	}
	return frames
}

func queuedEvent(id string) transaction.Event {
	return transaction.Event{
		TransactionID: id,
		Status:        transaction.StatusQueued,
		Progress:      10,
		Timestamp:     time.Now(),
	}
}

func TestHandleEvents_MalformedIDRejectedBeforeStore(t *testing.T) {
	sub := &fakeSubscriber{err: domainErrors.ErrStoreUnavailable}
	srv := newTestServer(newTestGateway(sub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/transactions/not-a-valid-id/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_id", body["code"])
}

func TestHandleEvents_UnknownIDSendsErrorEventThenCloses(t *testing.T) {
	sub := &fakeSubscriber{err: domainErrors.ErrTransactionNotFound}
	srv := newTestServer(newTestGateway(sub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/transactions/tx_doesnotexist1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(t, resp, 10)
	require.Len(t, frames, 1, "a single error event, then closure")
	assert.Equal(t, "error", frames[0].event)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &payload))
	assert.Equal(t, "not_found", payload["code"])
	assert.Equal(t, "tx_doesnotexist1", payload["transaction_id"])
}

func TestHandleEvents_SnapshotDeliveredFirst(t *testing.T) {
	id := "tx_aaaaaaaa0001"
	sub := &fakeSubscriber{
		snapshot: queuedEvent(id),
		follow:   make(chan transaction.Event, 4),
	}
	srv := newTestServer(newTestGateway(sub))
	defer srv.Close()

	sub.follow <- transaction.Event{TransactionID: id, Status: transaction.StatusProcessing, Progress: 50}
	sub.follow <- transaction.Event{TransactionID: id, Status: transaction.StatusCompleted, Progress: 100}
	close(sub.follow)

	resp, err := http.Get(srv.URL + "/api/v1/transactions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(t, resp, 3)
	require.Len(t, frames, 3)

	var statuses []string
	for _, f := range frames {
		require.Equal(t, "status", f.event)
		var ev transaction.Event
		require.NoError(t, json.Unmarshal([]byte(f.data), &ev))
		statuses = append(statuses, string(ev.Status))
	}
	assert.Equal(t, []string{"queued", "processing", "completed"}, statuses)
}

func TestHandleEvents_TerminalStatusClosesStream(t *testing.T) {
	id := "tx_aaaaaaaa0001"
	sub := &fakeSubscriber{
		snapshot: transaction.Event{TransactionID: id, Status: transaction.StatusCancelled, Progress: 0},
	}
	srv := newTestServer(newTestGateway(sub))
	defer srv.Close()

	start := time.Now()
	resp, err := http.Get(srv.URL + "/api/v1/transactions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The stream ends on its own after the terminal event and grace period.
	frames := readFrames(t, resp, 10)
	elapsed := time.Since(start)

	require.Len(t, frames, 1)
	assert.Equal(t, "status", frames[0].event)
	assert.Less(t, elapsed, 5*time.Second, "server must close, not hang")
}

func TestHandleEvents_HeartbeatsKeepStreamAlive(t *testing.T) {
	id := "tx_aaaaaaaa0001"
	sub := &fakeSubscriber{snapshot: queuedEvent(id)}
	srv := newTestServer(newTestGateway(sub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/transactions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(t, resp, 3)
	require.Len(t, frames, 3)
	assert.Equal(t, "status", frames[0].event)
	assert.Equal(t, "heartbeat", frames[1].event)
	assert.Equal(t, "heartbeat", frames[2].event)
}

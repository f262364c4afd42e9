package controller

import (
	"net/http"

	"github.com/cassiomorais/deploytrack/internal/domain/transaction"
	"github.com/cassiomorais/deploytrack/internal/manager"
	"github.com/go-chi/chi/v5"
)

// TransactionController handles transaction HTTP requests.
type TransactionController struct {
	manager *manager.Manager
}

// NewTransactionController creates a new TransactionController.
func NewTransactionController(m *manager.Manager) *TransactionController {
	return &TransactionController{manager: m}
}

// Enqueue handles POST /api/v1/transactions
func (h *TransactionController) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.manager.Enqueue(r.Context(), req.Type, req.Payload, req.Metadata, transaction.Priority(req.Priority))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, FromRecord(rec))
}

// Get handles GET /api/v1/transactions/{id}
func (h *TransactionController) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := transaction.ValidateID(id); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// List handles GET /api/v1/transactions
func (h *TransactionController) List(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = transaction.IDPattern
	}
	status := r.URL.Query().Get("status")

	records, err := h.manager.List(r.Context(), pattern)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*TransactionResponse, 0, len(records))
	for _, rec := range records {
		if status != "" && string(rec.Status) != status {
			continue
		}
		resp = append(resp, FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /api/v1/transactions/{id}
func (h *TransactionController) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := transaction.ValidateID(id); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.manager.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

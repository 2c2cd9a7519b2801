package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyotek/custody-core/internal/custody"
	"github.com/odyotek/custody-core/internal/device"
)

// recordMovementRequest is the JSON body for POST /devices/{id}/movements.
type recordMovementRequest struct {
	ToState   string `json:"to_state"`
	Operation string `json:"operation"`
	Notes     string `json:"notes,omitempty"`
}

// bulkAcquireRequest is the JSON body for POST /movements/bulk-acquire.
// Refs may be barcodes (the scanner path) or device IDs.
type bulkAcquireRequest struct {
	Refs  []string `json:"refs"`
	Notes string   `json:"notes,omitempty"`
}

// handleRecordMovement appends a possession change to the device's ledger.
func (s *Server) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	actor := requestActor(r)
	dev, err := s.machine.RecordMovement(r.Context(), custody.Input{
		DeviceID:  id,
		ToState:   device.PossessionState(req.ToState),
		Operation: custody.Operation(req.Operation),
		Notes:     req.Notes,
		Actor:     actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "movement", "device", id, actor, map[string]any{
		"operation": req.Operation,
		"to_state":  req.ToState,
	})

	writeJSON(w, http.StatusOK, dev)
}

// handleBulkAcquire records acquisition movements for a batch of scanned
// devices. Per-item failures are reported in the response, never as an
// HTTP error: a shipment scan with one bad barcode still lands the rest.
func (s *Server) handleBulkAcquire(w http.ResponseWriter, r *http.Request) {
	var req bulkAcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Refs) == 0 {
		writeBadRequest(w, "refs is required")
		return
	}

	actor := requestActor(r)
	result, err := s.machine.BulkAcquire(r.Context(), req.Refs, req.Notes, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "bulk_acquire", "movement", "", actor, map[string]any{
		"requested": len(req.Refs),
		"succeeded": result.SuccessCount,
		"failed":    result.FailureCount,
	})

	writeJSON(w, http.StatusOK, result)
}

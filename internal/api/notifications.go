package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyotek/custody-core/internal/notification"
)

// generateNotificationRequest is the JSON body for POST /notifications.
type generateNotificationRequest struct {
	DeviceIDs       []string   `json:"device_ids"`
	PatientID       string     `json:"patient_id,omitempty"`
	PrescriptionID  string     `json:"prescription_id,omitempty"`
	DeliveredTo     string     `json:"delivered_to,omitempty"`
	DeliveryAddress string     `json:"delivery_address,omitempty"`
	DeliveryDate    *time.Time `json:"delivery_date,omitempty"`
	DocumentRefs    []string   `json:"document_refs,omitempty"`
}

// cancelNotificationRequest is the JSON body for POST /notifications/{id}/cancel.
type cancelNotificationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleListNotifications returns notifications matching the query filters.
//
// Query parameters:
//   - status: pending, completed or failed
//   - patient_id, device_id: narrow to a patient or device
//   - cancelled: "true" or "false"
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := notification.Filter{
		Status:    notification.Status(q.Get("status")),
		PatientID: q.Get("patient_id"),
		DeviceID:  q.Get("device_id"),
		Limit:     intQuery(q.Get("limit")),
		Offset:    intQuery(q.Get("offset")),
	}
	switch q.Get("cancelled") {
	case "true":
		v := true
		filter.Cancelled = &v
	case "false":
		v := false
		filter.Cancelled = &v
	}

	notifications, err := s.generator.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// handleGenerateNotification creates a delivery notification for the
// given devices. Re-requesting already covered devices returns the
// existing notification unchanged.
func (s *Server) handleGenerateNotification(w http.ResponseWriter, r *http.Request) {
	var req generateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.generator.Generate(r.Context(), notification.Input{
		DeviceIDs:       req.DeviceIDs,
		PatientID:       req.PatientID,
		PrescriptionID:  req.PrescriptionID,
		DeliveredTo:     req.DeliveredTo,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryDate:    req.DeliveryDate,
		DocumentRefs:    req.DocumentRefs,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "notify", "notification", n.ID, requestActor(r),
		map[string]any{"devices": len(n.DeviceIDs)})

	writeJSON(w, http.StatusOK, n)
}

// handleGetNotification returns a single notification by ID.
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.generator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleCancelNotification soft-cancels a notification. Possession is
// not reverted; that takes a manual correction on the ledger.
func (s *Server) handleCancelNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.generator.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "cancel", "notification", id, requestActor(r),
		map[string]any{"reason": req.Reason})

	writeJSON(w, http.StatusOK, n)
}

// handleMissingDevices lists consumer-held devices with no active
// notification.
func (s *Server) handleMissingDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.generator.MissingDevices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleReconcileNotifications runs the reconciliation sweep, generating
// notifications for consumer-held devices that lack one.
func (s *Server) handleReconcileNotifications(w http.ResponseWriter, r *http.Request) {
	actor := requestActor(r)

	result, err := s.generator.ReconcileMissing(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "reconcile", "notification", "", actor, map[string]any{
		"succeeded": result.SuccessCount,
		"failed":    result.FailureCount,
	})

	writeJSON(w, http.StatusOK, result)
}

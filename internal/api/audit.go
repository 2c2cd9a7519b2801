package api

import (
	"net/http"

	"github.com/odyotek/custody-core/internal/audit"
)

// handleListAudit returns audit log entries matching the query filters.
//
// Query parameters:
//   - action: register, movement, bulk_acquire, notify, cancel, reconcile, archive
//   - entity_type: device, movement, notification
//   - entity_id: specific entity
//   - actor: acting subject
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	result, err := s.audit.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("actor"),
		Limit:      intQuery(q.Get("limit")),
		Offset:     intQuery(q.Get("offset")),
	})
	if err != nil {
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyotek/custody-core/internal/device"
)

// registerDeviceRequest is the JSON body for POST /devices.
type registerDeviceRequest struct {
	Barcode          string `json:"barcode"`
	SerialNumber     string `json:"serial_number"`
	DeviceType       string `json:"device_type"`
	Model            string `json:"model,omitempty"`
	ManufacturerName string `json:"manufacturer_name,omitempty"`
	SupplierName     string `json:"supplier_name,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// handleListDevices returns devices in a possession state, with optional
// filters.
//
// Query parameters:
//   - state: possession state (required unless search is given)
//   - search: free-text search over barcode, serial, model, supplier
//   - supplier, manufacturer, patient_id: narrow a state listing
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := intQuery(q.Get("limit"))
	offset := intQuery(q.Get("offset"))

	if term := q.Get("search"); term != "" {
		devices, err := s.devices.Search(ctx, term, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	state := q.Get("state")
	if state == "" {
		writeBadRequest(w, "state or search query parameter is required")
		return
	}

	devices, err := s.devices.ListByState(ctx, device.PossessionState(state), device.Filter{
		Supplier:     q.Get("supplier"),
		Manufacturer: q.Get("manufacturer"),
		PatientID:    q.Get("patient_id"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleRegisterDevice registers a device, or refreshes its descriptive
// fields when the barcode is already known. Possession is untouched on
// re-registration; only the custody ledger moves devices.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		Barcode:          req.Barcode,
		SerialNumber:     req.SerialNumber,
		DeviceType:       req.DeviceType,
		Model:            optionalField(req.Model),
		ManufacturerName: optionalField(req.ManufacturerName),
		SupplierName:     optionalField(req.SupplierName),
		Notes:            optionalField(req.Notes),
	}

	if err := s.devices.Upsert(r.Context(), dev); err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "register", "device", dev.ID, requestActor(r),
		map[string]any{"barcode": dev.Barcode})

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns device counts per possession state.
func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.devices.CountByState(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// handleGetDevice returns a single device by ID or barcode.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	ctx := r.Context()

	dev, err := s.devices.GetByID(ctx, ref)
	if err != nil {
		// Scanners hand the UI barcodes, not internal IDs.
		dev, err = s.devices.GetByBarcode(ctx, ref)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns the device's movement ledger, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := intQuery(r.URL.Query().Get("limit"))

	history, err := s.machine.GetHistory(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"movements": history, "count": len(history)})
}

// handleArchiveDevice retires a device from active listings. The ledger
// rows stay.
func (s *Server) handleArchiveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.Archive(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordAudit(r.Context(), "archive", "device", id, requestActor(r), nil)

	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}

// intQuery parses a pagination query parameter, treating garbage as 0 so
// repositories fall back to their defaults.
func intQuery(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// optionalField converts an empty string to nil for optional JSON fields.
func optionalField(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

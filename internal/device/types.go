package device

import "time"

// Device represents a tracked medical device and the cached projection of
// its current possession. This matches the devices table in
// migrations/20260610_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID           string `json:"id"`
	Barcode      string `json:"barcode"`
	SerialNumber string `json:"serial_number"`

	// Classification
	DeviceType       string  `json:"device_type"`
	Model            *string `json:"model,omitempty"`
	ManufacturerName *string `json:"manufacturer_name,omitempty"`
	SupplierName     *string `json:"supplier_name,omitempty"`

	// Possession projection. Written only inside the custody transaction
	// that appends the corresponding movement row.
	PossessionState PossessionState `json:"possession_state"`
	Version         int64           `json:"version"`
	LastMovementAt  *time.Time      `json:"last_movement_at,omitempty"`

	// Consumer linkage, set when the device is assigned to a patient.
	LinkedPatientID      *string `json:"linked_patient_id,omitempty"`
	LinkedPrescriptionID *string `json:"linked_prescription_id,omitempty"`

	// Metadata
	Notes    *string `json:"notes,omitempty"`
	Archived bool    `json:"archived"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PossessionState represents who currently holds a device.
type PossessionState string

// Possession states. A device starts with the supplier, is acquired into
// the distribution center, and is finally delivered to the consumer.
const (
	StateWithSupplier PossessionState = "with_supplier"
	StateWithCenter   PossessionState = "with_center"
	StateWithConsumer PossessionState = "with_consumer"
)

// AllPossessionStates returns all valid possession state values.
func AllPossessionStates() []PossessionState {
	return []PossessionState{
		StateWithSupplier, StateWithCenter, StateWithConsumer,
	}
}

// Filter narrows ListByState results.
type Filter struct {
	Supplier     string
	Manufacturer string
	PatientID    string
	Limit        int
	Offset       int
}

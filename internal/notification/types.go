package notification

import "time"

// Status values for a notification's finalization lifecycle.
type Status string

// Notification statuses. A notification starts pending inside the
// creation transaction, then finalizes to completed; failed rows retain
// their failure_reason for operator review.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Notification represents a consumer delivery notification. This matches
// the notifications table in the initial schema migration.
type Notification struct {
	ID              string  `json:"id"`
	PatientID       *string `json:"patient_id,omitempty"`
	PrescriptionID  *string `json:"prescription_id,omitempty"`
	DeliveredTo     *string `json:"delivered_to,omitempty"`
	DeliveryAddress *string `json:"delivery_address,omitempty"`

	DeliveryDate     *time.Time `json:"delivery_date,omitempty"`
	NotificationDate time.Time  `json:"notification_date"`

	Status        Status  `json:"status"`
	FailureReason *string `json:"failure_reason,omitempty"`

	Cancelled    bool       `json:"cancelled"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`

	// DeviceIDs are the devices this notification covers.
	DeviceIDs []string `json:"device_ids,omitempty"`

	// DocumentRefs are opaque handles to attached delivery documents.
	DocumentRefs []string `json:"document_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input describes a notification generation request.
type Input struct {
	DeviceIDs       []string   `json:"device_ids"`
	PatientID       string     `json:"patient_id,omitempty"`
	PrescriptionID  string     `json:"prescription_id,omitempty"`
	DeliveredTo     string     `json:"delivered_to,omitempty"`
	DeliveryAddress string     `json:"delivery_address,omitempty"`
	DeliveryDate    *time.Time `json:"delivery_date,omitempty"`
	DocumentRefs    []string   `json:"document_refs,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Status    Status
	PatientID string
	DeviceID  string
	Cancelled *bool
	Limit     int
	Offset    int
}

// ReconcileResult reports a ReconcileMissing sweep.
type ReconcileResult struct {
	Items        []ReconcileItem `json:"items"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
}

// ReconcileItem is the per-device outcome within a ReconcileResult.
type ReconcileItem struct {
	DeviceID       string `json:"device_id"`
	NotificationID string `json:"notification_id,omitempty"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

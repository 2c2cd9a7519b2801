package custody

import (
	"time"

	"github.com/odyotek/custody-core/internal/device"
)

// Operation identifies the business action behind a movement.
type Operation string

// Movement operations. Each operation is bound to exactly one edge of
// the possession state machine.
const (
	OperationAcquisition      Operation = "acquisition"
	OperationDelivery         Operation = "delivery"
	OperationManualCorrection Operation = "manual_correction"
)

// AllOperations returns all valid operation values.
func AllOperations() []Operation {
	return []Operation{
		OperationAcquisition, OperationDelivery, OperationManualCorrection,
	}
}

// transition is one legal edge of the state machine.
type transition struct {
	From device.PossessionState
	To   device.PossessionState
}

// legalTransitions binds each legal edge to its operation. An edge absent
// from this map is illegal regardless of the requested operation.
var legalTransitions = map[transition]Operation{
	{device.StateWithSupplier, device.StateWithCenter}: OperationAcquisition,
	{device.StateWithCenter, device.StateWithConsumer}: OperationDelivery,
	{device.StateWithConsumer, device.StateWithCenter}: OperationManualCorrection,
}

// MovementEntry represents a single row of the custody ledger.
type MovementEntry struct {
	ID         string                 `json:"id"`
	DeviceID   string                 `json:"device_id"`
	FromState  device.PossessionState `json:"from_state"`
	ToState    device.PossessionState `json:"to_state"`
	Operation  Operation              `json:"operation"`
	Notes      string                 `json:"notes,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Input describes a requested movement.
type Input struct {
	DeviceID  string                 `json:"device_id"`
	ToState   device.PossessionState `json:"to_state"`
	Operation Operation              `json:"operation"`
	Notes     string                 `json:"notes,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
}

// BulkResult reports the outcome of a bulk acquisition run.
type BulkResult struct {
	Items        []BulkItem `json:"items"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
}

// BulkItem is the per-reference outcome within a BulkResult.
type BulkItem struct {
	Ref      string `json:"ref"`
	DeviceID string `json:"device_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

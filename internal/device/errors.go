package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrBarcodeConflict is returned when an upsert presents a barcode that
	// already exists with a different, non-empty serial number.
	ErrBarcodeConflict = errors.New("device: barcode already registered with different serial")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidBarcode is returned when a barcode is empty or malformed.
	ErrInvalidBarcode = errors.New("device: invalid barcode")

	// ErrInvalidSerial is returned when a serial number is empty or too long.
	ErrInvalidSerial = errors.New("device: invalid serial number")

	// ErrInvalidDeviceType is returned when a device type is empty or too long.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrInvalidPossessionState is returned when a possession state value
	// is not recognised.
	ErrInvalidPossessionState = errors.New("device: invalid possession state")

	// ErrDeviceArchived is returned when an operation targets an archived device.
	ErrDeviceArchived = errors.New("device: archived")
)

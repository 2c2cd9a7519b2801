package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxBarcodeLength = 64
	maxSerialLength  = 64
	maxTypeLength    = 100
	maxTextLength    = 200
	maxNotesLength   = 2000

	// barcodePattern accepts the GS1-style identifiers used on device
	// labels: digits, uppercase letters and hyphens.
	barcodePattern = `^[A-Z0-9][A-Z0-9-]*$`
)

var barcodeRegex = regexp.MustCompile(barcodePattern)

// Pre-computed validation set for O(1) lookups.
var validStates map[PossessionState]struct{}

func init() {
	validStates = make(map[PossessionState]struct{}, len(AllPossessionStates()))
	for _, s := range AllPossessionStates() {
		validStates[s] = struct{}{}
	}
}

// Validate performs boundary validation on a device.
// Returns an error describing the first validation failure found.
func Validate(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateBarcode(d.Barcode); err != nil {
		return err
	}

	serial := strings.TrimSpace(d.SerialNumber)
	if serial == "" {
		return fmt.Errorf("%w: serial number cannot be empty", ErrInvalidSerial)
	}
	if len(serial) > maxSerialLength {
		return fmt.Errorf("%w: serial number exceeds %d characters", ErrInvalidSerial, maxSerialLength)
	}

	deviceType := strings.TrimSpace(d.DeviceType)
	if deviceType == "" {
		return fmt.Errorf("%w: device type cannot be empty", ErrInvalidDeviceType)
	}
	if len(deviceType) > maxTypeLength {
		return fmt.Errorf("%w: device type exceeds %d characters", ErrInvalidDeviceType, maxTypeLength)
	}

	// Possession state is only validated when set; a zero value means the
	// repository assigns the initial with_supplier state on insert.
	if d.PossessionState != "" {
		if err := ValidatePossessionState(d.PossessionState); err != nil {
			return err
		}
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"model", d.Model},
		{"manufacturer_name", d.ManufacturerName},
		{"supplier_name", d.SupplierName},
	} {
		if field.value != nil && len(*field.value) > maxTextLength {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidDevice, field.name, maxTextLength)
		}
	}

	if d.Notes != nil && len(*d.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidDevice, maxNotesLength)
	}

	return nil
}

// ValidateBarcode checks if a barcode is valid.
func ValidateBarcode(barcode string) error {
	if barcode == "" {
		return fmt.Errorf("%w: barcode cannot be empty", ErrInvalidBarcode)
	}
	if len(barcode) > maxBarcodeLength {
		return fmt.Errorf("%w: barcode exceeds %d characters", ErrInvalidBarcode, maxBarcodeLength)
	}
	if !barcodeRegex.MatchString(barcode) {
		return fmt.Errorf("%w: barcode must be uppercase alphanumeric with hyphens", ErrInvalidBarcode)
	}
	return nil
}

// ValidatePossessionState checks if a possession state is valid.
// Uses O(1) map lookup for efficiency.
func ValidatePossessionState(state PossessionState) error {
	if _, ok := validStates[state]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidPossessionState, state)
}

// GenerateID creates a new device ID. The prefix makes the entity type
// readable in logs and foreign keys.
func GenerateID() string {
	return "dev-" + uuid.NewString()
}

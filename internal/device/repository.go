package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Query limits for list and search operations.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Upsert inserts or updates a device keyed on barcode.
	//
	// A new barcode gets a fresh row in the initial with_supplier state
	// with version 0. A known barcode has its descriptive fields updated;
	// possession_state, version and last_movement_at are never touched.
	// Returns ErrBarcodeConflict when the barcode already exists with a
	// different serial number.
	Upsert(ctx context.Context, device *Device) error

	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByBarcode retrieves a device by its barcode.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByBarcode(ctx context.Context, barcode string) (*Device, error)

	// FindBySerial retrieves all devices with the given serial number.
	// Serial numbers are not unique across manufacturers.
	FindBySerial(ctx context.Context, serial string) ([]Device, error)

	// ListByState retrieves devices in a possession state, narrowed by filter.
	ListByState(ctx context.Context, state PossessionState, filter Filter) ([]Device, error)

	// CountByState returns the number of devices in each possession state.
	CountByState(ctx context.Context) (map[PossessionState]int64, error)

	// Search performs a case-insensitive substring search over barcode,
	// serial, model, supplier and manufacturer. Result size is clamped.
	Search(ctx context.Context, q string, limit int) ([]Device, error)

	// LinkPatient records the consumer linkage for a delivered device.
	// Returns ErrDeviceNotFound if the device does not exist.
	LinkPatient(ctx context.Context, id, patientID, prescriptionID string) error

	// Archive soft-archives a device. Archived devices keep their ledger
	// history but are excluded from movement operations.
	// Returns ErrDeviceNotFound if the device does not exist.
	Archive(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// deviceColumns is the shared SELECT column list for scanDeviceRow.
const deviceColumns = `id, barcode, serial_number, device_type, model,
	manufacturer_name, supplier_name, possession_state, version,
	last_movement_at, linked_patient_id, linked_prescription_id,
	notes, archived, created_at, updated_at`

// Upsert inserts or updates a device keyed on barcode.
func (r *SQLiteRepository) Upsert(ctx context.Context, device *Device) error {
	if err := Validate(device); err != nil {
		return err
	}

	existing, err := r.GetByBarcode(ctx, device.Barcode)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	now := time.Now().UTC()

	if existing == nil {
		if device.ID == "" {
			device.ID = GenerateID()
		}
		device.PossessionState = StateWithSupplier
		device.Version = 0
		device.CreatedAt = now
		device.UpdatedAt = now

		query := `
			INSERT INTO devices (
				id, barcode, serial_number, device_type, model,
				manufacturer_name, supplier_name, possession_state, version,
				linked_patient_id, linked_prescription_id, notes, archived,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err = r.db.ExecContext(ctx, query,
			device.ID,
			device.Barcode,
			device.SerialNumber,
			device.DeviceType,
			nullableString(device.Model),
			nullableString(device.ManufacturerName),
			nullableString(device.SupplierName),
			string(device.PossessionState),
			device.Version,
			nullableString(device.LinkedPatientID),
			nullableString(device.LinkedPrescriptionID),
			nullableString(device.Notes),
			boolToInt(device.Archived),
			device.CreatedAt.Format(time.RFC3339),
			device.UpdatedAt.Format(time.RFC3339),
		)
		if err == nil {
			return nil
		}
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("inserting device: %w", err)
		}

		// Lost an insert race on the barcode. Re-read the winner's row and
		// degrade to the descriptive update; a conflict is only reported
		// when the serials genuinely disagree.
		existing, err = r.GetByBarcode(ctx, device.Barcode)
		if err != nil {
			return fmt.Errorf("re-reading device after insert race: %w", err)
		}
	}

	if existing.SerialNumber != device.SerialNumber {
		return ErrBarcodeConflict
	}

	// Descriptive fields only. The possession projection belongs to the
	// custody ledger transaction.
	query := `
		UPDATE devices SET
			device_type = ?, model = ?, manufacturer_name = ?,
			supplier_name = ?, notes = ?, updated_at = ?
		WHERE barcode = ?`

	_, err = r.db.ExecContext(ctx, query,
		device.DeviceType,
		nullableString(device.Model),
		nullableString(device.ManufacturerName),
		nullableString(device.SupplierName),
		nullableString(device.Notes),
		now.Format(time.RFC3339),
		device.Barcode,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	// Reflect the stored identity and projection back to the caller.
	device.ID = existing.ID
	device.PossessionState = existing.PossessionState
	device.Version = existing.Version
	device.LastMovementAt = existing.LastMovementAt
	device.CreatedAt = existing.CreatedAt
	device.UpdatedAt = now

	return nil
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByBarcode retrieves a device by its barcode.
func (r *SQLiteRepository) GetByBarcode(ctx context.Context, barcode string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE barcode = ?`

	row := r.db.QueryRowContext(ctx, query, barcode)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by barcode: %w", err)
	}
	return device, nil
}

// FindBySerial retrieves all devices with the given serial number.
func (r *SQLiteRepository) FindBySerial(ctx context.Context, serial string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE serial_number = ?
		ORDER BY barcode`

	return r.queryDevices(ctx, query, serial)
}

// ListByState retrieves devices in a possession state, narrowed by filter.
func (r *SQLiteRepository) ListByState(ctx context.Context, state PossessionState, filter Filter) ([]Device, error) {
	if err := ValidatePossessionState(state); err != nil {
		return nil, err
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE possession_state = ? AND archived = 0`
	args := []any{string(state)}

	if filter.Supplier != "" {
		query += " AND supplier_name = ?"
		args = append(args, filter.Supplier)
	}
	if filter.Manufacturer != "" {
		query += " AND manufacturer_name = ?"
		args = append(args, filter.Manufacturer)
	}
	if filter.PatientID != "" {
		query += " AND linked_patient_id = ?"
		args = append(args, filter.PatientID)
	}

	query += " ORDER BY barcode LIMIT ? OFFSET ?"
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	return r.queryDevices(ctx, query, args...)
}

// CountByState returns the number of devices in each possession state.
// States with no devices are present in the result with a zero count.
func (r *SQLiteRepository) CountByState(ctx context.Context) (map[PossessionState]int64, error) {
	counts := make(map[PossessionState]int64, len(AllPossessionStates()))
	for _, s := range AllPossessionStates() {
		counts[s] = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT possession_state, COUNT(*) FROM devices
		 WHERE archived = 0
		 GROUP BY possession_state`)
	if err != nil {
		return nil, fmt.Errorf("counting devices by state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		counts[PossessionState(state)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state counts: %w", err)
	}

	return counts, nil
}

// Search performs a case-insensitive substring search over barcode, serial,
// model, supplier and manufacturer.
func (r *SQLiteRepository) Search(ctx context.Context, q string, limit int) ([]Device, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"

	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE archived = 0 AND (
			LOWER(barcode) LIKE ? ESCAPE '\'
			OR LOWER(serial_number) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(model, '')) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(supplier_name, '')) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(manufacturer_name, '')) LIKE ? ESCAPE '\'
		)
		ORDER BY barcode
		LIMIT ?`

	return r.queryDevices(ctx, query,
		pattern, pattern, pattern, pattern, pattern, clampLimit(limit))
}

// LinkPatient records the consumer linkage for a delivered device.
func (r *SQLiteRepository) LinkPatient(ctx context.Context, id, patientID, prescriptionID string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET linked_patient_id = ?, linked_prescription_id = ?, updated_at = ?
		 WHERE id = ?`,
		sql.NullString{String: patientID, Valid: patientID != ""},
		sql.NullString{String: prescriptionID, Valid: prescriptionID != ""},
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("linking patient: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Archive soft-archives a device.
func (r *SQLiteRepository) Archive(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET archived = 1, updated_at = ? WHERE id = ?",
		now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("archiving device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var model, manufacturer, supplier sql.NullString
	var lastMovementAt sql.NullString
	var patientID, prescriptionID, notes sql.NullString
	var possessionState string
	var archived int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Barcode,
		&d.SerialNumber,
		&d.DeviceType,
		&model,
		&manufacturer,
		&supplier,
		&possessionState,
		&d.Version,
		&lastMovementAt,
		&patientID,
		&prescriptionID,
		&notes,
		&archived,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.PossessionState = PossessionState(possessionState)
	d.Archived = archived != 0

	if model.Valid {
		d.Model = &model.String
	}
	if manufacturer.Valid {
		d.ManufacturerName = &manufacturer.String
	}
	if supplier.Valid {
		d.SupplierName = &supplier.String
	}
	if patientID.Valid {
		d.LinkedPatientID = &patientID.String
	}
	if prescriptionID.Valid {
		d.LinkedPrescriptionID = &prescriptionID.String
	}
	if notes.Valid {
		d.Notes = &notes.String
	}

	if lastMovementAt.Valid {
		t, err := time.Parse(time.RFC3339, lastMovementAt.String)
		if err == nil {
			d.LastMovementAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// clampLimit applies the default and maximum list limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// escapeLike escapes LIKE wildcards in user-supplied search input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

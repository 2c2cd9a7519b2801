package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyotek/custody-core/internal/device"
)

// List limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository stores and retrieves delivery notifications.
type Repository interface {
	// Create inserts a notification with its device links and document
	// refs in one transaction. The partial unique index on active links
	// maps to ErrDuplicateNotification.
	Create(ctx context.Context, n *Notification) error

	// SetStatus finalizes a notification. failureReason is stored only
	// for StatusFailed and is never cleared once set.
	SetStatus(ctx context.Context, id string, status Status, failureReason string) error

	// GetByID retrieves a notification with its device ids and document refs.
	// Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Notification, error)

	// FindActiveByDevice returns the non-cancelled notification covering
	// a device, or ErrNotFound.
	FindActiveByDevice(ctx context.Context, deviceID string) (*Notification, error)

	// Cancel soft-cancels a notification and deactivates its device links.
	// Returns ErrAlreadyCancelled on repeat, ErrNotFound for unknown ids.
	Cancel(ctx context.Context, id, reason string) error

	// FindDevicesMissingNotification returns devices with the consumer
	// that have no active notification.
	FindDevicesMissingNotification(ctx context.Context) ([]device.Device, error)

	// List retrieves notifications matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Notification, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed notification repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts the notification row, its device links and document refs
// in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, n *Notification) error {
	if len(n.DeviceIDs) == 0 {
		return ErrNoDevices
	}

	if n.ID == "" {
		n.ID = "ntf-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if n.NotificationDate.IsZero() {
		n.NotificationDate = now
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning notification transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (
			id, patient_id, prescription_id, delivered_to, delivery_address,
			delivery_date, notification_date, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		nullableString(n.PatientID),
		nullableString(n.PrescriptionID),
		nullableString(n.DeliveredTo),
		nullableString(n.DeliveryAddress),
		nullableTime(n.DeliveryDate),
		n.NotificationDate.Format(time.RFC3339),
		string(n.Status),
		n.CreatedAt.Format(time.RFC3339),
		n.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	for _, deviceID := range n.DeviceIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO notification_devices (notification_id, device_id, active) VALUES (?, ?, 1)",
			n.ID, deviceID)
		if err != nil {
			// The partial unique index rejects a second active link for
			// the same device.
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: device %s", ErrDuplicateNotification, deviceID)
			}
			return fmt.Errorf("inserting notification device link: %w", err)
		}
	}

	for _, ref := range n.DocumentRefs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO notification_documents (notification_id, document_ref, added_at) VALUES (?, ?, ?)",
			n.ID, ref, now.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("inserting notification document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notification: %w", err)
	}

	return nil
}

// SetStatus finalizes a notification's status.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status, failureReason string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var result sql.Result
	var err error
	if status == StatusFailed && failureReason != "" {
		result, err = r.db.ExecContext(ctx,
			"UPDATE notifications SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?",
			string(status), failureReason, now, id)
	} else {
		// failure_reason survives status changes so operators can see why
		// an earlier attempt failed.
		result, err = r.db.ExecContext(ctx,
			"UPDATE notifications SET status = ?, updated_at = ? WHERE id = ?",
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("updating notification status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// notificationColumns is the shared SELECT column list for scanNotification.
const notificationColumns = `id, patient_id, prescription_id, delivered_to,
	delivery_address, delivery_date, notification_date, status,
	failure_reason, cancelled, cancelled_at, cancel_reason,
	created_at, updated_at`

// GetByID retrieves a notification with its device links and documents.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying notification: %w", err)
	}

	if err := r.loadAssociations(ctx, n); err != nil {
		return nil, err
	}

	return n, nil
}

// FindActiveByDevice returns the non-cancelled notification covering a device.
func (r *SQLiteRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE cancelled = 0 AND id = (
			SELECT notification_id FROM notification_devices
			WHERE device_id = ? AND active = 1
		 )`, deviceID)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying active notification: %w", err)
	}

	if err := r.loadAssociations(ctx, n); err != nil {
		return nil, err
	}

	return n, nil
}

// Cancel soft-cancels a notification and deactivates its device links.
func (r *SQLiteRepository) Cancel(ctx context.Context, id, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cancel transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var cancelled int
	err = tx.QueryRowContext(ctx,
		"SELECT cancelled FROM notifications WHERE id = ?", id).Scan(&cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying notification for cancel: %w", err)
	}
	if cancelled != 0 {
		return ErrAlreadyCancelled
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`UPDATE notifications
		 SET cancelled = 1, cancelled_at = ?, cancel_reason = ?, updated_at = ?
		 WHERE id = ?`,
		now, nullableStr(reason), now, id)
	if err != nil {
		return fmt.Errorf("cancelling notification: %w", err)
	}

	// Deactivating the links frees the devices for a future notification.
	_, err = tx.ExecContext(ctx,
		"UPDATE notification_devices SET active = 0 WHERE notification_id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivating notification device links: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cancel: %w", err)
	}

	return nil
}

// FindDevicesMissingNotification returns consumer-held devices with no
// active notification. These are the reconciliation sweep's work queue.
func (r *SQLiteRepository) FindDevicesMissingNotification(ctx context.Context) ([]device.Device, error) {
	query := `
		SELECT id, barcode, serial_number, device_type, model,
			manufacturer_name, supplier_name, possession_state, version,
			last_movement_at, linked_patient_id, linked_prescription_id,
			notes, archived, created_at, updated_at
		FROM devices
		WHERE possession_state = ? AND archived = 0
		  AND id NOT IN (
			SELECT device_id FROM notification_devices WHERE active = 1
		  )
		ORDER BY barcode`

	rows, err := r.db.QueryContext(ctx, query, string(device.StateWithConsumer))
	if err != nil {
		return nil, fmt.Errorf("querying devices missing notification: %w", err)
	}
	defer rows.Close()

	var devices []device.Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// List retrieves notifications matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PatientID != "" {
		conditions = append(conditions, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions,
			"id IN (SELECT notification_id FROM notification_devices WHERE device_id = ?)")
		args = append(args, filter.DeviceID)
	}
	if filter.Cancelled != nil {
		conditions = append(conditions, "cancelled = ?")
		args = append(args, boolToInt(*filter.Cancelled))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query += " ORDER BY notification_date DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}

	for i := range notifications {
		if err := r.loadAssociations(ctx, &notifications[i]); err != nil {
			return nil, err
		}
	}

	return notifications, nil
}

// loadAssociations fills DeviceIDs and DocumentRefs for a notification.
func (r *SQLiteRepository) loadAssociations(ctx context.Context, n *Notification) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id FROM notification_devices WHERE notification_id = ? ORDER BY device_id", n.ID)
	if err != nil {
		return fmt.Errorf("querying notification devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var deviceID string
		if err := rows.Scan(&deviceID); err != nil {
			return fmt.Errorf("scanning notification device: %w", err)
		}
		n.DeviceIDs = append(n.DeviceIDs, deviceID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating notification devices: %w", err)
	}

	docRows, err := r.db.QueryContext(ctx,
		"SELECT document_ref FROM notification_documents WHERE notification_id = ? ORDER BY document_ref", n.ID)
	if err != nil {
		return fmt.Errorf("querying notification documents: %w", err)
	}
	defer docRows.Close()

	for docRows.Next() {
		var ref string
		if err := docRows.Scan(&ref); err != nil {
			return fmt.Errorf("scanning notification document: %w", err)
		}
		n.DocumentRefs = append(n.DocumentRefs, ref)
	}
	return docRows.Err()
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotification scans a row or rows result into a Notification.
func scanNotification(scanner rowScanner) (*Notification, error) {
	var n Notification
	var patientID, prescriptionID, deliveredTo, deliveryAddress sql.NullString
	var deliveryDate, cancelledAt, failureReason, cancelReason sql.NullString
	var status string
	var cancelled int
	var notificationDate, createdAt, updatedAt string

	err := scanner.Scan(
		&n.ID,
		&patientID,
		&prescriptionID,
		&deliveredTo,
		&deliveryAddress,
		&deliveryDate,
		&notificationDate,
		&status,
		&failureReason,
		&cancelled,
		&cancelledAt,
		&cancelReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = Status(status)
	n.Cancelled = cancelled != 0

	if patientID.Valid {
		n.PatientID = &patientID.String
	}
	if prescriptionID.Valid {
		n.PrescriptionID = &prescriptionID.String
	}
	if deliveredTo.Valid {
		n.DeliveredTo = &deliveredTo.String
	}
	if deliveryAddress.Valid {
		n.DeliveryAddress = &deliveryAddress.String
	}
	if failureReason.Valid {
		n.FailureReason = &failureReason.String
	}
	if cancelReason.Valid {
		n.CancelReason = &cancelReason.String
	}

	if deliveryDate.Valid {
		t, err := time.Parse(time.RFC3339, deliveryDate.String)
		if err == nil {
			n.DeliveryDate = &t
		}
	}
	if cancelledAt.Valid {
		t, err := time.Parse(time.RFC3339, cancelledAt.String)
		if err == nil {
			n.CancelledAt = &t
		}
	}

	var parseErr error
	n.NotificationDate, parseErr = time.Parse(time.RFC3339, notificationDate)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing notification_date: %w", parseErr)
	}
	n.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	n.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &n, nil
}

// scanDeviceRow scans a devices row into a device.Device. Mirrors the
// column order of FindDevicesMissingNotification.
func scanDeviceRow(scanner rowScanner) (*device.Device, error) {
	var d device.Device
	var model, manufacturer, supplier sql.NullString
	var lastMovementAt, patientID, prescriptionID, notes sql.NullString
	var possessionState string
	var archived int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID, &d.Barcode, &d.SerialNumber, &d.DeviceType,
		&model, &manufacturer, &supplier,
		&possessionState, &d.Version, &lastMovementAt,
		&patientID, &prescriptionID, &notes, &archived,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.PossessionState = device.PossessionState(possessionState)
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
		if t, err := time.Parse(time.RFC3339, lastMovementAt.String); err == nil {
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

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableStr returns a sql.NullString for optional string values.
func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
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

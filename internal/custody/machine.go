package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyotek/custody-core/internal/device"
)

// Logger is the narrow logging interface the machine depends on.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is wired.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NotificationCanceller revokes the active delivery notification of a
// device. Wired to the notification generator; invoked post-commit when a
// manual correction pulls a device back from the consumer.
type NotificationCanceller interface {
	CancelActiveForDevice(ctx context.Context, deviceID, reason string) error
}

// EventPublisher emits committed movements to the downstream event stream.
type EventPublisher interface {
	PublishMovement(entry MovementEntry) error
}

// MetricsRecorder records operational metrics for movements and bulk runs.
type MetricsRecorder interface {
	RecordMovement(operation, fromState, toState string)
	RecordBulkRun(requested, succeeded, failed int, elapsed time.Duration)
}

// Machine enforces the possession state machine over the movement ledger.
//
// All hooks fire post-commit: by the time they run, the ledger row is
// durable truth. A failing hook is logged and never surfaces to the
// caller, because reporting failure for a committed movement would invite
// a retry that double-records it.
type Machine struct {
	devices   device.Repository
	movements Repository
	logger    Logger

	canceller NotificationCanceller
	publisher EventPublisher
	metrics   MetricsRecorder

	bulkWorkers     int
	conflictRetries int
}

// Bulk processing defaults, overridable via SetBulkLimits.
const (
	defaultBulkWorkers     = 8
	defaultConflictRetries = 3
)

// NewMachine creates a state machine over the given repositories.
func NewMachine(devices device.Repository, movements Repository) *Machine {
	return &Machine{
		devices:         devices,
		movements:       movements,
		logger:          noopLogger{},
		bulkWorkers:     defaultBulkWorkers,
		conflictRetries: defaultConflictRetries,
	}
}

// SetLogger wires a logger. Nil restores the no-op default.
func (m *Machine) SetLogger(logger Logger) {
	if logger == nil {
		m.logger = noopLogger{}
		return
	}
	m.logger = logger
}

// SetNotificationCanceller wires the post-correction notification hook.
func (m *Machine) SetNotificationCanceller(c NotificationCanceller) {
	m.canceller = c
}

// SetEventPublisher wires the outbound movement event hook.
func (m *Machine) SetEventPublisher(p EventPublisher) {
	m.publisher = p
}

// SetMetricsRecorder wires the movement metrics hook.
func (m *Machine) SetMetricsRecorder(r MetricsRecorder) {
	m.metrics = r
}

// SetBulkLimits overrides the bulk worker count and per-item conflict
// retry budget. Non-positive values keep the current setting.
func (m *Machine) SetBulkLimits(workers, conflictRetries int) {
	if workers > 0 {
		m.bulkWorkers = workers
	}
	if conflictRetries > 0 {
		m.conflictRetries = conflictRetries
	}
}

// RecordMovement validates and commits a single custody movement.
//
// On success it returns the device with its advanced projection. The
// caller's read of the device is never trusted: the version check inside
// the ledger transaction decides who wins a race.
func (m *Machine) RecordMovement(ctx context.Context, input Input) (*device.Device, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	dev, err := m.devices.GetByID(ctx, input.DeviceID)
	if err != nil {
		return nil, err
	}
	if dev.Archived {
		return nil, device.ErrDeviceArchived
	}

	if err := checkTransition(dev.PossessionState, input.ToState, input.Operation, input.Notes); err != nil {
		return nil, err
	}

	entry := &MovementEntry{
		DeviceID:  dev.ID,
		FromState: dev.PossessionState,
		ToState:   input.ToState,
		Operation: input.Operation,
		Notes:     input.Notes,
		Actor:     input.Actor,
	}

	if err := m.movements.AppendMovement(ctx, entry, dev.Version); err != nil {
		return nil, err
	}

	m.logger.Info("movement recorded",
		"device_id", dev.ID,
		"from", string(entry.FromState),
		"to", string(entry.ToState),
		"operation", string(entry.Operation),
	)

	m.runPostCommitHooks(ctx, entry)

	return m.devices.GetByID(ctx, dev.ID)
}

// runPostCommitHooks fires the notification, event and metrics hooks for
// a committed movement. Failures are logged only.
func (m *Machine) runPostCommitHooks(ctx context.Context, entry *MovementEntry) {
	if entry.Operation == OperationManualCorrection && m.canceller != nil {
		reason := "device returned to center: " + entry.Notes
		if err := m.canceller.CancelActiveForDevice(ctx, entry.DeviceID, reason); err != nil {
			m.logger.Error("cancelling active notification after correction",
				"device_id", entry.DeviceID, "error", err)
		}
	}

	if m.publisher != nil {
		if err := m.publisher.PublishMovement(*entry); err != nil {
			m.logger.Warn("publishing movement event",
				"device_id", entry.DeviceID, "error", err)
		}
	}

	if m.metrics != nil {
		m.metrics.RecordMovement(string(entry.Operation), string(entry.FromState), string(entry.ToState))
	}
}

// GetHistory returns recent movements for a device, newest first.
func (m *Machine) GetHistory(ctx context.Context, deviceID string, limit int) ([]MovementEntry, error) {
	// Surface ErrDeviceNotFound for unknown devices instead of an empty
	// history, which would read as "no movements yet".
	if _, err := m.devices.GetByID(ctx, deviceID); err != nil {
		return nil, err
	}
	return m.movements.GetHistory(ctx, deviceID, limit)
}

// validateInput checks structural validity before any database access.
func validateInput(input Input) error {
	if input.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", device.ErrInvalidDevice)
	}
	if err := device.ValidatePossessionState(input.ToState); err != nil {
		return err
	}
	switch input.Operation {
	case OperationAcquisition, OperationDelivery, OperationManualCorrection:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, input.Operation)
	}
}

// checkTransition enforces the legality of an edge, the binding between
// edge and operation, and the correction notes requirement.
func checkTransition(from, to device.PossessionState, op Operation, notes string) error {
	legalOp, ok := legalTransitions[transition{From: from, To: to}]
	if !ok {
		return &IllegalTransitionError{From: from, To: to}
	}
	if op != legalOp {
		return fmt.Errorf("%w: operation %q does not apply to %s → %s (want %q)",
			ErrIllegalTransition, op, from, to, legalOp)
	}
	if op == OperationManualCorrection && notes == "" {
		return ErrNotesRequired
	}
	return nil
}

// IsConflict reports whether err is the optimistic-concurrency loss.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyotek/custody-core/internal/device"
)

// Logger is the minimal logging interface the generator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher receives notification lifecycle events after commit.
type EventPublisher interface {
	PublishNotification(n *Notification, event string)
}

// MetricsRecorder receives notification metrics after commit.
type MetricsRecorder interface {
	RecordNotification(status string, deviceCount int)
}

// Generator creates and cancels delivery notifications. It enforces the
// one-active-notification-per-device invariant and the delivered-state
// precondition; the repository's partial unique index backstops the
// former under concurrent generation.
type Generator struct {
	notifications Repository
	devices       device.Repository
	log           Logger
	publisher     EventPublisher
	metrics       MetricsRecorder
}

// NewGenerator creates a notification generator.
func NewGenerator(notifications Repository, devices device.Repository) *Generator {
	return &Generator{
		notifications: notifications,
		devices:       devices,
		log:           noopLogger{},
	}
}

// SetLogger installs a logger. Nil restores the no-op logger.
func (g *Generator) SetLogger(log Logger) {
	if log == nil {
		g.log = noopLogger{}
		return
	}
	g.log = log
}

// SetEventPublisher installs a post-commit event publisher.
func (g *Generator) SetEventPublisher(p EventPublisher) {
	g.publisher = p
}

// SetMetricsRecorder installs a post-commit metrics recorder.
func (g *Generator) SetMetricsRecorder(m MetricsRecorder) {
	g.metrics = m
}

// Generate creates a delivery notification for the given devices.
//
// Generation is idempotent: when every requested device is already
// covered by the same active notification, that notification is
// returned unchanged, even if it bundles more devices than the request
// names. A request that spans two notifications, or that mixes covered
// with uncovered devices, is a conflict (ErrDuplicateNotification).
// Every device must be with the consumer (ErrDeviceNotDelivered).
func (g *Generator) Generate(ctx context.Context, in Input) (*Notification, error) {
	if len(in.DeviceIDs) == 0 {
		return nil, ErrNoDevices
	}

	// Idempotency check before touching storage state.
	existing, err := g.findCovering(ctx, in.DeviceIDs)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		g.log.Info("notification generation is idempotent; returning existing",
			"notification_id", existing.ID)
		return existing, nil
	}

	for _, deviceID := range in.DeviceIDs {
		dev, err := g.devices.GetByID(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("resolving device %s: %w", deviceID, err)
		}
		if dev.Archived {
			return nil, fmt.Errorf("device %s: %w", deviceID, device.ErrDeviceArchived)
		}
		if dev.PossessionState != device.StateWithConsumer {
			return nil, fmt.Errorf("%w: device %s in state %q",
				ErrDeviceNotDelivered, deviceID, dev.PossessionState)
		}
	}

	n := &Notification{
		PatientID:       optional(in.PatientID),
		PrescriptionID:  optional(in.PrescriptionID),
		DeliveredTo:     optional(in.DeliveredTo),
		DeliveryAddress: optional(in.DeliveryAddress),
		DeliveryDate:    in.DeliveryDate,
		Status:          StatusPending,
		DeviceIDs:       in.DeviceIDs,
		DocumentRefs:    in.DocumentRefs,
	}

	if err := g.notifications.Create(ctx, n); err != nil {
		return nil, err
	}

	if err := g.finalize(ctx, n, in); err != nil {
		return nil, err
	}

	result, err := g.notifications.GetByID(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading notification: %w", err)
	}

	g.log.Info("delivery notification generated",
		"notification_id", result.ID,
		"devices", len(result.DeviceIDs))

	if g.publisher != nil {
		g.publisher.PublishNotification(result, "generated")
	}
	if g.metrics != nil {
		g.metrics.RecordNotification(string(result.Status), len(result.DeviceIDs))
	}

	return result, nil
}

// finalize completes the pending notification. Any failure marks the row
// failed with its reason retained and surfaces the error to the caller.
func (g *Generator) finalize(ctx context.Context, n *Notification, in Input) error {
	if in.PatientID != "" {
		for _, deviceID := range in.DeviceIDs {
			if err := g.devices.LinkPatient(ctx, deviceID, in.PatientID, in.PrescriptionID); err != nil {
				reason := fmt.Sprintf("linking patient to device %s: %v", deviceID, err)
				if setErr := g.notifications.SetStatus(ctx, n.ID, StatusFailed, reason); setErr != nil {
					g.log.Error("marking notification failed",
						"notification_id", n.ID, "error", setErr)
				}
				if g.metrics != nil {
					g.metrics.RecordNotification(string(StatusFailed), len(in.DeviceIDs))
				}
				return fmt.Errorf("finalizing notification %s: %s", n.ID, reason)
			}
		}
	}

	if err := g.notifications.SetStatus(ctx, n.ID, StatusCompleted, ""); err != nil {
		return fmt.Errorf("completing notification %s: %w", n.ID, err)
	}
	return nil
}

// findCovering returns the active notification covering every requested
// device, nil when none are covered, or ErrDuplicateNotification when
// coverage mixes covered with uncovered devices or is split across
// notifications. A request naming a subset of a covering bundle is
// fully covered and returns the bundle.
func (g *Generator) findCovering(ctx context.Context, deviceIDs []string) (*Notification, error) {
	var covering *Notification
	covered := 0

	for _, deviceID := range deviceIDs {
		n, err := g.notifications.FindActiveByDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("checking active notification for %s: %w", deviceID, err)
		}
		covered++
		if covering == nil {
			covering = n
			continue
		}
		if covering.ID != n.ID {
			return nil, fmt.Errorf("%w: devices span notifications %s and %s",
				ErrDuplicateNotification, covering.ID, n.ID)
		}
	}

	if covering == nil {
		return nil, nil
	}
	if covered != len(deviceIDs) {
		return nil, fmt.Errorf("%w: request partially overlaps notification %s",
			ErrDuplicateNotification, covering.ID)
	}
	return covering, nil
}

// Cancel soft-cancels a notification. The devices stay with the consumer;
// reverting possession is the custody ledger's job, not the generator's.
func (g *Generator) Cancel(ctx context.Context, id, reason string) (*Notification, error) {
	if err := g.notifications.Cancel(ctx, id, reason); err != nil {
		return nil, err
	}

	n, err := g.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading cancelled notification: %w", err)
	}

	g.log.Info("delivery notification cancelled",
		"notification_id", id, "reason", reason)

	if g.publisher != nil {
		g.publisher.PublishNotification(n, "cancelled")
	}

	return n, nil
}

// CancelActiveForDevice cancels the active notification covering a
// device, if any. It satisfies the custody machine's post-commit hook
// for manual corrections; a device with no active notification is not
// an error.
func (g *Generator) CancelActiveForDevice(ctx context.Context, deviceID, reason string) error {
	n, err := g.notifications.FindActiveByDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("finding active notification for %s: %w", deviceID, err)
	}

	if _, err := g.Cancel(ctx, n.ID, reason); err != nil {
		if errors.Is(err, ErrAlreadyCancelled) {
			return nil
		}
		return err
	}
	return nil
}

// ReconcileMissing sweeps for consumer-held devices with no active
// notification and generates one per device, using the patient linkage
// recorded on the device. Failures are captured per device; the sweep
// itself only fails when the work queue cannot be read.
func (g *Generator) ReconcileMissing(ctx context.Context, actor string) (*ReconcileResult, error) {
	devices, err := g.notifications.FindDevicesMissingNotification(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding devices missing notification: %w", err)
	}

	result := &ReconcileResult{Items: make([]ReconcileItem, 0, len(devices))}
	started := time.Now()

	for _, d := range devices {
		item := ReconcileItem{DeviceID: d.ID}

		in := Input{DeviceIDs: []string{d.ID}}
		if d.LinkedPatientID != nil {
			in.PatientID = *d.LinkedPatientID
		}
		if d.LinkedPrescriptionID != nil {
			in.PrescriptionID = *d.LinkedPrescriptionID
		}

		n, err := g.Generate(ctx, in)
		if err != nil {
			item.Error = err.Error()
			result.FailureCount++
		} else {
			item.NotificationID = n.ID
			item.Success = true
			result.SuccessCount++
		}
		result.Items = append(result.Items, item)
	}

	g.log.Info("notification reconciliation sweep finished",
		"actor", actor,
		"devices", len(devices),
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"elapsed", time.Since(started))

	return result, nil
}

// Get retrieves a notification by ID.
func (g *Generator) Get(ctx context.Context, id string) (*Notification, error) {
	return g.notifications.GetByID(ctx, id)
}

// List retrieves notifications matching the filter.
func (g *Generator) List(ctx context.Context, filter Filter) ([]Notification, error) {
	return g.notifications.List(ctx, filter)
}

// MissingDevices returns consumer-held devices with no active notification.
func (g *Generator) MissingDevices(ctx context.Context) ([]device.Device, error) {
	return g.notifications.FindDevicesMissingNotification(ctx)
}

// optional converts an empty string to nil for optional fields.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

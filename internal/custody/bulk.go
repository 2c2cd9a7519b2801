package custody

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyotek/custody-core/internal/device"
)

// BulkAcquire records an acquisition movement for every referenced device.
//
// Refs may be device IDs or barcodes; the scan workflow at the receiving
// dock produces barcodes, backfill jobs produce IDs. Items are processed
// independently on a bounded worker pool: one bad reference never blocks
// the rest of the batch.
//
// A lost version race is retried up to the configured budget with the
// device re-read each attempt. Context cancellation stops scheduling new
// items but never undoes movements that already committed; unprocessed
// items are reported as failed with the context error.
func (m *Machine) BulkAcquire(ctx context.Context, refs []string, notes, actor string) (*BulkResult, error) {
	started := time.Now()
	result := &BulkResult{
		Items: make([]BulkItem, len(refs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.bulkWorkers)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			item := BulkItem{Ref: ref}

			if err := gctx.Err(); err != nil {
				item.Error = err.Error()
				result.Items[i] = item
				return nil //nolint:nilerr // per-item independence: errors stay in the item
			}

			dev, err := m.resolveRef(gctx, ref)
			if err != nil {
				item.Error = err.Error()
				result.Items[i] = item
				return nil
			}
			item.DeviceID = dev.ID

			err = m.acquireWithRetry(gctx, dev.ID, notes, actor)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Success = true
			}

			result.Items[i] = item
			return nil
		})
	}

	// Workers never return errors; Wait only synchronizes completion.
	_ = g.Wait()

	for _, item := range result.Items {
		if item.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}

	m.logger.Info("bulk acquisition finished",
		"requested", len(refs),
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"elapsed", time.Since(started),
	)

	if m.metrics != nil {
		m.metrics.RecordBulkRun(len(refs), result.SuccessCount, result.FailureCount, time.Since(started))
	}

	return result, nil
}

// resolveRef finds a device by barcode first (the scan workflow), then by ID.
func (m *Machine) resolveRef(ctx context.Context, ref string) (*device.Device, error) {
	dev, err := m.devices.GetByBarcode(ctx, ref)
	if err == nil {
		return dev, nil
	}
	if !errors.Is(err, device.ErrDeviceNotFound) {
		return nil, err
	}
	return m.devices.GetByID(ctx, ref)
}

// acquireWithRetry records the acquisition, retrying lost version races.
func (m *Machine) acquireWithRetry(ctx context.Context, deviceID, notes, actor string) error {
	var err error
	for attempt := 0; attempt <= m.conflictRetries; attempt++ {
		_, err = m.RecordMovement(ctx, Input{
			DeviceID:  deviceID,
			ToState:   device.StateWithCenter,
			Operation: OperationAcquisition,
			Notes:     notes,
			Actor:     actor,
		})
		if !IsConflict(err) {
			return err
		}
		// Conflict: another writer advanced the device. Re-reading inside
		// RecordMovement picks up the fresh state; if that state is no
		// longer with_supplier the retry fails the legality check, which
		// is the correct terminal answer.
	}
	return err
}

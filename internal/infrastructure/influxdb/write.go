package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMovement records a committed custody movement.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags are kept low-cardinality: states and operations come from a
// fixed vocabulary, never device or patient identifiers.
//
// Example:
//
//	client.WriteMovement("center-001", "acquisition", "with_supplier", "with_center")
func (c *Client) WriteMovement(centerID, operation, fromState, toState string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"custody_movements",
		map[string]string{
			"center_id":  centerID,
			"operation":  operation,
			"from_state": fromState,
			"to_state":   toState,
		},
		map[string]interface{}{
			"count": int64(1),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBulkRun records the outcome of a bulk acquisition run.
//
// Example:
//
//	client.WriteBulkRun("center-001", 120, 117, 3, elapsed)
func (c *Client) WriteBulkRun(centerID string, requested, succeeded, failed int, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"custody_bulk_runs",
		map[string]string{
			"center_id": centerID,
		},
		map[string]interface{}{
			"requested":  int64(requested),
			"succeeded":  int64(succeeded),
			"failed":     int64(failed),
			"elapsed_ms": elapsed.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteNotification records a delivery notification lifecycle event.
//
// The status tag is one of: pending, completed, failed, cancelled.
func (c *Client) WriteNotification(centerID, status string, deviceCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"custody_notifications",
		map[string]string{
			"center_id": centerID,
			"status":    status,
		},
		map[string]interface{}{
			"count":        int64(1),
			"device_count": int64(deviceCount),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

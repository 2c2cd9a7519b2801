// Package influxdb provides optional movement metrics for Custody Core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes, and health monitoring.
//
// # Purpose
//
// This package records operational time-series about the ledger:
//   - Per-operation movement counts (acquisition, delivery, correction)
//   - Bulk reconciliation run outcomes
//   - Delivery notification generation results
//
// Ledger history itself is never read back from InfluxDB; the SQLite
// movements table is the system of record and metrics are advisory.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMovement("center-001", "acquisition", "with_supplier", "with_center")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are surfaced via a
// callback. Connection and health check errors are returned directly.
package influxdb

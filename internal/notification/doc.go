// Package notification implements delivery notification generation for
// devices handed to consumers.
//
// A notification certifies a delivery to the national registry. The core
// invariant is one active notification per device: generation is
// idempotent (re-requesting a covered device returns the existing
// notification), and a partial unique index on the device links is the
// storage-level backstop should two generators ever race past the
// application check.
//
// Cancellation is a soft delete. The row, its device links and document
// refs survive for audit; only the links' active flag drops, freeing the
// devices for a future notification after a manual correction.
package notification

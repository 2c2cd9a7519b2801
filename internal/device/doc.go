// Package device implements the registry of tracked medical devices.
//
// Every device is identified by its regulatory barcode and carries a
// cached projection of its current possession state. The registry owns
// identity and descriptive metadata; possession itself only changes
// through the custody ledger, which writes the projection and version
// counter in the same transaction as the movement row.
//
// # Architecture
//
//	           ┌──────────────┐
//	  Upsert   │   Registry   │   Search / List / Count
//	──────────▶│  (identity)  │◀──────────────────────────
//	           └──────┬───────┘
//	                  │ possession_state, version
//	                  ▼ (written only by custody tx)
//	           ┌──────────────┐
//	           │   custody    │
//	           │   ledger     │
//	           └──────────────┘
//
// Upsert is keyed on barcode so repeated supplier imports of the same
// device converge on one row without disturbing its custody projection.
package device

// Package custody implements the possession state machine and the
// append-only movement ledger.
//
// Possession follows a fixed lifecycle with exactly three legal edges:
//
//	with_supplier ──acquisition──▶ with_center ──delivery──▶ with_consumer
//	                                    ▲                         │
//	                                    └────manual_correction────┘
//
// Every accepted transition appends one movement row and updates the
// device's cached projection in the same SQLite transaction, guarded by
// an optimistic version check. Two writers racing on the same device
// therefore serialize: exactly one commits, the other observes
// ErrConcurrentModification and may retry against the fresh state.
//
// The ledger is the system of record; the devices.possession_state
// column is a projection of its tail and is never written outside this
// package.
package custody

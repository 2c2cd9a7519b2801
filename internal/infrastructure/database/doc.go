// Package database manages the SQLite connection and schema migrations
// for Custody Core.
//
// The custody subsystem's consistency contract (ledger append and
// projection update are one unit) rests on what this package sets up:
// a single-connection pool, WAL journalling, and per-migration
// transactions. Repositories obtain transactions via BeginTx and never
// hold their own connections.
//
// Migrations are embedded by the migrations package at build time and
// applied in filename-version order, each in its own transaction.
package database

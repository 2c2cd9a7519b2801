// Package logging provides structured logging for Custody Core.
//
// It wraps log/slog with the service's default attributes and config-driven
// level, format, and destination. Domain packages do not import this
// package directly; they accept a narrow Logger interface and main wires
// this implementation in.
package logging

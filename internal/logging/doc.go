// Package logging assembles the structured slog loggers used across the
// batch runner.
//
// It centralizes level and output plumbing, exposes context-aware helpers so
// driver and dispatch code automatically tag log lines with batch IDs, item
// indexes, and pass numbers, and provides a no-op logger for tests and wiring
// code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape.
package logging

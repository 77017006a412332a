// Package store persists batches and their items in SQLite so the driver can
// resume from durable state between passes and across process restarts.
//
// The database lives in the configured data directory, runs in WAL mode, and
// retries briefly on SQLITE_BUSY so a CLI inspecting the database does not
// fail a concurrently running pass. Batch completion is a compare-and-set
// update from running to completed, which is what makes the completion
// notification fire exactly once.
package store

// Package runner executes scheduled batch passes on a single background
// worker. It paces consecutive passes for the same batch, deduplicates
// schedule requests, and resumes unfinished batches after a restart.
package runner

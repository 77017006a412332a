// Package batch contains the state machine that drives a list of
// asynchronous metadata operations to completion.
//
// A batch is an ordered, fixed-size list of items. Each pass the driver
// recomputes which items are eligible (skipping terminal items and honouring
// wait-for-previous ordering), dispatches the selected items through the
// two-phase submit/poll protocol, persists the result, and either schedules
// the next pass or declares the batch complete. Eligibility is always derived
// from persisted item state, so a runner restarted mid-batch resumes without
// double-submitting work.
//
// Failures are contained per item: a submit or poll error makes that item
// terminal-failed and the batch keeps advancing the rest. The completion
// notifier fires exactly once, after every item has reached a terminal state.
package batch

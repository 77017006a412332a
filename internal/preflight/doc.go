// Package preflight provides readiness checks for the external endpoint and
// filesystem paths that mdapi depends on.
//
// These checks run in two contexts:
//   - The serve command runs RunAll at startup so a misconfigured daemon
//     fails loudly instead of stalling batches mid-flight.
//   - The CLI "mdapi preflight" command displays the same checks on demand.
//
// Each check degrades to a failed Result with a human-readable detail; none
// of them panic or abort the process on their own.
package preflight

// Package notifications delivers batch lifecycle events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Per-event toggles let operators silence start or completion
// messages while keeping error alerts.
//
// Extend this package if you need alternative transports; driver code depends
// only on the simple Service interface.
package notifications

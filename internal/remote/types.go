package remote

import (
	"context"
	"encoding/json"
	"strings"
)

// Action identifies the kind of metadata operation to perform.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var knownActions = map[Action]struct{}{
	ActionCreate: {},
	ActionUpdate: {},
	ActionDelete: {},
}

// ParseAction converts a string into a known Action.
func ParseAction(value string) (Action, bool) {
	normalized := Action(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownActions[normalized]
	return normalized, ok
}

// Payload describes one metadata operation. It is immutable once handed to a
// batch: the driver carries it through unchanged and only the remote
// collaborator interprets it.
type Payload struct {
	Action   Action
	Type     string
	FullName string
	Body     json.RawMessage
}

// Label returns a short human-readable identifier for logs and notifications.
func (p Payload) Label() string {
	parts := make([]string, 0, 3)
	if p.Action != "" {
		parts = append(parts, string(p.Action))
	}
	if p.Type != "" {
		parts = append(parts, p.Type)
	}
	if p.FullName != "" {
		parts = append(parts, p.FullName)
	}
	if len(parts) == 0 {
		return "metadata operation"
	}
	return strings.Join(parts, " ")
}

// Status is the most recent state reported for an async operation.
type Status struct {
	Done       bool
	State      string
	StatusCode string
	Message    string
}

// Failed reports whether a terminal status carries a remote-side error.
func (s *Status) Failed() bool {
	return s != nil && s.Done && (s.StatusCode != "" || strings.EqualFold(s.State, "Error"))
}

// Operations is the two-call protocol against the remote Metadata API.
// Submit starts an async operation and returns its handle together with an
// initial status snapshot. Poll refreshes the status for a previously
// returned handle. Both calls may fail with a transport or remote error; the
// dispatch step records such failures on the item.
type Operations interface {
	Submit(ctx context.Context, payload Payload) (string, *Status, error)
	Poll(ctx context.Context, handle string) (*Status, error)
}

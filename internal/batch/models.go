package batch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

// State represents the lifecycle of a batch.
type State string

const (
	// StateRunning means non-terminal items remain.
	StateRunning State = "running"
	// StateAwaitingNextPass is the transient outcome of a pass that
	// dispatched work and rescheduled itself. It is never persisted.
	StateAwaitingNextPass State = "awaiting_next_pass"
	// StateCompleted means every item is terminal and the completion
	// notifier has been claimed by exactly one pass.
	StateCompleted State = "completed"
)

// ParseState converts a string into a known persisted State.
func ParseState(value string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StateRunning:
		return StateRunning, true
	case StateCompleted:
		return StateCompleted, true
	default:
		return "", false
	}
}

// Item is one unit of work tracked through submit, repeated polls, and a
// terminal outcome. Index is assigned once at batch creation and equals the
// item's list position; Payload, Context, and WaitForPrevious never change
// afterwards. Only the dispatch step mutates the remaining fields.
type Item struct {
	Index           int
	Payload         remote.Payload
	Context         json.RawMessage
	WaitForPrevious bool

	Handle  string
	Status  *remote.Status
	Failure string
	Polls   int
}

// Submitted reports whether the item has been handed to the remote side.
func (i *Item) Submitted() bool {
	return i.Handle != ""
}

// Terminal reports whether the item needs no further dispatching.
func (i *Item) Terminal() bool {
	if i.Failure != "" {
		return true
	}
	return i.Status != nil && i.Status.Done
}

// Succeeded reports whether the item finished without a local failure or a
// remote-side error.
func (i *Item) Succeeded() bool {
	return i.Failure == "" && i.Status != nil && i.Status.Done && !i.Status.Failed()
}

// ItemSpec describes one operation when constructing a batch.
type ItemSpec struct {
	Payload         remote.Payload
	Context         json.RawMessage
	WaitForPrevious bool
}

// Batch is the persisted job-state record: identity plus the full item list.
type Batch struct {
	ID          string
	Name        string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Items       []*Item
}

// New constructs a running batch from the given specs, assigning each item
// its list position as index.
func New(name string, specs []ItemSpec) *Batch {
	items := make([]*Item, 0, len(specs))
	for i, spec := range specs {
		items = append(items, &Item{
			Index:           i,
			Payload:         spec.Payload,
			Context:         spec.Context,
			WaitForPrevious: spec.WaitForPrevious,
		})
	}
	now := time.Now().UTC()
	return &Batch{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		State:     StateRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     items,
	}
}

// Counts summarizes terminal outcomes across the item list.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Pending   int
}

// Counts tallies item outcomes for status output and notifications.
func (b *Batch) Counts() Counts {
	counts := Counts{Total: len(b.Items)}
	for _, item := range b.Items {
		switch {
		case item.Succeeded():
			counts.Succeeded++
		case item.Terminal():
			counts.Failed++
		default:
			counts.Pending++
		}
	}
	return counts
}

// Terminal reports whether every item in the batch is terminal.
func (b *Batch) Terminal() bool {
	for _, item := range b.Items {
		if !item.Terminal() {
			return false
		}
	}
	return true
}

// itemIndex builds the index-to-item map used to resolve canonical items
// during a pass. Duplicate indexes indicate corrupted state.
func (b *Batch) itemIndex() (map[int]*Item, error) {
	byIndex := make(map[int]*Item, len(b.Items))
	for _, item := range b.Items {
		if _, exists := byIndex[item.Index]; exists {
			return nil, wrapInvariant(b.ID, item.Index, "duplicate item index")
		}
		byIndex[item.Index] = item
	}
	return byIndex, nil
}

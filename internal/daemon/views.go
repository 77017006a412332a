package daemon

import (
	"encoding/json"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
)

// BatchView is the JSON shape served for a batch.
type BatchView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Pending     int        `json:"pending"`
	Items       []ItemView `json:"items,omitempty"`
}

// ItemView is the JSON shape served for a single batch item.
type ItemView struct {
	Index           int             `json:"index"`
	Action          string          `json:"action"`
	Type            string          `json:"type"`
	FullName        string          `json:"full_name"`
	WaitForPrevious bool            `json:"wait_for_previous,omitempty"`
	Handle          string          `json:"handle,omitempty"`
	State           string          `json:"state,omitempty"`
	StatusCode      string          `json:"status_code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Failure         string          `json:"failure,omitempty"`
	Polls           int             `json:"polls,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
}

// StatusView is the JSON shape served for daemon status.
type StatusView struct {
	Running        bool   `json:"running"`
	DatabasePath   string `json:"database_path"`
	LockFilePath   string `json:"lock_file_path"`
	RunningBatches int    `json:"running_batches"`
}

// BatchListResponse wraps the batch list endpoint payload.
type BatchListResponse struct {
	Batches []BatchView `json:"batches"`
}

func batchView(b *batch.Batch, includeItems bool) BatchView {
	counts := b.Counts()
	view := BatchView{
		ID:          b.ID,
		Name:        b.Name,
		State:       string(b.State),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		CompletedAt: b.CompletedAt,
		Total:       counts.Total,
		Succeeded:   counts.Succeeded,
		Failed:      counts.Failed,
		Pending:     counts.Pending,
	}
	if includeItems {
		view.Items = make([]ItemView, 0, len(b.Items))
		for _, item := range b.Items {
			view.Items = append(view.Items, itemView(item))
		}
	}
	return view
}

func itemView(item *batch.Item) ItemView {
	view := ItemView{
		Index:           item.Index,
		Action:          string(item.Payload.Action),
		Type:            item.Payload.Type,
		FullName:        item.Payload.FullName,
		WaitForPrevious: item.WaitForPrevious,
		Handle:          item.Handle,
		Failure:         item.Failure,
		Polls:           item.Polls,
		Context:         item.Context,
	}
	if item.Status != nil {
		view.State = item.Status.State
		view.StatusCode = item.Status.StatusCode
		view.Message = item.Status.Message
	}
	return view
}

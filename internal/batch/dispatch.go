package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

// Dispatcher performs the submit-or-poll transition for a single item.
type Dispatcher struct {
	ops      remote.Operations
	logger   *slog.Logger
	maxPolls int
}

// DispatcherOption configures optional Dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithMaxPolls caps how often an item may be polled before it is failed
// terminally. Zero means poll until the remote side reports done.
func WithMaxPolls(limit int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxPolls = limit
	}
}

// NewDispatcher constructs a dispatcher bound to a remote collaborator.
func NewDispatcher(ops remote.Operations, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		ops:    ops,
		logger: logging.NewComponentLogger(logger, "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch advances one item: a never-submitted item is submitted, an
// in-flight item is polled. Errors from either call are captured on the item,
// making it terminal-failed; they are never retried and never propagate.
// Terminal items are left untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, item *Item) {
	if item.Terminal() {
		return
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.Int(logging.FieldItemIndex, item.Index),
	)

	if !item.Submitted() {
		handle, status, err := d.ops.Submit(ctx, item.Payload)
		if err != nil {
			item.Failure = err.Error()
			logger.Warn("submit failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_submit_failed"),
				logging.String("operation", item.Payload.Label()),
			)
			return
		}
		item.Handle = handle
		item.Status = status
		logger.Info("operation submitted",
			logging.String(logging.FieldEventType, "item_submitted"),
			logging.String("operation", item.Payload.Label()),
			logging.String("handle", handle),
		)
		return
	}

	if d.maxPolls > 0 && item.Polls >= d.maxPolls {
		item.Failure = fmt.Sprintf("poll limit reached after %d polls", item.Polls)
		logger.Warn("item exceeded poll limit",
			logging.String(logging.FieldEventType, "item_poll_limit"),
			logging.Int("polls", item.Polls),
			logging.String(logging.FieldErrorHint, "raise batch.max_polls_per_item or investigate the stuck operation"),
		)
		return
	}

	status, err := d.ops.Poll(ctx, item.Handle)
	item.Polls++
	if err != nil {
		item.Failure = err.Error()
		logger.Warn("poll failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "item_poll_failed"),
			logging.String("handle", item.Handle),
		)
		return
	}
	item.Status = status
	if item.Terminal() {
		logger.Info("operation finished",
			logging.String(logging.FieldEventType, "item_terminal"),
			logging.String("state", status.State),
			logging.Bool("failed", status.Failed()),
			logging.Int("polls", item.Polls),
		)
	} else {
		logger.Debug("operation still in flight",
			logging.String("state", status.State),
			logging.Int("polls", item.Polls),
		)
	}
}

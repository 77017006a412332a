package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mehebubhossain/apex-mdapi/internal/logging"
)

// Store persists batch state between passes. Implementations must make
// CompleteBatch a compare-and-set from running to completed, returning true
// for exactly one caller.
type Store interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	UpdateItem(ctx context.Context, batchID string, item *Item) error
	CompleteBatch(ctx context.Context, id string) (bool, error)
}

// Notifier receives batch lifecycle events. Implementations are external
// collaborators (push notifications, log sinks); the driver tolerates their
// failures.
type Notifier interface {
	BatchStarted(ctx context.Context, b *Batch) error
	BatchCompleted(ctx context.Context, b *Batch) error
}

// Scheduler requests a future re-invocation of the driver for a batch. The
// implementation must guarantee passes for the same batch never overlap.
type Scheduler interface {
	Schedule(ctx context.Context, batchID string) error
}

// PassResult reports what a single pass did.
type PassResult struct {
	State      State
	Dispatched int
}

// Driver orchestrates repeated passes over a batch until every item is
// terminal. It holds no per-batch state itself; each pass reloads the
// authoritative record from the store.
type Driver struct {
	store      Store
	dispatcher *Dispatcher
	notifier   Notifier
	scheduler  Scheduler
	logger     *slog.Logger
	scopeSize  int
}

// DriverConfig carries tunables for the driver.
type DriverConfig struct {
	// ScopeSize limits how many eligible items one pass dispatches.
	// Values below one collapse to one.
	ScopeSize int
}

// NewDriver constructs a driver over the given collaborators.
func NewDriver(store Store, dispatcher *Dispatcher, notifier Notifier, scheduler Scheduler, logger *slog.Logger, cfg DriverConfig) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	scope := cfg.ScopeSize
	if scope < 1 {
		scope = 1
	}
	return &Driver{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		scheduler:  scheduler,
		logger:     logging.NewComponentLogger(logger, "driver"),
		scopeSize:  scope,
	}
}

// CreateBatch persists a new batch, announces it, and schedules the first
// pass. The returned batch is in StateRunning with every item unsubmitted.
func (d *Driver) CreateBatch(ctx context.Context, name string, specs []ItemSpec) (*Batch, error) {
	if len(specs) == 0 {
		return nil, errors.New("batch requires at least one operation")
	}

	b := New(name, specs)
	if err := d.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	logger := d.logger.With(logging.String(logging.FieldBatchID, b.ID))
	logger.Info("batch created",
		logging.String(logging.FieldEventType, "batch_created"),
		logging.Int("items", len(b.Items)),
		logging.String("name", b.Name),
	)

	if d.notifier != nil {
		if err := d.notifier.BatchStarted(ctx, b); err != nil {
			logger.Debug("batch start notification failed", logging.Error(err))
		}
	}

	if err := d.scheduler.Schedule(ctx, b.ID); err != nil {
		return nil, fmt.Errorf("schedule first pass: %w", err)
	}
	return b, nil
}

// RunPass executes one pass of the state machine: reload, select, dispatch,
// persist, then either reschedule or complete. Calling RunPass on an already
// completed batch is a no-op reporting StateCompleted; the completion
// notifier never fires twice.
func (d *Driver) RunPass(ctx context.Context, batchID string) (PassResult, error) {
	b, err := d.store.GetBatch(ctx, batchID)
	if err != nil {
		return PassResult{}, fmt.Errorf("load batch: %w", err)
	}
	if b.State == StateCompleted {
		return PassResult{State: StateCompleted}, nil
	}

	ctx = logging.WithBatchID(ctx, b.ID)
	logger := logging.WithContext(ctx, d.logger)

	byIndex, err := b.itemIndex()
	if err != nil {
		return PassResult{}, err
	}

	eligible := Eligible(b.Items)
	if len(eligible) == 0 {
		return d.complete(ctx, logger, b)
	}

	scope := eligible
	if len(scope) > d.scopeSize {
		scope = scope[:d.scopeSize]
	}

	for _, selected := range scope {
		// Resolve by index against the authoritative list; an eligible
		// item the map does not know about means external corruption.
		canonical, ok := byIndex[selected.Index]
		if !ok {
			return PassResult{}, wrapInvariant(b.ID, selected.Index, "scope item missing from item map")
		}
		d.dispatcher.Dispatch(ctx, canonical)
		if err := d.store.UpdateItem(ctx, b.ID, canonical); err != nil {
			return PassResult{}, fmt.Errorf("persist item %d: %w", canonical.Index, err)
		}
	}

	if err := d.scheduler.Schedule(ctx, b.ID); err != nil {
		return PassResult{}, fmt.Errorf("schedule next pass: %w", err)
	}
	return PassResult{State: StateAwaitingNextPass, Dispatched: len(scope)}, nil
}

func (d *Driver) complete(ctx context.Context, logger *slog.Logger, b *Batch) (PassResult, error) {
	won, err := d.store.CompleteBatch(ctx, b.ID)
	if err != nil {
		return PassResult{}, fmt.Errorf("complete batch: %w", err)
	}
	if !won {
		// Another pass already claimed completion.
		return PassResult{State: StateCompleted}, nil
	}

	b.State = StateCompleted
	counts := b.Counts()
	logger.Info("batch completed",
		logging.String(logging.FieldEventType, "batch_completed"),
		logging.Int("succeeded", counts.Succeeded),
		logging.Int("failed", counts.Failed),
	)
	if d.notifier != nil {
		if err := d.notifier.BatchCompleted(ctx, b); err != nil {
			logger.Debug("batch completion notification failed", logging.Error(err))
		}
	}
	return PassResult{State: StateCompleted}, nil
}

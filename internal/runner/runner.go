package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
)

// PassRunner executes one driver pass for a batch.
type PassRunner interface {
	RunPass(ctx context.Context, batchID string) (batch.PassResult, error)
}

// PendingSource reports batches that still need passes after a restart.
type PendingSource interface {
	RunningBatchIDs(ctx context.Context) ([]string, error)
}

// defaultRetryDelay spaces retries of a failing pass. It is independent of
// the pacing interval so a zero interval cannot turn a persistent store
// error into a tight retry loop.
const defaultRetryDelay = 5 * time.Second

// Runner is a single-worker pass scheduler. One goroutine drains the pending
// set in due-time order, so passes for the same batch never overlap.
type Runner struct {
	passes     PassRunner
	logger     *slog.Logger
	interval   time.Duration
	retryDelay time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending map[string]time.Time
	lastRun map[string]time.Time
	wake    chan struct{}
}

// New constructs a runner that paces passes for the same batch by interval.
// A non-positive interval disables pacing.
func New(passes PassRunner, logger *slog.Logger, interval time.Duration) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval < 0 {
		interval = 0
	}
	return &Runner{
		passes:     passes,
		logger:     logging.NewComponentLogger(logger, "runner"),
		interval:   interval,
		retryDelay: defaultRetryDelay,
		pending:    make(map[string]time.Time),
		lastRun:    make(map[string]time.Time),
		wake:       make(chan struct{}, 1),
	}
}

// Bind sets the pass executor. The driver and runner reference each other,
// so one of them has to be attached after construction.
func (r *Runner) Bind(passes PassRunner) {
	r.mu.Lock()
	r.passes = passes
	r.mu.Unlock()
}

// Start launches the worker goroutine.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("runner already started")
	}
	if r.passes == nil {
		return errors.New("runner has no pass executor bound")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.work(runCtx)
	return nil
}

// Stop terminates the worker and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Schedule enqueues a pass for the batch. The first pass for a batch runs
// immediately; later passes wait out the pacing interval measured from the
// previous pass. Duplicate requests for an already-pending batch collapse.
func (r *Runner) Schedule(ctx context.Context, batchID string) error {
	r.mu.Lock()
	if _, queued := r.pending[batchID]; !queued {
		due := time.Now()
		if last, ok := r.lastRun[batchID]; ok {
			if paced := last.Add(r.interval); paced.After(due) {
				due = paced
			}
		}
		r.pending[batchID] = due
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// scheduleAfter enqueues the batch no sooner than delay from now, overriding
// any earlier pending due time.
func (r *Runner) scheduleAfter(id string, delay time.Duration) {
	due := time.Now().Add(delay)
	r.mu.Lock()
	r.pending[id] = due
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Resume schedules a pass for every batch the store still reports as running.
func (r *Runner) Resume(ctx context.Context, source PendingSource) error {
	ids, err := source.RunningBatchIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.Schedule(ctx, id); err != nil {
			return err
		}
		r.logger.Info("resumed unfinished batch",
			logging.String(logging.FieldBatchID, id),
			logging.String(logging.FieldEventType, "batch_resumed"),
		)
	}
	return nil
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		id, wait, ok := r.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			case <-time.After(wait):
			}
		}

		r.take(id)
		r.runPass(ctx, id)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// next returns the batch with the earliest due time and how long until it is
// due, or ok=false when nothing is pending.
func (r *Runner) next() (string, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		id    string
		due   time.Time
		found bool
	)
	for candidate, at := range r.pending {
		if !found || at.Before(due) {
			id = candidate
			due = at
			found = true
		}
	}
	if !found {
		return "", 0, false
	}
	return id, time.Until(due), true
}

func (r *Runner) take(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.lastRun[id] = time.Now()
	r.mu.Unlock()
}

func (r *Runner) runPass(ctx context.Context, id string) {
	result, err := r.passes.RunPass(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, batch.ErrNotFound) {
			r.logger.Warn("scheduled batch no longer exists",
				logging.String(logging.FieldBatchID, id),
				logging.String(logging.FieldEventType, "batch_missing"),
			)
			return
		}
		r.logger.Error("batch pass failed",
			logging.String(logging.FieldBatchID, id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pass_failed"),
			logging.String(logging.FieldErrorHint, "check batch database access"),
		)
		r.scheduleAfter(id, r.retryDelay)
		return
	}

	if result.State == batch.StateCompleted {
		r.mu.Lock()
		delete(r.lastRun, id)
		r.mu.Unlock()
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/config"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/notifications"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
	"github.com/mehebubhossain/apex-mdapi/internal/runner"
	"github.com/mehebubhossain/apex-mdapi/internal/store"
)

// Daemon wires the persistent store, pass runner, and batch driver together
// and enforces single-instance execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	driver   *batch.Driver
	runner   *runner.Runner
	notifier notifications.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	DatabasePath   string
	LockFilePath   string
	RunningBatches int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, ops remote.Operations, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || ops == nil {
		return nil, errors.New("daemon requires config, store, and remote operations")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)
	dispatcher := batch.NewDispatcher(ops, logger, batch.WithMaxPolls(cfg.Batch.MaxPollsPerItem))
	passRunner := runner.New(nil, logger, time.Duration(cfg.Batch.PassInterval)*time.Second)
	driver := batch.NewDriver(st, dispatcher, notifier, passRunner, logger, batch.DriverConfig{
		ScopeSize: cfg.Batch.ScopeSize,
	})
	passRunner.Bind(driver)

	lockPath := filepath.Join(cfg.Paths.DataDir, "mdapi.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		driver:   driver,
		runner:   passRunner,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, resumes unfinished batches, and launches
// the pass runner plus the HTTP API when one is configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mdapi instance is already using this data directory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.runner.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start runner: %w", err)
	}
	if err := d.runner.Resume(runCtx, d.store); err != nil {
		d.logger.Warn("failed to resume unfinished batches",
			logging.Error(err),
			logging.String(logging.FieldEventType, "resume_failed"),
		)
	}
	if err := d.api.start(runCtx); err != nil {
		d.runner.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("mdapi daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mdapi daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if ids, err := d.store.RunningBatchIDs(ctx); err == nil {
		status.RunningBatches = len(ids)
	}
	return status
}

// CreateBatch persists a new batch and schedules its first pass.
func (d *Daemon) CreateBatch(ctx context.Context, name string, specs []batch.ItemSpec) (*batch.Batch, error) {
	return d.driver.CreateBatch(ctx, name, specs)
}

// ListBatches returns batches filtered by optional states.
func (d *Daemon) ListBatches(ctx context.Context, states ...batch.State) ([]*batch.Batch, error) {
	return d.store.ListBatches(ctx, states...)
}

// DescribeBatch returns a single batch with its items.
func (d *Daemon) DescribeBatch(ctx context.Context, id string) (*batch.Batch, error) {
	return d.store.GetBatch(ctx, id)
}

// WaitForBatch blocks until the batch leaves the running state or the
// context is canceled.
func (d *Daemon) WaitForBatch(ctx context.Context, id string) (*batch.Batch, error) {
	interval := time.Duration(d.cfg.Batch.PassInterval) * time.Second
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b, err := d.store.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.State != batch.StateRunning {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-ticker.C:
		}
	}
}

// APIAddr returns the bound API listen address, or an empty string when the
// API is disabled or the daemon is stopped.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

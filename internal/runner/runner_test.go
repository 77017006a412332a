package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
)

// scriptedPasses completes a batch after a fixed number of passes,
// rescheduling itself between passes the way the driver does.
type scriptedPasses struct {
	runner *Runner

	mu         sync.Mutex
	passesLeft map[string]int
	runs       map[string][]time.Time
	completed  map[string]bool
	err        error
	stickyErr  error
	done       chan struct{}
}

func newScriptedPasses() *scriptedPasses {
	return &scriptedPasses{
		passesLeft: make(map[string]int),
		runs:       make(map[string][]time.Time),
		completed:  make(map[string]bool),
		done:       make(chan struct{}, 8),
	}
}

func (s *scriptedPasses) RunPass(ctx context.Context, batchID string) (batch.PassResult, error) {
	s.mu.Lock()
	s.runs[batchID] = append(s.runs[batchID], time.Now())
	if s.stickyErr != nil {
		err := s.stickyErr
		s.mu.Unlock()
		return batch.PassResult{}, err
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		s.mu.Unlock()
		return batch.PassResult{}, err
	}
	s.passesLeft[batchID]--
	remaining := s.passesLeft[batchID]
	s.mu.Unlock()

	if remaining > 0 {
		if err := s.runner.Schedule(ctx, batchID); err != nil {
			return batch.PassResult{}, err
		}
		return batch.PassResult{State: batch.StateAwaitingNextPass, Dispatched: 1}, nil
	}
	s.mu.Lock()
	s.completed[batchID] = true
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return batch.PassResult{State: batch.StateCompleted}, nil
}

func (s *scriptedPasses) isDone(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[batchID]
}

func (s *scriptedPasses) runCount(batchID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs[batchID])
}

func startRunner(t *testing.T, passes *scriptedPasses, interval time.Duration) *Runner {
	t.Helper()
	r := New(passes, logging.NewNop(), interval)
	r.retryDelay = 10 * time.Millisecond
	passes.runner = r
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func waitForDone(t *testing.T, passes *scriptedPasses, batchID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if passes.isDone(batchID) {
			return
		}
		select {
		case <-passes.done:
		case <-deadline:
			t.Fatalf("timed out waiting for batch %s to finish", batchID)
		}
	}
}

func TestRunnerDrivesBatchToCompletion(t *testing.T) {
	passes := newScriptedPasses()
	passes.passesLeft["b1"] = 3
	r := startRunner(t, passes, 5*time.Millisecond)

	if err := r.Schedule(context.Background(), "b1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitForDone(t, passes, "b1")

	if got := passes.runCount("b1"); got != 3 {
		t.Fatalf("run count = %d, want 3", got)
	}
}

func TestRunnerPacesConsecutivePasses(t *testing.T) {
	const interval = 60 * time.Millisecond
	passes := newScriptedPasses()
	passes.passesLeft["b1"] = 2
	r := startRunner(t, passes, interval)

	if err := r.Schedule(context.Background(), "b1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitForDone(t, passes, "b1")

	passes.mu.Lock()
	runs := passes.runs["b1"]
	passes.mu.Unlock()
	if len(runs) != 2 {
		t.Fatalf("run count = %d, want 2", len(runs))
	}
	if gap := runs[1].Sub(runs[0]); gap < interval/2 {
		t.Errorf("gap between passes = %v, want at least %v", gap, interval/2)
	}
}

func TestRunnerDeduplicatesScheduleRequests(t *testing.T) {
	passes := newScriptedPasses()
	passes.passesLeft["b1"] = 1
	r := startRunner(t, passes, 30*time.Millisecond)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := r.Schedule(ctx, "b1"); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	waitForDone(t, passes, "b1")
	time.Sleep(50 * time.Millisecond)

	if got := passes.runCount("b1"); got != 1 {
		t.Fatalf("run count = %d, want 1", got)
	}
}

func TestRunnerRetriesFailedPass(t *testing.T) {
	passes := newScriptedPasses()
	passes.passesLeft["b1"] = 1
	passes.err = errors.New("database locked")
	r := startRunner(t, passes, 5*time.Millisecond)

	if err := r.Schedule(context.Background(), "b1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitForDone(t, passes, "b1")

	if got := passes.runCount("b1"); got != 2 {
		t.Fatalf("run count = %d, want 2 (failed pass plus retry)", got)
	}
}

func TestRunnerBacksOffWhenPassKeepsFailing(t *testing.T) {
	passes := newScriptedPasses()
	passes.stickyErr = errors.New("database locked")
	r := New(passes, logging.NewNop(), 0)
	r.retryDelay = 20 * time.Millisecond
	passes.runner = r
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Stop)

	if err := r.Schedule(context.Background(), "b1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	time.Sleep(110 * time.Millisecond)

	got := passes.runCount("b1")
	if got < 2 {
		t.Fatalf("run count = %d, want the failing pass to be retried", got)
	}
	if got > 10 {
		t.Fatalf("run count = %d in 110ms, retries of a failing pass are not delayed", got)
	}
}

func TestRunnerDropsMissingBatch(t *testing.T) {
	passes := newScriptedPasses()
	passes.passesLeft["gone"] = 1
	passes.err = batch.ErrNotFound
	r := startRunner(t, passes, 5*time.Millisecond)

	if err := r.Schedule(context.Background(), "gone"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := passes.runCount("gone"); got != 1 {
		t.Fatalf("run count = %d, want 1 (no retry for missing batch)", got)
	}
}

func TestRunnerStartTwice(t *testing.T) {
	passes := newScriptedPasses()
	r := startRunner(t, passes, 5*time.Millisecond)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("second Start() should fail")
	}
}

type staticPending struct {
	ids []string
}

func (s *staticPending) RunningBatchIDs(context.Context) ([]string, error) {
	return s.ids, nil
}

func TestRunnerResume(t *testing.T) {
	passes := newScriptedPasses()
	passes.passesLeft["b1"] = 1
	passes.passesLeft["b2"] = 1
	r := startRunner(t, passes, 5*time.Millisecond)

	if err := r.Resume(context.Background(), &staticPending{ids: []string{"b1", "b2"}}); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitForDone(t, passes, "b1")
	waitForDone(t, passes, "b2")
}

package batch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

// stubOps simulates the remote collaborator. Each payload full name maps to a
// script: how many polls report in-flight before the operation completes.
type stubOps struct {
	mu sync.Mutex

	pollsNeeded map[string]int
	submitErrs  map[string]error
	pollErrs    map[string]error
	failCodes   map[string]string

	submits  map[string]int
	polls    map[string]int
	nextID   int
	handleOf map[string]string
	nameOf   map[string]string
}

func newStubOps() *stubOps {
	return &stubOps{
		pollsNeeded: make(map[string]int),
		submitErrs:  make(map[string]error),
		pollErrs:    make(map[string]error),
		failCodes:   make(map[string]string),
		submits:     make(map[string]int),
		polls:       make(map[string]int),
		handleOf:    make(map[string]string),
		nameOf:      make(map[string]string),
	}
}

func (s *stubOps) Submit(_ context.Context, payload remote.Payload) (string, *remote.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := payload.FullName
	s.submits[name]++
	if err := s.submitErrs[name]; err != nil {
		return "", nil, err
	}
	s.nextID++
	handle := fmt.Sprintf("04s%027d", s.nextID)
	s.handleOf[name] = handle
	s.nameOf[handle] = name
	return handle, &remote.Status{State: "Queued"}, nil
}

func (s *stubOps) Poll(_ context.Context, handle string) (*remote.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.nameOf[handle]
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", handle)
	}
	if err := s.pollErrs[name]; err != nil {
		return nil, err
	}
	s.polls[name]++
	if s.polls[name] < s.pollsNeeded[name] {
		return &remote.Status{State: "InProgress"}, nil
	}
	status := &remote.Status{Done: true, State: "Completed"}
	if code := s.failCodes[name]; code != "" {
		status.State = "Error"
		status.StatusCode = code
		status.Message = "remote rejected " + name
	}
	return status, nil
}

// memStore is an in-memory batch.Store that deep-copies on read and write,
// mimicking real persistence so passes cannot lean on shared pointers.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*batch.Batch
}

func newMemStore() *memStore {
	return &memStore{batches: make(map[string]*batch.Batch)}
}

func copyItem(item *batch.Item) *batch.Item {
	cp := *item
	if item.Status != nil {
		st := *item.Status
		cp.Status = &st
	}
	if item.Context != nil {
		cp.Context = append(json.RawMessage(nil), item.Context...)
	}
	return &cp
}

func copyBatch(b *batch.Batch) *batch.Batch {
	cp := *b
	cp.Items = make([]*batch.Item, 0, len(b.Items))
	for _, item := range b.Items {
		cp.Items = append(cp.Items, copyItem(item))
	}
	return &cp
}

func (m *memStore) CreateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id string) (*batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrNotFound, id)
	}
	return copyBatch(b), nil
}

func (m *memStore) UpdateItem(_ context.Context, batchID string, item *batch.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrNotFound, batchID)
	}
	for i, existing := range b.Items {
		if existing.Index == item.Index {
			b.Items[i] = copyItem(item)
			return nil
		}
	}
	return fmt.Errorf("item %d not found in batch %s", item.Index, batchID)
}

func (m *memStore) CompleteBatch(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", batch.ErrNotFound, id)
	}
	if b.State == batch.StateCompleted {
		return false, nil
	}
	b.State = batch.StateCompleted
	return true, nil
}

// recordingNotifier captures lifecycle events.
type recordingNotifier struct {
	mu        sync.Mutex
	started   []*batch.Batch
	completed []*batch.Batch
}

func (n *recordingNotifier) BatchStarted(_ context.Context, b *batch.Batch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, b)
	return nil
}

func (n *recordingNotifier) BatchCompleted(_ context.Context, b *batch.Batch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, b)
	return nil
}

func (n *recordingNotifier) completedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed)
}

// recordingScheduler records requested re-invocations without acting on them;
// tests drive passes by hand.
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []string
}

func (s *recordingScheduler) Schedule(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, batchID)
	return nil
}

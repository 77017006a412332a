package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/daemon"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
	"github.com/mehebubhossain/apex-mdapi/internal/testsupport"
)

// stubOps completes every handle on its first poll.
type stubOps struct {
	mu      sync.Mutex
	submits int
	polls   int
}

func (s *stubOps) Submit(ctx context.Context, payload remote.Payload) (string, *remote.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	return fmt.Sprintf("04s%09d", s.submits), &remote.Status{State: "InProgress"}, nil
}

func (s *stubOps) Poll(ctx context.Context, handle string) (*remote.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return &remote.Status{Done: true, State: "Completed"}, nil
}

func newTestDaemon(t *testing.T) (*daemon.Daemon, *stubOps) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ops := &stubOps{}

	d, err := daemon.New(cfg, st, ops, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New() error = %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)
	return d, ops
}

func TestDaemonRunsBatchToCompletion(t *testing.T) {
	d, ops := newTestDaemon(t)
	ctx := context.Background()

	created, err := d.CreateBatch(ctx, "deploy", []batch.ItemSpec{
		{Payload: remote.Payload{Action: remote.ActionCreate, Type: "CustomObject", FullName: "A__c", Body: json.RawMessage(`{"label":"A"}`)}},
		{Payload: remote.Payload{Action: remote.ActionDelete, Type: "CustomObject", FullName: "B__c"}, WaitForPrevious: true},
	})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	final, err := d.WaitForBatch(waitCtx, created.ID)
	if err != nil {
		t.Fatalf("WaitForBatch() error = %v", err)
	}
	if final.State != batch.StateCompleted {
		t.Fatalf("State = %q, want completed", final.State)
	}
	counts := final.Counts()
	if counts.Succeeded != 2 || counts.Failed != 0 {
		t.Fatalf("counts = %+v", counts)
	}

	ops.mu.Lock()
	defer ops.mu.Unlock()
	if ops.submits != 2 {
		t.Errorf("submits = %d, want 2", ops.submits)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, st, &stubOps{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New() error = %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Stop()

	cfg2 := *cfg
	cfg2.Paths.APIBind = "127.0.0.1:0"
	second, err := daemon.New(&cfg2, st, &stubOps{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New() error = %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second Start() should fail while the lock is held")
	}
}

func apiURL(t *testing.T, d *daemon.Daemon, path string) string {
	t.Helper()
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("api address not available")
	}
	return "http://" + addr + path
}

func TestAPIStatus(t *testing.T) {
	d, _ := newTestDaemon(t)

	resp, err := http.Get(apiURL(t, d, "/api/status"))
	if err != nil {
		t.Fatalf("GET /api/status error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var status daemon.StatusView
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Error("expected running daemon")
	}
	if status.DatabasePath == "" || status.LockFilePath == "" {
		t.Errorf("incomplete status: %+v", status)
	}
}

func TestAPICreateAndFetchBatch(t *testing.T) {
	d, _ := newTestDaemon(t)

	body := `{
        "name": "api deploy",
        "items": [
            {"action": "create", "type": "CustomObject", "full_name": "A__c", "body": {"label": "A"}},
            {"action": "update", "type": "CustomObject", "full_name": "A__c", "body": {"label": "B"}, "wait_for_previous": true}
        ]
    }`
	resp, err := http.Post(apiURL(t, d, "/api/batches"), "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST /api/batches error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var created daemon.BatchView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created batch: %v", err)
	}
	if created.ID == "" || created.Total != 2 {
		t.Fatalf("unexpected batch view: %+v", created)
	}
	if len(created.Items) != 2 || !created.Items[1].WaitForPrevious {
		t.Fatalf("unexpected items: %+v", created.Items)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.WaitForBatch(waitCtx, created.ID); err != nil {
		t.Fatalf("WaitForBatch() error = %v", err)
	}

	fetchResp, err := http.Get(apiURL(t, d, "/api/batches/"+created.ID))
	if err != nil {
		t.Fatalf("GET batch error = %v", err)
	}
	defer fetchResp.Body.Close()
	var fetched daemon.BatchView
	if err := json.NewDecoder(fetchResp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetched batch: %v", err)
	}
	if fetched.State != string(batch.StateCompleted) {
		t.Fatalf("State = %q, want completed", fetched.State)
	}
	if fetched.Succeeded != 2 {
		t.Fatalf("Succeeded = %d, want 2", fetched.Succeeded)
	}

	listResp, err := http.Get(apiURL(t, d, "/api/batches?state=completed"))
	if err != nil {
		t.Fatalf("GET batches error = %v", err)
	}
	defer listResp.Body.Close()
	var list daemon.BatchListResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode batch list: %v", err)
	}
	if len(list.Batches) != 1 {
		t.Fatalf("len(Batches) = %d, want 1", len(list.Batches))
	}
}

func TestAPIRejectsBadRequests(t *testing.T) {
	d, _ := newTestDaemon(t)

	resp, err := http.Post(apiURL(t, d, "/api/batches"), "application/json", bytes.NewReader([]byte(`{"name":""}`)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	missing, err := http.Get(apiURL(t, d, "/api/batches/nope"))
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}

	badState, err := http.Get(apiURL(t, d, "/api/batches?state=bogus"))
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	badState.Body.Close()
	if badState.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", badState.StatusCode)
	}
}

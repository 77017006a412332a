package batch_test

import (
	"testing"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

func TestNewAssignsListPositionsAsIndexes(t *testing.T) {
	b := batch.New("  demo  ", []batch.ItemSpec{
		specFor("One__c", false),
		specFor("Two__c", true),
	})
	if b.ID == "" {
		t.Fatal("expected generated batch id")
	}
	if b.Name != "demo" {
		t.Fatalf("name = %q, want trimmed %q", b.Name, "demo")
	}
	if b.State != batch.StateRunning {
		t.Fatalf("state = %s, want running", b.State)
	}
	for i, item := range b.Items {
		if item.Index != i {
			t.Fatalf("item %d has index %d", i, item.Index)
		}
		if item.Submitted() || item.Terminal() {
			t.Fatalf("new item %d must start unsubmitted and non-terminal", i)
		}
	}
	if !b.Items[1].WaitForPrevious {
		t.Fatal("wait flag not carried over")
	}
}

func TestParseState(t *testing.T) {
	if state, ok := batch.ParseState(" Running "); !ok || state != batch.StateRunning {
		t.Fatalf("ParseState(running) = %v, %v", state, ok)
	}
	if state, ok := batch.ParseState("completed"); !ok || state != batch.StateCompleted {
		t.Fatalf("ParseState(completed) = %v, %v", state, ok)
	}
	// The transient pass outcome is never a persisted state.
	if _, ok := batch.ParseState("awaiting_next_pass"); ok {
		t.Fatal("awaiting_next_pass must not parse as a persisted state")
	}
	if _, ok := batch.ParseState("bogus"); ok {
		t.Fatal("bogus state parsed")
	}
}

func TestItemTerminality(t *testing.T) {
	item := &batch.Item{Index: 0}
	if item.Terminal() {
		t.Fatal("fresh item must not be terminal")
	}
	item.Status = &remote.Status{State: "InProgress"}
	if item.Terminal() {
		t.Fatal("in-flight item must not be terminal")
	}
	item.Status = &remote.Status{Done: true, State: "Completed"}
	if !item.Terminal() || !item.Succeeded() {
		t.Fatal("done status must be terminal success")
	}

	failed := &batch.Item{Index: 1, Failure: "submit error"}
	if !failed.Terminal() || failed.Succeeded() {
		t.Fatal("failure must be terminal and not a success")
	}
}

func TestBatchCounts(t *testing.T) {
	b := &batch.Batch{Items: []*batch.Item{
		{Index: 0, Status: &remote.Status{Done: true, State: "Completed"}},
		{Index: 1, Failure: "poll error: timeout"},
		{Index: 2, Status: &remote.Status{Done: true, State: "Error", StatusCode: "DUPLICATE_VALUE"}},
		{Index: 3},
	}}
	counts := b.Counts()
	if counts.Total != 4 || counts.Succeeded != 1 || counts.Failed != 2 || counts.Pending != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if b.Terminal() {
		t.Fatal("batch with a pending item must not be terminal")
	}
}

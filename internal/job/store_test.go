package job

import (
	"errors"
	"testing"

	"github.com/ryabkov82/crm-writer/internal/operation"
)

func TestStoreLifecycle(t *testing.T) {
	store := NewStore()

	id := store.Create(&Run{Operation: "deal_create", Table: "deals.csv"})
	if id == "" {
		t.Fatal("Create() returned empty id")
	}

	run, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.State != StateIdle {
		t.Errorf("Expected state idle, got %s", run.State)
	}

	if err := store.UpdateState(id, StateAuthenticating); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if err := store.UpdateState(id, StateCompleted); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	run, _ = store.Get(id)
	if run.StartedAt == nil || run.FinishedAt == nil {
		t.Error("Expected StartedAt and FinishedAt to be set")
	}

	// Terminal runs do not move
	if err := store.UpdateState(id, StateDispatching); err == nil {
		t.Error("UpdateState() should fail for a finished run")
	}
}

func TestStoreCounters(t *testing.T) {
	store := NewStore()
	id := store.Create(&Run{Operation: "company_remove"})

	store.UpdateStats(id, operation.Stats{RowsRead: 3, Requests: 2}, 1)
	store.UpdateError(id, errors.New("boom"))

	run, _ := store.Get(id)
	if run.Stats.RowsRead != 3 || run.Stats.Requests != 2 {
		t.Errorf("Unexpected stats %+v", run.Stats)
	}
	if run.ErrorCount != 1 {
		t.Errorf("Expected ErrorCount=1, got %d", run.ErrorCount)
	}
	if run.LastError != "boom" {
		t.Errorf("Expected LastError 'boom', got %q", run.LastError)
	}

	store.UpdateError(id, nil)
	run, _ = store.Get(id)
	if run.LastError != "" {
		t.Errorf("Expected LastError cleared, got %q", run.LastError)
	}

	// Unknown ids are ignored
	store.UpdateStats("missing", operation.Stats{}, 0)
	if _, err := store.Get("missing"); err == nil {
		t.Error("Get() should fail for unknown id")
	}
}

func TestStoreListAndSummary(t *testing.T) {
	store := NewStore()
	a := store.Create(&Run{Table: "a.csv"})
	b := store.Create(&Run{Table: "b.csv"})
	store.UpdateState(b, StateFailed)

	runs := store.List()
	if len(runs) != 2 || runs[0].ID != a || runs[1].ID != b {
		t.Fatalf("List() returned %+v", runs)
	}

	summary := store.Summary()
	if summary[StateIdle] != 1 || summary[StateFailed] != 1 {
		t.Errorf("Unexpected summary %v", summary)
	}
}

package project

import (
	"errors"
	"testing"

	"github.com/AGENTFABRIC/internal/types"
)

func newTestStore() *Store {
	return NewStore(nil, nil, nil, nil)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	p, err := s.Create("apollo", []string{"ship v1"}, 100, "USD")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != types.ProjectActive {
		t.Errorf("status = %s, want active", p.Status)
	}

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "apollo" || len(got.Goals) != 1 {
		t.Errorf("got %+v, want apollo with one goal", got)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	s := newTestStore()
	if _, err := s.Create("", nil, 10, "USD"); err == nil {
		t.Error("empty name should fail")
	}
	if _, err := s.Create("x", nil, -1, "USD"); err == nil {
		t.Error("negative budget should fail")
	}
}

func TestGetUnknownProject(t *testing.T) {
	s := newTestStore()
	if _, err := s.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrderedByCreation(t *testing.T) {
	s := newTestStore()
	first, _ := s.Create("first", nil, 0, "USD")
	second, _ := s.Create("second", nil, 0, "USD")

	projects := s.List()
	if len(projects) != 2 {
		t.Fatalf("list length = %d, want 2", len(projects))
	}
	if projects[0].ID != first.ID || projects[1].ID != second.ID {
		t.Error("list should be ordered oldest first")
	}
}

func TestSleepWakeTransitions(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 10, "USD")

	if err := s.Sleep(p.ID); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if err := s.Sleep(p.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double sleep err = %v, want ErrInvalidState", err)
	}
	if err := s.Wake(p.ID); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if err := s.Wake(p.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double wake err = %v, want ErrInvalidState", err)
	}
}

func TestSleepPreservesMemoryAndBudget(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 100, "USD")
	s.MemoryPut(p.ID, types.MemoryLongTerm, "lesson", "cache first")
	s.RecordExpense(p.ID, 10, "inference", "")

	s.Sleep(p.ID)
	s.Wake(p.ID)

	v, ok, _ := s.MemoryGet(p.ID, types.MemoryLongTerm, "lesson")
	if !ok || v != "cache first" {
		t.Errorf("memory after wake = %v/%v, want cache first", v, ok)
	}
	summary, _ := s.BudgetSummary(p.ID)
	if summary.Spent != 10 || summary.Remaining != 90 {
		t.Errorf("budget after wake = %+v, want spent 10 remaining 90", summary)
	}
}

func TestMemoryPartitionsAreIsolated(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 0, "USD")

	s.MemoryPut(p.ID, types.MemoryShortTerm, "k", "short")
	s.MemoryPut(p.ID, types.MemoryLongTerm, "k", "long")
	s.MemoryPut(p.ID, types.MemoryContext, "k", "ctx")

	if v, _, _ := s.MemoryGet(p.ID, types.MemoryLongTerm, "k"); v != "long" {
		t.Errorf("long-term k = %v, want long", v)
	}

	if err := s.ClearShortTerm(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.MemoryGet(p.ID, types.MemoryShortTerm, "k"); ok {
		t.Error("short-term should be empty after clear")
	}
	if _, ok, _ := s.MemoryGet(p.ID, types.MemoryLongTerm, "k"); !ok {
		t.Error("clearing short-term must not touch long-term")
	}

	if err := s.MemoryPut(p.ID, "scratch", "k", 1); err == nil {
		t.Error("unknown partition should fail")
	}
}

func TestAgentBinding(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 0, "USD")

	s.AssignAgent(p.ID, "agent-1")
	s.AssignAgent(p.ID, "agent-1") // idempotent

	got, _ := s.Get(p.ID)
	if len(got.AgentIDs) != 1 {
		t.Errorf("agent bindings = %v, want exactly one", got.AgentIDs)
	}

	if err := s.UnassignAgent(p.ID, "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.UnassignAgent(p.ID, "agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTaskCounters(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 0, "USD")

	s.RecordTaskDispatched(p.ID)
	s.RecordTaskDispatched(p.ID)
	s.RecordTaskCompleted(p.ID)

	got, _ := s.Get(p.ID)
	if got.TasksDispatched != 2 || got.TasksCompleted != 1 {
		t.Errorf("counters = %d/%d, want 2/1", got.TasksDispatched, got.TasksCompleted)
	}
}

package project

import (
	"testing"

	"github.com/AGENTFABRIC/internal/types"
)

func TestPersistRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	persister, err := NewPersister(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := NewStore(persister, nil, nil, nil)
	p, err := s.Create("apollo", []string{"ship v1"}, 100, "USD")
	if err != nil {
		t.Fatal(err)
	}
	s.MemoryPut(p.ID, types.MemoryLongTerm, "lesson", "cache first")
	s.RecordExpense(p.ID, 25, "inference", "")

	// Flush synchronously instead of waiting out the debounce timer.
	entry, err := s.entry(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	entry.mu.Lock()
	doc := buildDocument(entry)
	entry.mu.Unlock()
	if err := persister.Save(p.ID, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewStore(persister, nil, nil, nil)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := restored.Get(p.ID)
	if err != nil {
		t.Fatalf("restored project missing: %v", err)
	}
	if got.Name != "apollo" {
		t.Errorf("name = %s, want apollo", got.Name)
	}
	v, ok, _ := restored.MemoryGet(p.ID, types.MemoryLongTerm, "lesson")
	if !ok || v != "cache first" {
		t.Errorf("restored memory = %v/%v, want cache first", v, ok)
	}
	summary, _ := restored.BudgetSummary(p.ID)
	if summary.Spent != 25 || summary.Remaining != 75 {
		t.Errorf("restored budget = %+v, want spent 25 remaining 75", summary)
	}
}

func TestRestoreEmptyDir(t *testing.T) {
	persister, err := NewPersister(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(persister, nil, nil, nil)
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore on empty dir: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("restored %d projects from empty dir", len(got))
	}
}

func TestRestoreFillsMissingPartitions(t *testing.T) {
	doc := Document{
		Memory: &MemoryDocument{
			Project: &types.Project{ID: "p1", Name: "bare", Status: types.ProjectActive},
		},
	}
	entry := entryFromDocument(doc)
	if entry == nil {
		t.Fatal("document with a project should reconstitute")
	}
	for _, part := range []types.MemoryPartition{types.MemoryShortTerm, types.MemoryLongTerm, types.MemoryContext} {
		if entry.memory[part] == nil {
			t.Errorf("partition %s not initialized", part)
		}
	}
	if entry.budget == nil {
		t.Error("missing budget should default to an empty one")
	}
}

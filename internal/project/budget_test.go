package project

import (
	"errors"
	"testing"

	"github.com/AGENTFABRIC/internal/types"
)

func TestRecordExpenseDebits(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 100, "USD")

	if err := s.RecordExpense(p.ID, 30, "inference", "batch run"); err != nil {
		t.Fatal(err)
	}

	summary, _ := s.BudgetSummary(p.ID)
	if summary.Spent != 30 || summary.Remaining != 70 {
		t.Errorf("summary = %+v, want spent 30 remaining 70", summary)
	}

	txs, _ := s.Transactions(p.ID)
	if len(txs) != 1 || txs[0].Kind != types.TxExpense || txs[0].Category != "inference" {
		t.Errorf("ledger = %+v, want one inference expense", txs)
	}
}

func TestRecordExpenseInsufficientFunds(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 10, "USD")

	if err := s.RecordExpense(p.ID, 11, "inference", ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	// A failed expense must not touch the ledger.
	summary, _ := s.BudgetSummary(p.ID)
	if summary.Spent != 0 || summary.Transactions != 0 {
		t.Errorf("summary after failed expense = %+v, want untouched", summary)
	}
}

func TestAddFundsRaisesTotal(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 10, "USD")

	if err := s.AddFunds(p.ID, 40, "top-up"); err != nil {
		t.Fatal(err)
	}
	summary, _ := s.BudgetSummary(p.ID)
	if summary.Total != 50 || summary.Remaining != 50 {
		t.Errorf("summary = %+v, want total 50 remaining 50", summary)
	}
}

func TestReserveAndRelease(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 100, "USD")

	if err := s.Reserve(p.ID, 60); err != nil {
		t.Fatal(err)
	}
	summary, _ := s.BudgetSummary(p.ID)
	if summary.Reserved != 60 || summary.Remaining != 40 {
		t.Errorf("after reserve = %+v, want reserved 60 remaining 40", summary)
	}

	// Reserved funds are not spendable.
	if err := s.RecordExpense(p.ID, 50, "inference", ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds against reserved funds", err)
	}

	if err := s.Release(p.ID, 70); !errors.Is(err, ErrExcessRelease) {
		t.Errorf("err = %v, want ErrExcessRelease", err)
	}
	if err := s.Release(p.ID, 60); err != nil {
		t.Fatal(err)
	}
	summary, _ = s.BudgetSummary(p.ID)
	if summary.Reserved != 0 || summary.Remaining != 100 {
		t.Errorf("after release = %+v, want reserved 0 remaining 100", summary)
	}
}

func TestThresholdAlertsFireOnce(t *testing.T) {
	var fired []float64
	alertFn := func(projectID string, threshold float64, summary types.BudgetSummary) {
		fired = append(fired, threshold)
	}

	s := NewStore(nil, nil, []float64{0.50, 0.90}, alertFn)
	p, _ := s.Create("apollo", nil, 100, "USD")

	s.RecordExpense(p.ID, 40, "a", "")
	if len(fired) != 0 {
		t.Fatalf("fired %v below first threshold", fired)
	}

	s.RecordExpense(p.ID, 10, "b", "") // spent 50 -> crosses 0.50
	if len(fired) != 1 || fired[0] != 0.50 {
		t.Fatalf("fired = %v, want [0.50]", fired)
	}

	s.RecordExpense(p.ID, 5, "c", "") // still between thresholds
	if len(fired) != 1 {
		t.Fatalf("threshold 0.50 fired again: %v", fired)
	}

	s.RecordExpense(p.ID, 45, "d", "") // spent 100 -> crosses 0.90
	if len(fired) != 2 || fired[1] != 0.90 {
		t.Fatalf("fired = %v, want [0.50 0.90]", fired)
	}
}

func TestReserveAndReleaseSchedulePersistence(t *testing.T) {
	persister, err := NewPersister(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(persister, nil, nil, nil)
	p, _ := s.Create("apollo", nil, 100, "USD")

	clearPending := func() {
		persister.mu.Lock()
		for id, timer := range persister.timers {
			timer.Stop()
			delete(persister.timers, id)
		}
		persister.mu.Unlock()
	}
	hasPending := func() bool {
		persister.mu.Lock()
		defer persister.mu.Unlock()
		_, ok := persister.timers[p.ID]
		return ok
	}

	clearPending()
	if err := s.Reserve(p.ID, 25); err != nil {
		t.Fatal(err)
	}
	if !hasPending() {
		t.Error("reserve should schedule a save")
	}

	clearPending()
	if err := s.Release(p.ID, 25); err != nil {
		t.Fatal(err)
	}
	if !hasPending() {
		t.Error("release should schedule a save")
	}
}

func TestThresholdsMeasureUnreservedFunds(t *testing.T) {
	var fired []float64
	alertFn := func(projectID string, threshold float64, summary types.BudgetSummary) {
		fired = append(fired, threshold)
	}

	s := NewStore(nil, nil, []float64{0.50, 0.75}, alertFn)
	p, _ := s.Create("apollo", nil, 10, "USD")

	if err := s.Reserve(p.ID, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(p.ID, 2); err != nil {
		t.Fatal(err)
	}
	// Earmarked funds shrink the spendable pool: 7 of 8 unreserved is
	// 87.5%, past both thresholds in one step.
	if err := s.RecordExpense(p.ID, 7, "inference", ""); err != nil {
		t.Fatal(err)
	}
	if len(fired) != 2 || fired[0] != 0.50 || fired[1] != 0.75 {
		t.Fatalf("fired = %v, want [0.50 0.75]", fired)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	s := newTestStore()
	p, _ := s.Create("apollo", nil, 100, "USD")

	if err := s.RecordExpense(p.ID, -1, "x", ""); err == nil {
		t.Error("negative expense should fail")
	}
	if err := s.Reserve(p.ID, -1); err == nil {
		t.Error("negative reserve should fail")
	}
	if err := s.Release(p.ID, -1); err == nil {
		t.Error("negative release should fail")
	}
	if err := s.AddFunds(p.ID, -1, ""); err == nil {
		t.Error("negative allocation should fail")
	}
}

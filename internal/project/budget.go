package project

import (
	"fmt"
	"time"

	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/types"
)

// RecordExpense debits the budget. Fails with ErrInsufficientFunds when the
// amount exceeds remaining funds. Newly crossed alert thresholds fire once.
func (s *Store) RecordExpense(id string, amount float64, category, description string) error {
	if amount < 0 {
		return fmt.Errorf("expense amount must be non-negative")
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	b := entry.budget
	if amount > b.Remaining {
		remaining := b.Remaining
		entry.mu.Unlock()
		return fmt.Errorf("%w: expense %.4f exceeds remaining %.4f", ErrInsufficientFunds, amount, remaining)
	}
	b.Remaining -= amount
	b.Spent += amount
	b.Transactions = append(b.Transactions, types.BudgetTransaction{
		Kind:        types.TxExpense,
		Amount:      amount,
		Category:    category,
		Description: description,
		Timestamp:   time.Now(),
	})
	fired := s.crossThresholdsLocked(b)
	summary := summarize(b)
	entry.mu.Unlock()

	for _, threshold := range fired {
		s.fireAlert(id, threshold, summary)
	}
	s.scheduleSave(id, entry)
	return nil
}

// AddFunds increases the budget total (an allocation event)
func (s *Store) AddFunds(id string, amount float64, description string) error {
	if amount < 0 {
		return fmt.Errorf("allocation amount must be non-negative")
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	b := entry.budget
	b.Total += amount
	b.Remaining += amount
	b.Transactions = append(b.Transactions, types.BudgetTransaction{
		Kind:        types.TxAllocation,
		Amount:      amount,
		Description: description,
		Timestamp:   time.Now(),
	})
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// Reserve earmarks funds, moving them from remaining to reserved
func (s *Store) Reserve(id string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("reserve amount must be non-negative")
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	b := entry.budget
	if amount > b.Remaining {
		remaining := b.Remaining
		entry.mu.Unlock()
		return fmt.Errorf("%w: reserve %.4f exceeds remaining %.4f", ErrInsufficientFunds, amount, remaining)
	}
	b.Remaining -= amount
	b.Reserved += amount
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// Release returns reserved funds to remaining. Releasing more than is
// reserved is rejected.
func (s *Store) Release(id string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("release amount must be non-negative")
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	b := entry.budget
	if amount > b.Reserved {
		reserved := b.Reserved
		entry.mu.Unlock()
		return fmt.Errorf("%w: release %.4f, reserved %.4f", ErrExcessRelease, amount, reserved)
	}
	b.Reserved -= amount
	b.Remaining += amount
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// BudgetSummary returns the read-only budget view
func (s *Store) BudgetSummary(id string) (types.BudgetSummary, error) {
	entry, err := s.entry(id)
	if err != nil {
		return types.BudgetSummary{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return summarize(entry.budget), nil
}

// Transactions returns a copy of the ledger
func (s *Store) Transactions(id string) ([]types.BudgetTransaction, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]types.BudgetTransaction(nil), entry.budget.Transactions...), nil
}

// crossThresholdsLocked returns thresholds newly crossed by the current
// spend fraction and marks them triggered. Caller holds entry.mu.
func (s *Store) crossThresholdsLocked(b *types.Budget) []float64 {
	frac := b.SpentFraction()
	var fired []float64
	for _, t := range b.AlertThresholds {
		if frac+1e-12 < t {
			continue
		}
		already := false
		for _, done := range b.Triggered {
			if done == t {
				already = true
				break
			}
		}
		if !already {
			b.Triggered = append(b.Triggered, t)
			fired = append(fired, t)
		}
	}
	return fired
}

// fireAlert invokes the alert callback and publishes a budget event
func (s *Store) fireAlert(projectID string, threshold float64, summary types.BudgetSummary) {
	if s.alertFn != nil {
		s.alertFn(projectID, threshold, summary)
	}
	if s.bus != nil {
		s.bus.Publish(events.NewEvent(events.EventBudgetAlert, "project-store", "all", events.PriorityHigh, map[string]interface{}{
			"project_id": projectID,
			"threshold":  threshold,
			"spent":      summary.Spent,
			"total":      summary.Total,
		}))
	}
}

func summarize(b *types.Budget) types.BudgetSummary {
	return types.BudgetSummary{
		Total:        b.Total,
		Spent:        b.Spent,
		Remaining:    b.Remaining,
		Reserved:     b.Reserved,
		Currency:     b.Currency,
		Transactions: len(b.Transactions),
		Triggered:    append([]float64(nil), b.Triggered...),
	}
}

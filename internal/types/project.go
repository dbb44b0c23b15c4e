package types

import (
	"fmt"
	"time"
)

// ProjectStatus tracks a project through its lifecycle
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectSleeping  ProjectStatus = "sleeping"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// MemoryPartition names one of the three project memory tiers
type MemoryPartition string

const (
	MemoryShortTerm MemoryPartition = "short_term"
	MemoryLongTerm  MemoryPartition = "long_term"
	MemoryContext   MemoryPartition = "context"
)

// ValidPartition reports whether p names a known memory partition
func ValidPartition(p MemoryPartition) bool {
	switch p {
	case MemoryShortTerm, MemoryLongTerm, MemoryContext:
		return true
	}
	return false
}

// Project is an isolated tenant with its own memory, goals and budget
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	Goals     []string      `json:"goals,omitempty"`
	AgentIDs  []string      `json:"agent_ids,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	TasksDispatched int `json:"tasks_dispatched"`
	TasksCompleted  int `json:"tasks_completed"`
}

// TransactionKind classifies budget ledger entries
type TransactionKind string

const (
	TxAllocation TransactionKind = "allocation"
	TxExpense    TransactionKind = "expense"
	TxRefund     TransactionKind = "refund"
	TxAdjustment TransactionKind = "adjustment"
)

// BudgetTransaction is one line of a project's spend ledger
type BudgetTransaction struct {
	Kind        TransactionKind `json:"kind"`
	Amount      float64         `json:"amount"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Budget tracks a project's funds, reservations and alert thresholds
type Budget struct {
	Total     float64 `json:"total"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
	Reserved  float64 `json:"reserved"`
	Currency  string  `json:"currency"`

	Transactions []BudgetTransaction `json:"transactions"`

	AlertThresholds []float64 `json:"alert_thresholds"`
	Triggered       []float64 `json:"triggered_alerts"`
}

// DefaultAlertThresholds returns the standard alert ladder
func DefaultAlertThresholds() []float64 {
	return []float64{0.50, 0.75, 0.90, 1.00}
}

// NewBudget allocates a budget with the given total
func NewBudget(total float64, currency string) *Budget {
	if currency == "" {
		currency = "USD"
	}
	return &Budget{
		Total:     total,
		Remaining: total,
		Currency:  currency,
		Transactions: []BudgetTransaction{
			{Kind: TxAllocation, Amount: total, Description: "initial allocation", Timestamp: time.Now()},
		},
		AlertThresholds: DefaultAlertThresholds(),
		Triggered:       []float64{},
	}
}

// SpentFraction returns spent over unreserved funds. Earmarked funds are
// not spendable, so they do not dilute the fraction.
func (b *Budget) SpentFraction() float64 {
	unreserved := b.Total - b.Reserved
	if unreserved <= 0 {
		return 0
	}
	return b.Spent / unreserved
}

// CheckInvariant verifies spent + remaining + reserved == total
func (b *Budget) CheckInvariant() error {
	sum := b.Spent + b.Remaining + b.Reserved
	const eps = 1e-9
	if diff := sum - b.Total; diff > eps || diff < -eps {
		return fmt.Errorf("budget invariant violated: spent=%.6f remaining=%.6f reserved=%.6f total=%.6f",
			b.Spent, b.Remaining, b.Reserved, b.Total)
	}
	return nil
}

// BudgetSummary is the read-only view returned by the store
type BudgetSummary struct {
	Total        float64   `json:"total"`
	Spent        float64   `json:"spent"`
	Remaining    float64   `json:"remaining"`
	Reserved     float64   `json:"reserved"`
	Currency     string    `json:"currency"`
	Transactions int       `json:"transactions"`
	Triggered    []float64 `json:"triggered_alerts"`
}

package costguard

import (
	"log"
	"sync"
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

// costLogCapacity bounds the in-memory ring
const costLogCapacity = 10000

// CostRecorder persists cost entries beyond the ring window
type CostRecorder interface {
	RecordCost(entry types.CostEntry) error
}

// CostLog is an append-only ring buffer of cost entries under a single
// writer discipline.
type CostLog struct {
	mu      sync.Mutex
	entries []types.CostEntry
	start   int // ring head when full
	full    bool

	recorder CostRecorder
}

// NewCostLog creates a cost log. recorder may be nil.
func NewCostLog(recorder CostRecorder) *CostLog {
	return &CostLog{
		entries:  make([]types.CostEntry, 0, costLogCapacity),
		recorder: recorder,
	}
}

// Append records one operation's cost
func (l *CostLog) Append(operation string, cost float64) {
	entry := types.CostEntry{
		Operation: operation,
		Cost:      cost,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	if !l.full && len(l.entries) < costLogCapacity {
		l.entries = append(l.entries, entry)
		if len(l.entries) == costLogCapacity {
			l.full = true
		}
	} else {
		l.entries[l.start] = entry
		l.start = (l.start + 1) % costLogCapacity
	}
	l.mu.Unlock()

	if l.recorder != nil {
		if err := l.recorder.RecordCost(entry); err != nil {
			log.Printf("[COSTLOG] persist failed: %v", err)
		}
	}
}

// snapshot returns entries in append order
func (l *CostLog) snapshot() []types.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]types.CostEntry(nil), l.entries...)
	}
	out := make([]types.CostEntry, 0, costLogCapacity)
	out = append(out, l.entries[l.start:]...)
	out = append(out, l.entries[:l.start]...)
	return out
}

// Len returns the number of retained entries
func (l *CostLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// OperationSummary aggregates one operation tag over the summary window
type OperationSummary struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// Summary is the /cost/summary payload
type Summary struct {
	PeriodHours  float64                     `json:"period_hours"`
	Entries      int                         `json:"entries"`
	TotalCost    float64                     `json:"total_cost"`
	ByOperation  map[string]OperationSummary `json:"by_operation"`
	BaselineCost float64                     `json:"baseline_cost"`
	Savings      float64                     `json:"savings"`
}

// Summarize aggregates entries younger than the period and computes savings
// against an all-external baseline.
func (l *CostLog) Summarize(period time.Duration) Summary {
	cutoff := time.Now().Add(-period)
	summary := Summary{
		PeriodHours: period.Hours(),
		ByOperation: make(map[string]OperationSummary),
	}

	for _, e := range l.snapshot() {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		summary.Entries++
		summary.TotalCost += e.Cost
		op := summary.ByOperation[e.Operation]
		op.Count++
		op.Total += e.Cost
		summary.ByOperation[e.Operation] = op
	}

	summary.BaselineCost = float64(summary.Entries) * CostExternal
	summary.Savings = summary.BaselineCost - summary.TotalCost
	return summary
}

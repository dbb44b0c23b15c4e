package costguard

import (
	"context"
	"log"
	"sync"
	"time"
)

// Batch cost model: one flush costs base + n*delta, which undercuts n
// individual external dispatches.
const (
	BatchBaseCost  = 0.002
	BatchDeltaCost = 0.0003
)

// BatchRequest is one deferred inference request
type BatchRequest struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// BatchResult is one processed request from a flush
type BatchResult struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result"`
	Cost   float64     `json:"cost"`
	Error  string      `json:"error,omitempty"`
}

// FlushReport summarizes one batch flush
type FlushReport struct {
	Results   []BatchResult `json:"results"`
	TotalCost float64       `json:"total_cost"`
	Savings   float64       `json:"savings"`
}

// Batcher accumulates deferred requests and flushes them through the
// external collaborator when the batch fills or the wait timer fires.
type Batcher struct {
	mu      sync.Mutex
	pending []BatchRequest
	timer   *time.Timer

	size    int
	maxWait time.Duration
	flushFn func([]BatchRequest) FlushReport
}

// NewBatcher creates a batch collector
func NewBatcher(size int, maxWait time.Duration, flushFn func([]BatchRequest) FlushReport) *Batcher {
	if size < 1 {
		size = 10
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Batcher{
		size:    size,
		maxWait: maxWait,
		flushFn: flushFn,
	}
}

// Enqueue defers a request. The batch flushes when it reaches its size
// bound; otherwise a timer guarantees flush within maxWait.
func (b *Batcher) Enqueue(req BatchRequest) {
	b.mu.Lock()
	b.pending = append(b.pending, req)
	if len(b.pending) >= b.size {
		batch := b.pending
		b.pending = nil
		b.stopTimerLocked()
		b.mu.Unlock()
		b.flush(batch)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, func() { b.Flush() })
	}
	b.mu.Unlock()
}

// Flush processes everything pending and returns the report
func (b *Batcher) Flush() FlushReport {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	return b.flush(batch)
}

// Pending returns the number of queued requests
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close flushes any remainder
func (b *Batcher) Close(ctx context.Context) {
	b.Flush()
}

func (b *Batcher) flush(batch []BatchRequest) FlushReport {
	if len(batch) == 0 {
		return FlushReport{}
	}
	report := b.flushFn(batch)
	log.Printf("[COSTGUARD] batch flushed: %d requests, cost=%.4f savings=%.4f",
		len(batch), report.TotalCost, report.Savings)
	return report
}

// stopTimerLocked cancels the wait timer. Caller holds b.mu.
func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

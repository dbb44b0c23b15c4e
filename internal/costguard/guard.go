package costguard

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AGENTFABRIC/internal/types"
	"github.com/google/uuid"
)

// ErrCostCapExceeded rejects a request whose estimated cost exceeds its cap
var ErrCostCapExceeded = errors.New("estimated cost exceeds max_cost")

// Per-route cost estimates
const (
	CostLocal    = 0.0001
	CostExternal = 0.002
)

// Local-routing heuristic bounds
const (
	localWordLimit   = 50
	localHashPercent = 70
)

// Inferencer is a collaborator that serves an inference request
type Inferencer interface {
	Infer(ctx context.Context, prompt, model string) (interface{}, error)
}

// Request is a cost-guarded inference request
type Request struct {
	Prompt   string         `json:"prompt"`
	Model    string         `json:"model"` // "local", "external" or "auto"
	MaxCost  float64        `json:"max_cost"`
	Priority types.Priority `json:"priority"`
}

// Result reports how a request was served
type Result struct {
	Route   string      `json:"route"` // cache, local, batch, external
	Result  interface{} `json:"result,omitempty"`
	Cached  bool        `json:"cached"`
	Queued  bool        `json:"queued"`
	Cost    float64     `json:"cost"`
	Savings float64     `json:"savings"`
}

// ROIDecision is the /roi/evaluate payload
type ROIDecision struct {
	Operation      string  `json:"operation"`
	EstimatedCost  float64 `json:"estimated_cost"`
	ExpectedValue  float64 `json:"expected_value"`
	ROI            float64 `json:"roi"`
	Proceed        bool    `json:"proceed"`
	Recommendation string  `json:"recommendation"`
}

// Guard is the admission controller for inference-class operations:
// cache-first, then local, then batch, then external, each logged.
type Guard struct {
	cache   *Cache
	costLog *CostLog
	batcher *Batcher

	local    Inferencer
	external Inferencer
}

// NewGuard wires the cost guard. batchSize/batchWait come from config.
func NewGuard(cache *Cache, costLog *CostLog, local, external Inferencer, batchSize int, batchWait time.Duration) *Guard {
	g := &Guard{
		cache:    cache,
		costLog:  costLog,
		local:    local,
		external: external,
	}
	g.batcher = NewBatcher(batchSize, batchWait, g.flushBatch)
	return g
}

// Cache exposes the underlying cache for stats and clearing
func (g *Guard) Cache() *Cache { return g.cache }

// CostLog exposes the underlying cost log for summaries
func (g *Guard) CostLog() *CostLog { return g.costLog }

// Batcher exposes the batch collector
func (g *Guard) Batcher() *Batcher { return g.batcher }

// Infer serves a request cache-first, then routes local / batch / external
// under the admission gate.
func (g *Guard) Infer(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.Model == "" {
		req.Model = "auto"
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}

	fp := Fingerprint(req.Prompt, req.Model)
	if cached, ok := g.cache.Get(fp); ok {
		return &Result{
			Route:   "cache",
			Result:  cached,
			Cached:  true,
			Cost:    0,
			Savings: CostExternal,
		}, nil
	}

	if ShouldUseLocal(req.Prompt, req.Model) {
		if err := admit(CostLocal, req.MaxCost); err != nil {
			return nil, err
		}
		out, err := g.local.Infer(ctx, req.Prompt, "local")
		if err != nil {
			return nil, fmt.Errorf("local inference failed: %w", err)
		}
		g.cache.Put(fp, out)
		g.costLog.Append("local_inference", CostLocal)
		return &Result{
			Route:   "local",
			Result:  out,
			Cost:    CostLocal,
			Savings: CostExternal - CostLocal,
		}, nil
	}

	if req.Priority.Rank() >= 3 {
		// Routine external work (normal and below) is deferred to the
		// batch collector. Critical and high dispatch immediately.
		estimated := BatchBaseCost/float64(g.batcher.size) + BatchDeltaCost
		if err := admit(estimated, req.MaxCost); err != nil {
			return nil, err
		}
		g.batcher.Enqueue(BatchRequest{
			ID:     uuid.New().String(),
			Prompt: req.Prompt,
			Model:  req.Model,
		})
		return &Result{
			Route:   "batch",
			Queued:  true,
			Cost:    estimated,
			Savings: CostExternal - estimated,
		}, nil
	}

	if err := admit(CostExternal, req.MaxCost); err != nil {
		return nil, err
	}
	out, err := g.external.Infer(ctx, req.Prompt, req.Model)
	if err != nil {
		return nil, fmt.Errorf("external inference failed: %w", err)
	}
	g.cache.Put(fp, out)
	g.costLog.Append("external_api", CostExternal)
	return &Result{
		Route:  "external",
		Result: out,
		Cost:   CostExternal,
	}, nil
}

// ProcessBatch serves an explicit batch submission synchronously
func (g *Guard) ProcessBatch(reqs []BatchRequest) FlushReport {
	for i := range reqs {
		if reqs[i].ID == "" {
			reqs[i].ID = uuid.New().String()
		}
	}
	return g.flushBatch(reqs)
}

// EvaluateROI gates an operation on expected value against estimated cost
func (g *Guard) EvaluateROI(operation string, estimatedCost, expectedValue float64) ROIDecision {
	d := ROIDecision{
		Operation:     operation,
		EstimatedCost: estimatedCost,
		ExpectedValue: expectedValue,
	}
	if estimatedCost > 0 {
		d.ROI = (expectedValue - estimatedCost) / estimatedCost
	}
	d.Proceed = expectedValue > estimatedCost
	if d.Proceed {
		d.Recommendation = "proceed"
	} else {
		d.Recommendation = "skip: expected value does not cover cost"
	}
	return d
}

// ShouldUseLocal applies the deterministic local-routing heuristic.
// "auto" routes locally for short prompts, and otherwise for ~70% of
// prompts by hash.
func ShouldUseLocal(prompt, model string) bool {
	switch model {
	case "local":
		return true
	case "external":
		return false
	}
	if len(strings.Fields(prompt)) < localWordLimit {
		return true
	}
	sum := sha256.Sum256([]byte(prompt))
	// First 8 hex chars = first 4 bytes.
	return binary.BigEndian.Uint32(sum[:4])%100 < localHashPercent
}

// admit rejects work whose estimated cost exceeds the cap. A non-positive
// cap means unlimited.
func admit(estimated, maxCost float64) error {
	if maxCost > 0 && estimated > maxCost {
		return fmt.Errorf("%w: estimated %.4f > cap %.4f", ErrCostCapExceeded, estimated, maxCost)
	}
	return nil
}

// flushBatch serves a batch through the external collaborator, caching
// every result and logging the shared cost.
func (g *Guard) flushBatch(batch []BatchRequest) FlushReport {
	if len(batch) == 0 {
		return FlushReport{}
	}
	total := BatchBaseCost + float64(len(batch))*BatchDeltaCost
	perRequest := total / float64(len(batch))

	report := FlushReport{
		TotalCost: total,
		Savings:   float64(len(batch))*CostExternal - total,
	}
	for _, req := range batch {
		res := BatchResult{ID: req.ID, Cost: perRequest}
		out, err := g.external.Infer(context.Background(), req.Prompt, req.Model)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = out
			g.cache.Put(Fingerprint(req.Prompt, req.Model), out)
		}
		report.Results = append(report.Results, res)
	}
	g.costLog.Append("batch_inference", total)
	return report
}

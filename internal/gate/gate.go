package gate

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/types"
)

// Sentinel errors surfaced to the facade
var (
	ErrNotFound     = errors.New("decision not found")
	ErrExpired      = errors.New("decision expired")
	ErrNotApproved  = errors.New("decision not approved for execution")
	ErrNotPending   = errors.New("decision is not pending approval")
	ErrAlreadyFinal = errors.New("decision already finalized")
)

// Recorder persists decision transitions for audit
type Recorder interface {
	RecordDecision(d *types.Decision) error
}

// Gate classifies proposed actions, runs the rule chain and manages the
// human approval queue. The pending map is guarded by one lock; approval
// writes are single-threaded per request id by that lock.
type Gate struct {
	mu        sync.Mutex
	decisions map[string]*types.Decision

	chain    *Chain
	timeout  time.Duration
	recorder Recorder
	bus      *events.Bus
}

// NewGate creates a decision gate. recorder and bus may be nil.
func NewGate(chain *Chain, timeout time.Duration, recorder Recorder, bus *events.Bus) *Gate {
	if chain == nil {
		chain = DefaultChain()
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Gate{
		decisions: make(map[string]*types.Decision),
		chain:     chain,
		timeout:   timeout,
		recorder:  recorder,
		bus:       bus,
	}
}

// Evaluate classifies the proposed actions, runs the rule chain and files
// the resulting decision. Low-criticality decisions are auto-approved at
// creation.
func (g *Gate) Evaluate(userInput string, actions []types.ProposedAction, requestedBy, projectID string) (*types.Decision, error) {
	now := time.Now()
	crit := Classify(actions)
	cost := EstimateCost(actions)

	verdict := g.chain.Evaluate(RuleContext{
		UserInput:     userInput,
		Actions:       actions,
		Criticality:   crit,
		EstimatedCost: cost,
		RequestedBy:   requestedBy,
		ProjectID:     projectID,
	})

	d := &types.Decision{
		ID:                decisionID(userInput, actions, now),
		UserInput:         userInput,
		RequestedBy:       requestedBy,
		ProjectID:         projectID,
		Actions:           actions,
		Criticality:       crit,
		EstimatedCost:     cost,
		EstimatedDuration: EstimateDuration(actions),
		RuleTrace:         verdict.Trace,
		CreatedAt:         now,
		ExpiresAt:         now.Add(g.timeout),
	}

	switch {
	case !verdict.Approved:
		d.Status = types.DecisionRejected
		d.Reason = verdict.Reason
	case crit == types.CriticalityLow:
		d.Status = types.DecisionAutoApproved
	default:
		d.Status = types.DecisionPendingApproval
		d.Reason = fmt.Sprintf("%s criticality requires approval", crit)
	}

	g.mu.Lock()
	g.decisions[d.ID] = d
	g.mu.Unlock()

	g.record(d)
	g.publish(d)
	log.Printf("[GATE] decision %s: criticality=%s status=%s cost=%.4f", d.ID, crit, d.Status, cost)
	return copyDecision(d), nil
}

// Get returns a decision, applying lazy expiry on access
func (g *Gate) Get(id string) (*types.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	g.expireLocked(d)
	return copyDecision(d), nil
}

// Approve resolves a pending decision. approved=false rejects it.
func (g *Gate) Approve(id string, approved bool, by string) (*types.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	g.expireLocked(d)

	switch d.Status {
	case types.DecisionExpired:
		return copyDecision(d), fmt.Errorf("decision %s: %w", id, ErrExpired)
	case types.DecisionPendingApproval:
	default:
		return copyDecision(d), fmt.Errorf("decision %s is %s: %w", id, d.Status, ErrNotPending)
	}

	now := time.Now()
	if approved {
		d.Status = types.DecisionApproved
		d.ApprovedAt = &now
	} else {
		d.Status = types.DecisionRejected
		d.Reason = fmt.Sprintf("rejected by %s", by)
	}

	g.record(d)
	g.publish(d)
	return copyDecision(d), nil
}

// MarkExecuting transitions a decision to Executing. Only AutoApproved and
// Approved decisions may execute, and never after expiry.
func (g *Gate) MarkExecuting(id string) (*types.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	g.expireLocked(d)

	switch d.Status {
	case types.DecisionAutoApproved, types.DecisionApproved:
	case types.DecisionExpired:
		return copyDecision(d), fmt.Errorf("decision %s: %w", id, ErrExpired)
	default:
		return copyDecision(d), fmt.Errorf("decision %s is %s: %w", id, d.Status, ErrNotApproved)
	}

	now := time.Now()
	d.Status = types.DecisionExecuting
	d.ExecutedAt = &now
	g.record(d)
	return copyDecision(d), nil
}

// MarkCompleted finalizes an executing decision
func (g *Gate) MarkCompleted(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[id]
	if !ok {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if d.Status != types.DecisionExecuting {
		return fmt.Errorf("decision %s is %s: %w", id, d.Status, ErrAlreadyFinal)
	}
	d.Status = types.DecisionCompleted
	g.record(d)
	return nil
}

// Pending returns the human approval queue: non-expired pending decisions,
// oldest first.
func (g *Gate) Pending() []*types.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*types.ApprovalRequest
	for _, d := range g.decisions {
		g.expireLocked(d)
		if d.Status == types.DecisionPendingApproval {
			out = append(out, d.ApprovalView())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// expireLocked applies lazy expiry. Caller holds g.mu.
func (g *Gate) expireLocked(d *types.Decision) {
	if d.Status == types.DecisionPendingApproval && time.Now().After(d.ExpiresAt) {
		d.Status = types.DecisionExpired
		g.record(d)
	}
}

func (g *Gate) record(d *types.Decision) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.RecordDecision(d); err != nil {
		log.Printf("[GATE] audit record failed for %s: %v", d.ID, err)
	}
}

func (g *Gate) publish(d *types.Decision) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.NewEvent(events.EventDecision, "gate", "all", events.PriorityHigh, map[string]interface{}{
		"decision_id": d.ID,
		"status":      string(d.Status),
		"criticality": string(d.Criticality),
	}))
}

// decisionID hashes the inputs and creation timestamp into a 16-hex-char id
func decisionID(userInput string, actions []types.ProposedAction, ts time.Time) string {
	payload, _ := json.Marshal(actions)
	h := sha256.New()
	h.Write([]byte(userInput))
	h.Write(payload)
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

func copyDecision(d *types.Decision) *types.Decision {
	cp := *d
	cp.Actions = append([]types.ProposedAction(nil), d.Actions...)
	cp.RuleTrace = append([]types.RuleResult(nil), d.RuleTrace...)
	return &cp
}

// Package compose fans worker outputs into a single response. Three
// strategies are supported: best picks the highest-confidence output,
// majority groups structurally equal payloads, comprehensive returns
// everything under a performance-weighted aggregate confidence.
package compose

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/AGENTFABRIC/internal/registry"
	"github.com/AGENTFABRIC/internal/types"
)

// minConfidence rejects compositions whose aggregate confidence falls below it
const minConfidence = 0.1

// OutputView is one worker output as presented in a composed response
type OutputView struct {
	AgentID      string      `json:"agent_id"`
	AgentType    string      `json:"agent_type,omitempty"`
	Payload      interface{} `json:"payload"`
	Confidence   float64     `json:"confidence"`
	ProcessingMs int64       `json:"processing_ms"`
	Weight       float64     `json:"weight,omitempty"`
}

// Composed is the fan-in result returned to the facade
type Composed struct {
	Strategy   types.ComposeStrategy `json:"strategy"`
	Success    bool                  `json:"success"`
	Response   interface{}           `json:"response,omitempty"`
	Confidence float64               `json:"confidence"`
	Outputs    []OutputView          `json:"outputs,omitempty"`
	Agreement  int                   `json:"agreement,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// Composer merges worker outputs. The registry supplies performance
// weights for the comprehensive strategy; it may be nil, in which case
// every agent weighs 1.0.
type Composer struct {
	registry *registry.Registry
}

// NewComposer creates a composer
func NewComposer(reg *registry.Registry) *Composer {
	return &Composer{registry: reg}
}

// Compose merges outputs under the given strategy. All-failed input or an
// aggregate confidence below 0.1 yields a synthetic failure response with
// the failure reasons concatenated.
func (c *Composer) Compose(outputs []types.WorkerOutput, strategy types.ComposeStrategy) (*Composed, error) {
	if !types.ValidComposeStrategy(strategy) {
		return nil, fmt.Errorf("unknown compose strategy: %s", strategy)
	}
	if len(outputs) == 0 {
		return rejected(strategy, "no worker outputs"), nil
	}

	var ok []types.WorkerOutput
	var reasons []string
	for _, o := range outputs {
		if o.Success {
			ok = append(ok, o)
		} else if o.Error != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", o.AgentID, o.Error))
		} else {
			reasons = append(reasons, fmt.Sprintf("%s: failed", o.AgentID))
		}
	}
	if len(ok) == 0 {
		return rejected(strategy, "all workers failed: "+strings.Join(reasons, "; ")), nil
	}

	var composed *Composed
	switch strategy {
	case types.ComposeBest:
		composed = c.best(ok)
	case types.ComposeMajority:
		composed = c.majority(ok)
	case types.ComposeComprehensive:
		composed = c.comprehensive(ok)
	}

	if composed.Confidence < minConfidence {
		reason := fmt.Sprintf("aggregate confidence %.3f below %.1f", composed.Confidence, minConfidence)
		if len(reasons) > 0 {
			reason += "; " + strings.Join(reasons, "; ")
		}
		return rejected(strategy, reason), nil
	}

	log.Printf("[COMPOSE] strategy=%s outputs=%d confidence=%.3f", strategy, len(ok), composed.Confidence)
	return composed, nil
}

// best selects the single highest-confidence output. Ties break by
// shortest processing time, then lexicographic agent id.
func (c *Composer) best(outputs []types.WorkerOutput) *Composed {
	winner := outputs[0]
	for _, o := range outputs[1:] {
		switch {
		case o.Confidence > winner.Confidence:
			winner = o
		case o.Confidence == winner.Confidence && o.ProcessingTime < winner.ProcessingTime:
			winner = o
		case o.Confidence == winner.Confidence && o.ProcessingTime == winner.ProcessingTime && o.AgentID < winner.AgentID:
			winner = o
		}
	}
	return &Composed{
		Strategy:   types.ComposeBest,
		Success:    true,
		Response:   winner.Payload,
		Confidence: winner.Confidence,
		Outputs:    []OutputView{view(winner, 0)},
	}
}

// majority groups outputs by canonical-JSON payload equality and returns
// the group with the largest summed confidence.
func (c *Composer) majority(outputs []types.WorkerOutput) *Composed {
	groups := make(map[string][]types.WorkerOutput)
	sums := make(map[string]float64)
	total := 0.0

	for _, o := range outputs {
		key := canonical(o.Payload)
		groups[key] = append(groups[key], o)
		sums[key] += o.Confidence
		total += o.Confidence
	}

	var bestKey string
	for key := range groups {
		if bestKey == "" || sums[key] > sums[bestKey] {
			bestKey = key
		}
	}

	winning := groups[bestKey]
	sort.Slice(winning, func(i, j int) bool { return winning[i].AgentID < winning[j].AgentID })

	confidence := 1.0
	if total > 0 {
		confidence = sums[bestKey] / total
	}

	views := make([]OutputView, 0, len(winning))
	for _, o := range winning {
		views = append(views, view(o, 0))
	}

	return &Composed{
		Strategy:   types.ComposeMajority,
		Success:    true,
		Response:   winning[0].Payload,
		Confidence: confidence,
		Outputs:    views,
		Agreement:  len(winning),
	}
}

// comprehensive returns every output annotated with its confidence, under
// an aggregate weighted by each agent's current performance score.
func (c *Composer) comprehensive(outputs []types.WorkerOutput) *Composed {
	var weightedSum, weightTotal float64
	views := make([]OutputView, 0, len(outputs))
	payloads := make([]interface{}, 0, len(outputs))

	for _, o := range outputs {
		w := c.weight(o.AgentID)
		weightedSum += o.Confidence * w
		weightTotal += w
		views = append(views, view(o, w))
		payloads = append(payloads, o.Payload)
	}

	confidence := 0.0
	if weightTotal > 0 {
		confidence = weightedSum / weightTotal
	}

	return &Composed{
		Strategy:   types.ComposeComprehensive,
		Success:    true,
		Response:   payloads,
		Confidence: confidence,
		Outputs:    views,
	}
}

// weight looks up the agent's performance score, defaulting to 1.0 for
// agents the registry no longer tracks
func (c *Composer) weight(agentID string) float64 {
	if c.registry == nil {
		return 1.0
	}
	agent, err := c.registry.Get(agentID)
	if err != nil {
		return 1.0
	}
	return agent.Performance
}

// canonical renders a payload as canonical JSON for structural equality.
// encoding/json emits map keys in sorted order.
func canonical(payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("!unmarshalable:%v", payload)
	}
	return string(data)
}

func view(o types.WorkerOutput, weight float64) OutputView {
	return OutputView{
		AgentID:      o.AgentID,
		AgentType:    o.AgentType,
		Payload:      o.Payload,
		Confidence:   o.Confidence,
		ProcessingMs: o.ProcessingTime.Milliseconds(),
		Weight:       weight,
	}
}

func rejected(strategy types.ComposeStrategy, reason string) *Composed {
	return &Composed{
		Strategy: strategy,
		Success:  false,
		Reason:   reason,
	}
}

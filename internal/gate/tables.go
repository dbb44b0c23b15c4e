package gate

import (
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

// criticalityTable is the closed action-type → criticality mapping
var criticalityTable = map[types.ActionType]types.Criticality{
	types.ActionDataDeletion:     types.CriticalityCritical,
	types.ActionExternalAPICall:  types.CriticalityHigh,
	types.ActionCodeExecution:    types.CriticalityHigh,
	types.ActionFileModification: types.CriticalityMedium,
	types.ActionDataQuery:        types.CriticalityLow,
	types.ActionCacheOperation:   types.CriticalityLow,
}

// costTable estimates dollars per action type
var costTable = map[types.ActionType]float64{
	types.ActionExternalAPICall:  0.01,
	types.ActionCodeExecution:    0.005,
	types.ActionFileModification: 0.002,
	types.ActionDataDeletion:     0.001,
	types.ActionDataQuery:        0.0005,
	types.ActionCacheOperation:   0.0001,
}

// durationTable estimates wall time per action type
var durationTable = map[types.ActionType]time.Duration{
	types.ActionExternalAPICall:  2 * time.Second,
	types.ActionCodeExecution:    5 * time.Second,
	types.ActionFileModification: time.Second,
	types.ActionDataDeletion:     time.Second,
	types.ActionDataQuery:        500 * time.Millisecond,
	types.ActionCacheOperation:   100 * time.Millisecond,
}

// Per-operation cost hints for inference-class work, additive with the
// action table when present in action params.
const (
	CostAPICall         = 0.01
	CostImageGeneration = 0.04
	CostVideoGeneration = 0.30
	CostLLMInference    = 0.002
)

// ClassifyAction returns the criticality of one action type. Unknown types
// default to Medium.
func ClassifyAction(t types.ActionType) types.Criticality {
	if c, ok := criticalityTable[t]; ok {
		return c
	}
	return types.CriticalityMedium
}

// Classify returns the maximum criticality over the proposed actions.
// A decision with no actions is Low.
func Classify(actions []types.ProposedAction) types.Criticality {
	crit := types.CriticalityLow
	for _, a := range actions {
		crit = crit.Max(ClassifyAction(a.Type))
	}
	return crit
}

// EstimateCost sums per-action cost estimates
func EstimateCost(actions []types.ProposedAction) float64 {
	var total float64
	for _, a := range actions {
		if c, ok := costTable[a.Type]; ok {
			total += c
		} else {
			total += CostLLMInference
		}
	}
	return total
}

// EstimateDuration sums per-action duration estimates
func EstimateDuration(actions []types.ProposedAction) time.Duration {
	var total time.Duration
	for _, a := range actions {
		if d, ok := durationTable[a.Type]; ok {
			total += d
		} else {
			total += time.Second
		}
	}
	return total
}

package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

func out(agentID string, payload interface{}, confidence float64, processing time.Duration) types.WorkerOutput {
	return types.WorkerOutput{
		AgentID:        agentID,
		Payload:        payload,
		Confidence:     confidence,
		ProcessingTime: processing,
		Success:        true,
	}
}

func TestComposeBestPicksHighestConfidence(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose([]types.WorkerOutput{
		out("a1", "weak", 0.5, time.Second),
		out("a2", "strong", 0.9, time.Second),
	}, types.ComposeBest)
	if err != nil {
		t.Fatal(err)
	}
	if !composed.Success {
		t.Fatal("compose should succeed")
	}
	if composed.Response != "strong" || composed.Confidence != 0.9 {
		t.Errorf("response = %v confidence = %v, want strong/0.9", composed.Response, composed.Confidence)
	}
}

func TestComposeBestTieBreaks(t *testing.T) {
	c := NewComposer(nil)

	// Equal confidence: faster processing wins.
	composed, _ := c.Compose([]types.WorkerOutput{
		out("a1", "slow", 0.8, 2*time.Second),
		out("a2", "fast", 0.8, time.Second),
	}, types.ComposeBest)
	if composed.Response != "fast" {
		t.Errorf("response = %v, want fast on processing-time tie-break", composed.Response)
	}

	// Fully tied: lexicographically smaller agent id wins.
	composed, _ = c.Compose([]types.WorkerOutput{
		out("zeta", "z", 0.8, time.Second),
		out("alpha", "a", 0.8, time.Second),
	}, types.ComposeBest)
	if composed.Response != "a" {
		t.Errorf("response = %v, want a on agent-id tie-break", composed.Response)
	}
}

func TestComposeMajorityGroupsByPayload(t *testing.T) {
	c := NewComposer(nil)
	// Structural equality, not pointer identity: two maps with the same
	// content form one group.
	composed, err := c.Compose([]types.WorkerOutput{
		out("a1", map[string]interface{}{"answer": 42}, 0.6, time.Second),
		out("a2", map[string]interface{}{"answer": 42}, 0.6, time.Second),
		out("a3", map[string]interface{}{"answer": 7}, 0.9, time.Second),
	}, types.ComposeMajority)
	if err != nil {
		t.Fatal(err)
	}
	if composed.Agreement != 2 {
		t.Errorf("agreement = %d, want 2", composed.Agreement)
	}
	resp, ok := composed.Response.(map[string]interface{})
	if !ok || resp["answer"] != 42 {
		t.Errorf("response = %v, want the agreeing answer 42", composed.Response)
	}
	// Confidence is the winning group's share: 1.2 / 2.1.
	want := 1.2 / 2.1
	if diff := composed.Confidence - want; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("confidence = %v, want %v", composed.Confidence, want)
	}
}

func TestComposeComprehensiveReturnsEverything(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose([]types.WorkerOutput{
		out("a1", "one", 0.4, time.Second),
		out("a2", "two", 0.8, time.Second),
	}, types.ComposeComprehensive)
	if err != nil {
		t.Fatal(err)
	}
	payloads, ok := composed.Response.([]interface{})
	if !ok || len(payloads) != 2 {
		t.Fatalf("response = %v, want both payloads", composed.Response)
	}
	// Unit weights without a registry: plain mean.
	if diff := composed.Confidence - 0.6; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("confidence = %v, want 0.6", composed.Confidence)
	}
	for _, v := range composed.Outputs {
		if v.Weight != 1.0 {
			t.Errorf("weight = %v, want 1.0 without a registry", v.Weight)
		}
	}
}

func TestComposeAllFailedRejected(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose([]types.WorkerOutput{
		{AgentID: "a1", Success: false, Error: "boom"},
		{AgentID: "a2", Success: false},
	}, types.ComposeBest)
	if err != nil {
		t.Fatal(err)
	}
	if composed.Success {
		t.Fatal("all-failed input must not compose")
	}
	if !strings.Contains(composed.Reason, "a1: boom") {
		t.Errorf("reason = %q, want the per-agent failure", composed.Reason)
	}
}

func TestComposeLowConfidenceRejected(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose([]types.WorkerOutput{
		out("a1", "noise", 0.05, time.Second),
	}, types.ComposeBest)
	if err != nil {
		t.Fatal(err)
	}
	if composed.Success {
		t.Error("confidence below 0.1 must be rejected")
	}
}

func TestComposeIgnoresFailedOutputs(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose([]types.WorkerOutput{
		out("a1", "good", 0.9, time.Second),
		{AgentID: "a2", Success: false, Error: "boom", Confidence: 1.0},
	}, types.ComposeBest)
	if err != nil {
		t.Fatal(err)
	}
	if !composed.Success || composed.Response != "good" {
		t.Errorf("composed = %+v, want the surviving output", composed)
	}
}

func TestComposeUnknownStrategy(t *testing.T) {
	c := NewComposer(nil)
	if _, err := c.Compose(nil, "fanciest"); err == nil {
		t.Error("unknown strategy should fail")
	}
}

func TestComposeEmptyOutputs(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose(nil, types.ComposeBest)
	if err != nil {
		t.Fatal(err)
	}
	if composed.Success {
		t.Error("empty input must not compose")
	}
}

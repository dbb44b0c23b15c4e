package registry

import (
	"context"
	"log"

	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/types"
)

// genericSeed is the profile used for elastically spawned agents
var genericSeed = types.SeedSpec{
	Type:          "generic",
	Capabilities:  []types.Capability{types.CapGeneric},
	MaxConcurrent: 2,
}

// ScaleResult reports the outcome of one scaling evaluation
type ScaleResult struct {
	Action     string   `json:"action"` // scale_up, scale_down, none
	QueueDepth int      `json:"queue_depth"`
	Spawned    []string `json:"spawned,omitempty"`
	Terminated []string `json:"terminated,omitempty"`
	Live       int      `json:"live"`
}

// QueueDepthFunc reports the current pending-task backlog
type QueueDepthFunc func() int

// AutoScaler resizes the registry based on queue pressure. It reacts to
// task-completion events on the bus and to explicit scale commands.
// Spawns and terminations go through the registry; the scaler never touches
// agent state directly.
type AutoScaler struct {
	registry   *Registry
	cfg        types.ScalerConfig
	bus        *events.Bus
	queueDepth QueueDepthFunc
}

// NewAutoScaler creates an auto-scaler bound to the registry
func NewAutoScaler(reg *Registry, cfg types.ScalerConfig, bus *events.Bus, depth QueueDepthFunc) *AutoScaler {
	return &AutoScaler{
		registry:   reg,
		cfg:        cfg,
		bus:        bus,
		queueDepth: depth,
	}
}

// Run reacts to task-completion events until the context is done
func (s *AutoScaler) Run(ctx context.Context) {
	if s.bus == nil {
		return
	}
	ch := s.bus.Subscribe("auto-scaler", []events.EventType{events.EventTaskCompleted, events.EventTaskFailed})
	defer s.bus.Unsubscribe("auto-scaler", ch)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			depth := 0
			if s.queueDepth != nil {
				depth = s.queueDepth()
			}
			s.Evaluate(depth)
		}
	}
}

// Evaluate applies the scaling rules for the observed queue depth.
// Scale-up: depth > up-threshold spawns depth/10 generic agents, capped at
// max_agents. Scale-down: depth < down-threshold terminates idle agents
// with the lowest performance scores, never dropping below min_agents.
func (s *AutoScaler) Evaluate(queueDepth int) ScaleResult {
	result := ScaleResult{Action: "none", QueueDepth: queueDepth}

	live := s.registry.Count()
	switch {
	case queueDepth > s.cfg.ScaleUpThreshold:
		want := queueDepth / 10
		if room := s.registry.Max() - live; want > room {
			want = room
		}
		for i := 0; i < want; i++ {
			agent, err := s.registry.Spawn(genericSeed.Type, genericSeed.Capabilities, genericSeed.MaxConcurrent)
			if err != nil {
				log.Printf("[SCALER] spawn failed: %v", err)
				break
			}
			result.Spawned = append(result.Spawned, agent.ID)
		}
		if len(result.Spawned) > 0 {
			result.Action = "scale_up"
		}

	case queueDepth < s.cfg.ScaleDownThreshold && live > s.registry.Min():
		// Idle agents only; Busy agents are never scale-down candidates.
		excess := live - s.registry.Min()
		for _, agent := range s.registry.IdleAgents() {
			if excess <= 0 {
				break
			}
			if err := s.registry.Terminate(agent.ID); err != nil {
				// Lost a race with an assignment; skip.
				continue
			}
			result.Terminated = append(result.Terminated, agent.ID)
			excess--
		}
		if len(result.Terminated) > 0 {
			result.Action = "scale_down"
		}
	}

	result.Live = s.registry.Count()

	if result.Action != "none" {
		log.Printf("[SCALER] %s: depth=%d spawned=%d terminated=%d live=%d",
			result.Action, queueDepth, len(result.Spawned), len(result.Terminated), result.Live)
		if s.bus != nil {
			s.bus.Publish(events.NewEvent(events.EventScale, "auto-scaler", "all", events.PriorityNormal, map[string]interface{}{
				"action":      result.Action,
				"queue_depth": queueDepth,
				"live":        result.Live,
			}))
		}
	}
	return result
}

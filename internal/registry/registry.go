package registry

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AGENTFABRIC/internal/types"
	"github.com/google/uuid"
)

// Sentinel errors surfaced to the facade
var (
	ErrCapacityExhausted = errors.New("registry at maximum capacity")
	ErrBusy              = errors.New("agent has tasks in flight")
	ErrNotFound          = errors.New("agent not found")
	ErrNoAgentAvailable  = errors.New("no agent available for capability")
)

// Performance score smoothing: s = 0.7*s_prev + 0.3*success_rate
const (
	scoreCarryWeight  = 0.7
	scoreSampleWeight = 0.3
)

// Registry owns the agent pool. All structural mutation happens under a
// single registry-wide lock; per-agent fields are accessed under the same
// lock.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent

	min int
	max int
}

// NewRegistry creates a registry and seeds min_agents agents across the
// configured seed distribution, round-robin.
func NewRegistry(cfg types.RegistryConfig) (*Registry, error) {
	if cfg.MinAgents < 1 || cfg.MaxAgents < cfg.MinAgents {
		return nil, fmt.Errorf("invalid registry bounds: min=%d max=%d", cfg.MinAgents, cfg.MaxAgents)
	}
	if len(cfg.Seeds) == 0 {
		return nil, fmt.Errorf("registry requires at least one seed spec")
	}

	r := &Registry{
		agents: make(map[string]*types.Agent),
		min:    cfg.MinAgents,
		max:    cfg.MaxAgents,
	}

	for i := 0; i < cfg.MinAgents; i++ {
		seed := cfg.Seeds[i%len(cfg.Seeds)]
		if _, err := r.Spawn(seed.Type, seed.Capabilities, seed.MaxConcurrent); err != nil {
			return nil, fmt.Errorf("failed to seed agent %d: %w", i, err)
		}
	}
	return r, nil
}

// Min returns the lower pool bound
func (r *Registry) Min() int { return r.min }

// Max returns the upper pool bound
func (r *Registry) Max() int { return r.max }

// Spawn creates a new agent. Fails with ErrCapacityExhausted when the pool
// is already at max_agents.
func (r *Registry) Spawn(agentType string, caps []types.Capability, maxConcurrent int) (*types.Agent, error) {
	if agentType == "" {
		return nil, fmt.Errorf("agent type is required")
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if len(caps) == 0 {
		caps = []types.Capability{types.CapGeneric}
	}
	for _, c := range caps {
		if !types.ValidCapability(c) {
			return nil, fmt.Errorf("unknown capability: %s", c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.agents) >= r.max {
		return nil, fmt.Errorf("%w: %d agents", ErrCapacityExhausted, len(r.agents))
	}

	now := time.Now()
	agent := &types.Agent{
		ID:            fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8]),
		Type:          agentType,
		Capabilities:  append([]types.Capability(nil), caps...),
		Status:        types.StatusInitializing,
		MaxConcurrent: maxConcurrent,
		CurrentTasks:  []string{},
		Performance:   1.0,
		SpawnedAt:     now,
		LastActive:    now,
	}
	// Initialization is synchronous; the agent is immediately ready.
	agent.Status = types.StatusIdle

	r.agents[agent.ID] = agent
	log.Printf("[REGISTRY] spawned %s (%s, caps=%v)", agent.ID, agentType, caps)
	return snapshot(agent), nil
}

// Terminate removes an agent. Fails with ErrBusy when the agent still owns
// tasks.
func (r *Registry) Terminate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if len(agent.CurrentTasks) > 0 {
		return fmt.Errorf("agent %s: %w (%d tasks)", id, ErrBusy, len(agent.CurrentTasks))
	}
	agent.Status = types.StatusTerminated
	delete(r.agents, id)
	log.Printf("[REGISTRY] terminated %s", id)
	return nil
}

// FindAvailable returns the idle agent with the highest performance score
// serving the capability. Ties break by lowest load, then lexicographic id,
// so selection is deterministic.
func (r *Registry) FindAvailable(cap types.Capability) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Agent
	for _, a := range r.agents {
		if !a.HasCapability(cap) || a.Status != types.StatusIdle || a.Load() >= a.MaxConcurrent {
			continue
		}
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s: %w", cap, ErrNoAgentAvailable)
	}
	return snapshot(best), nil
}

// better reports whether a should be preferred over b
func better(a, b *types.Agent) bool {
	if a.Performance != b.Performance {
		return a.Performance > b.Performance
	}
	if a.Load() != b.Load() {
		return a.Load() < b.Load()
	}
	return a.ID < b.ID
}

// Assign binds a task to an agent and marks it busy
func (r *Registry) Assign(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if len(agent.CurrentTasks) >= agent.MaxConcurrent {
		return fmt.Errorf("agent %s: %w", agentID, ErrBusy)
	}
	agent.CurrentTasks = append(agent.CurrentTasks, taskID)
	agent.Status = types.StatusBusy
	agent.LastActive = time.Now()
	return nil
}

// Complete releases a task from an agent, updates its counters and
// recomputes the smoothed performance score.
func (r *Registry) Complete(agentID, taskID string, success bool, processing time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}

	found := false
	for i, t := range agent.CurrentTasks {
		if t == taskID {
			agent.CurrentTasks = append(agent.CurrentTasks[:i], agent.CurrentTasks[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("task %s not held by agent %s: %w", taskID, agentID, ErrNotFound)
	}

	if success {
		agent.TasksCompleted++
	} else {
		agent.TasksFailed++
	}
	agent.TotalProcessing += processing
	agent.LastActive = time.Now()

	if total := agent.TasksCompleted + agent.TasksFailed; total > 0 {
		rate := float64(agent.TasksCompleted) / float64(total)
		agent.Performance = scoreCarryWeight*agent.Performance + scoreSampleWeight*rate
	}

	if len(agent.CurrentTasks) == 0 {
		agent.Status = types.StatusIdle
	}
	return nil
}

// Touch refreshes an agent's last-active timestamp (heartbeats)
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	if agent, ok := r.agents[agentID]; ok {
		agent.LastActive = time.Now()
	}
	r.mu.Unlock()
}

// Get returns a snapshot of one agent
func (r *Registry) Get(id string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return snapshot(agent), nil
}

// List returns snapshots of all live agents, ordered by id
func (r *Registry) List() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, snapshot(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentsByCapability returns snapshots of agents serving the capability
func (r *Registry) AgentsByCapability(cap types.Capability) []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Agent
	for _, a := range r.agents {
		if a.HasCapability(cap) {
			out = append(out, snapshot(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live agents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// IdleAgents returns snapshots of idle agents with no tasks, sorted by
// ascending performance score (scale-down candidates first)
func (r *Registry) IdleAgents() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Agent
	for _, a := range r.agents {
		if a.Status == types.StatusIdle && len(a.CurrentTasks) == 0 {
			out = append(out, snapshot(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Performance != out[j].Performance {
			return out[i].Performance < out[j].Performance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats summarizes the pool for the /stats endpoint
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByType          map[string]int `json:"by_type"`
	MeanPerformance float64        `json:"mean_performance"`
	Utilization     float64        `json:"utilization"`
	Min             int            `json:"min_agents"`
	Max             int            `json:"max_agents"`
}

// Snapshot computes pool statistics
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:    len(r.agents),
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
		Min:      r.min,
		Max:      r.max,
	}
	var perfSum float64
	var load, capacity int
	for _, a := range r.agents {
		stats.ByStatus[string(a.Status)]++
		stats.ByType[a.Type]++
		perfSum += a.Performance
		load += len(a.CurrentTasks)
		capacity += a.MaxConcurrent
	}
	if stats.Total > 0 {
		stats.MeanPerformance = perfSum / float64(stats.Total)
	}
	if capacity > 0 {
		stats.Utilization = float64(load) / float64(capacity)
	}
	return stats
}

// snapshot copies an agent record for callers outside the lock
func snapshot(a *types.Agent) *types.Agent {
	cp := *a
	cp.Capabilities = append([]types.Capability(nil), a.Capabilities...)
	cp.CurrentTasks = append([]string(nil), a.CurrentTasks...)
	return &cp
}

// Package dispatch owns task execution: it walks a workflow's DAG in
// dependency order, consults the cost guard for inference-class tasks,
// binds each task to a capability-matched agent and drives retries,
// deadlines and dependency skips.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AGENTFABRIC/internal/costguard"
	"github.com/AGENTFABRIC/internal/events"
	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/registry"
	"github.com/AGENTFABRIC/internal/types"
)

// defaultTaskTimeout bounds a single attempt when neither the task nor the
// workflow carries a deadline
const defaultTaskTimeout = 60 * time.Second

// inferenceClass marks task types that must pass through the cost guard
var inferenceClass = map[string]bool{
	"generate": true,
	"research": true,
}

// spawnSpec describes the agent type spawned for a capability when no
// live agent can serve it
type spawnSpec struct {
	agentType     string
	capabilities  []types.Capability
	maxConcurrent int
}

// capabilitySpawn is the closed capability -> agent type mapping
var capabilitySpawn = map[types.Capability]spawnSpec{
	types.CapDataIngestion:     {"learning", []types.Capability{types.CapDataIngestion, types.CapDataQuery}, 2},
	types.CapDataQuery:         {"learning", []types.Capability{types.CapDataIngestion, types.CapDataQuery}, 2},
	types.CapTechScouting:      {"tech_scout", []types.Capability{types.CapTechScouting}, 2},
	types.CapCodeAnalysis:      {"experimenter", []types.Capability{types.CapCodeAnalysis, types.CapValidation}, 2},
	types.CapValidation:        {"experimenter", []types.Capability{types.CapCodeAnalysis, types.CapValidation}, 2},
	types.CapFinance:           {"cost_optimizer", []types.Capability{types.CapFinance, types.CapAggregation}, 2},
	types.CapAggregation:       {"cost_optimizer", []types.Capability{types.CapFinance, types.CapAggregation}, 2},
	types.CapContentGeneration: {"generic", []types.Capability{types.CapGeneric}, 2},
	types.CapGeneric:           {"generic", []types.Capability{types.CapGeneric}, 2},
}

// Dispatcher executes workflows against the agent registry
type Dispatcher struct {
	registry *registry.Registry
	guard    *costguard.Guard
	executor Executor
	queue    *Queue
	bus      *events.Bus
}

// NewDispatcher creates a dispatcher. guard and bus may be nil; a nil
// executor defaults to in-process execution.
func NewDispatcher(reg *registry.Registry, guard *costguard.Guard, executor Executor, bus *events.Bus) *Dispatcher {
	if executor == nil {
		executor = NewInProcessExecutor(nil)
	}
	return &Dispatcher{
		registry: reg,
		guard:    guard,
		executor: executor,
		queue:    NewQueue(),
		bus:      bus,
	}
}

// QueueDepth returns the overflow queue depth, feeding the auto-scaler
func (d *Dispatcher) QueueDepth() int {
	return d.queue.Len()
}

// Queued returns a snapshot of overflow tasks
func (d *Dispatcher) Queued() []*types.Task {
	return d.queue.All()
}

// Enqueue parks a task on the overflow queue until capacity frees up
func (d *Dispatcher) Enqueue(t *types.Task) {
	t.State = types.TaskQueued
	d.queue.Add(t)
	d.publish(events.EventTaskQueued, t, "")
	log.Printf("[DISPATCH] task %s queued (overflow depth %d)", t.ID, d.queue.Len())
}

// DrainOverflow re-dispatches queued overflow tasks while capacity is
// available. Returns the results of the tasks that ran.
func (d *Dispatcher) DrainOverflow(ctx context.Context) []*Result {
	var results []*Result
	for {
		head := d.queue.Peek()
		if head == nil {
			break
		}
		if _, err := d.registry.FindAvailable(head.Capability); err != nil {
			break
		}
		t := d.queue.Pop()
		if t == nil {
			break
		}
		t.State = types.TaskPending
		wf := NewWorkflow("", "", []*types.Task{t}, time.Time{})
		results = append(results, d.Run(ctx, wf))
	}
	return results
}

// Run executes the workflow's DAG. Tasks whose dependencies all completed
// run concurrently within a wave; a task whose dependency failed is skipped
// and reported. Run returns when every task is terminal or queued.
func (d *Dispatcher) Run(ctx context.Context, wf *Workflow) *Result {
	for {
		if !wf.Deadline.IsZero() && time.Now().After(wf.Deadline) {
			for _, t := range wf.pendingTasks() {
				wf.skip(t.ID, "workflow deadline exceeded")
			}
			wf.finalize(true)
			return wf.result()
		}

		pending := wf.pendingTasks()
		if len(pending) == 0 {
			break
		}

		var wave []*types.Task
		progressed := false
		for _, t := range pending {
			ready, blockedBy := wf.satisfied(t)
			if blockedBy != "" {
				wf.skip(t.ID, fmt.Sprintf("dependency %s failed", blockedBy))
				progressed = true
				continue
			}
			if ready {
				wave = append(wave, t)
			}
		}

		if len(wave) == 0 {
			if !progressed {
				for _, t := range wf.pendingTasks() {
					wf.skip(t.ID, "unresolvable dependency")
				}
				break
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range wave {
			task := t
			g.Go(func() error {
				d.runTask(gctx, wf, task)
				return nil
			})
		}
		g.Wait()
	}

	wf.finalize(false)
	return wf.result()
}

// runTask drives one task through admission, assignment, execution and
// retries until it reaches a terminal or queued state.
func (d *Dispatcher) runTask(ctx context.Context, wf *Workflow, t *types.Task) {
	if d.guard != nil && inferenceClass[t.Type] {
		if done := d.admit(ctx, wf, t); done {
			return
		}
	}

	for {
		agent, err := d.findAgent(t.Capability)
		if err != nil {
			d.queue.Add(t)
			wf.setState(t.ID, types.TaskQueued)
			d.publish(events.EventTaskQueued, t, "")
			log.Printf("[DISPATCH] task %s queued: %v", t.ID, err)
			return
		}

		if err := d.registry.Assign(t.ID, agent.ID); err != nil {
			// Lost a race for the agent's last slot; try again.
			continue
		}
		// An attempt is an execution. Assignment races do not count.
		t.Attempts++
		t.AssignedTo = agent.ID
		now := time.Now()
		t.AssignedAt = &now
		wf.setState(t.ID, types.TaskAssigned)
		d.publish(events.EventTaskAssigned, t, agent.ID)

		wf.setState(t.ID, types.TaskRunning)

		attemptCtx, cancel := context.WithDeadline(ctx, d.attemptDeadline(wf, t))
		out, execErr := d.executor.Execute(attemptCtx, fabricnats.TaskAssignment{
			TaskID:     t.ID,
			WorkflowID: wf.ID,
			AgentID:    agent.ID,
			Name:       t.Type,
			Capability: t.Capability,
			Priority:   t.Priority,
			Payload:    t.Parameters,
			Deadline:   d.attemptDeadline(wf, t),
			Attempt:    t.Attempts,
		})
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		out.AgentType = agent.Type
		processing := out.ProcessingTime

		if execErr == nil && out.Success {
			d.registry.Complete(agent.ID, t.ID, true, processing)
			done := time.Now()
			t.CompletedAt = &done
			t.Result = out.Payload
			wf.setState(t.ID, types.TaskCompleted)
			wf.recordOutput(t.ID, out)
			d.publish(events.EventTaskCompleted, t, agent.ID)
			return
		}

		d.registry.Complete(agent.ID, t.ID, false, processing)

		if timedOut {
			// Deadline-exceeded attempts are never retried.
			t.Error = "deadline exceeded"
			wf.setState(t.ID, types.TaskTimedOut)
			wf.recordOutput(t.ID, failedOutput(t, agent.Type, t.Error))
			d.publish(events.EventTaskFailed, t, agent.ID)
			return
		}

		if execErr != nil {
			t.Error = execErr.Error()
		} else {
			t.Error = out.Error
		}

		if t.Attempts >= t.Retry.MaxAttempts {
			wf.setState(t.ID, types.TaskFailed)
			wf.recordOutput(t.ID, failedOutput(t, agent.Type, t.Error))
			d.publish(events.EventTaskFailed, t, agent.ID)
			log.Printf("[DISPATCH] task %s failed after %d attempts: %s", t.ID, t.Attempts, t.Error)
			return
		}

		// Failed -> Pending for the next attempt after backoff.
		wf.setState(t.ID, types.TaskPending)
		select {
		case <-ctx.Done():
			wf.setState(t.ID, types.TaskCancelled)
			return
		case <-time.After(t.Retry.Delay(t.Attempts)):
		}
	}
}

// admit runs the cost guard for an inference-class task. Returns true when
// the task was fully handled (batched) and needs no agent.
func (d *Dispatcher) admit(ctx context.Context, wf *Workflow, t *types.Task) bool {
	prompt, _ := t.Parameters["prompt"].(string)
	if prompt == "" {
		prompt = t.Type + " " + t.ID
	}
	maxCost, _ := t.Parameters["max_cost"].(float64)

	res, err := d.guard.Infer(ctx, costguard.Request{
		Prompt:   prompt,
		Model:    "auto",
		MaxCost:  maxCost,
		Priority: t.Priority,
	})
	if err != nil {
		if errors.Is(err, costguard.ErrCostCapExceeded) {
			t.Error = err.Error()
			wf.setState(t.ID, types.TaskFailed)
			wf.recordOutput(t.ID, failedOutput(t, "", t.Error))
			d.publish(events.EventTaskFailed, t, "")
			return true
		}
		log.Printf("[DISPATCH] cost guard error for %s: %v", t.ID, err)
		return false
	}

	if res.Queued {
		// Batched work completes out of band; dependents proceed.
		t.Result = map[string]interface{}{"queued": true, "route": res.Route}
		wf.setState(t.ID, types.TaskQueued)
		wf.recordOutput(t.ID, types.WorkerOutput{
			TaskID:     t.ID,
			AgentID:    "cost-guard",
			AgentType:  "batch",
			Payload:    t.Result,
			Confidence: 0.5,
			Success:    true,
		})
		d.publish(events.EventTaskQueued, t, "")
		return true
	}

	if t.Parameters == nil {
		t.Parameters = make(map[string]interface{})
	}
	t.Parameters["inference"] = res.Result
	t.Parameters["inference_route"] = res.Route
	return false
}

// findAgent locates an available agent, spawning one for the capability
// when the pool has none.
func (d *Dispatcher) findAgent(cap types.Capability) (*types.Agent, error) {
	agent, err := d.registry.FindAvailable(cap)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, registry.ErrNoAgentAvailable) {
		return nil, err
	}

	spec, ok := capabilitySpawn[cap]
	if !ok {
		spec = capabilitySpawn[types.CapGeneric]
	}
	spawned, spawnErr := d.registry.Spawn(spec.agentType, spec.capabilities, spec.maxConcurrent)
	if spawnErr != nil {
		return nil, spawnErr
	}
	log.Printf("[DISPATCH] spawned %s for capability %s", spawned.ID, cap)
	return spawned, nil
}

// attemptDeadline derives the per-attempt deadline from task, retry policy
// and workflow deadlines, whichever is soonest.
func (d *Dispatcher) attemptDeadline(wf *Workflow, t *types.Task) time.Time {
	deadline := time.Now().Add(defaultTaskTimeout)
	if t.Retry.AttemptTimeout > 0 {
		deadline = time.Now().Add(t.Retry.AttemptTimeout)
	}
	if t.Deadline != nil && t.Deadline.Before(deadline) {
		deadline = *t.Deadline
	}
	if !wf.Deadline.IsZero() && wf.Deadline.Before(deadline) {
		deadline = wf.Deadline
	}
	return deadline
}

func (d *Dispatcher) publish(eventType events.EventType, t *types.Task, agentID string) {
	if d.bus == nil {
		return
	}
	priority := events.PriorityNormal
	if eventType == events.EventTaskFailed {
		priority = events.PriorityHigh
	}
	d.bus.Publish(events.NewEvent(eventType, "dispatcher", "all", priority, map[string]interface{}{
		"task_id":  t.ID,
		"state":    string(t.State),
		"agent_id": agentID,
	}))
}

func failedOutput(t *types.Task, agentType, reason string) types.WorkerOutput {
	return types.WorkerOutput{
		TaskID:    t.ID,
		AgentID:   t.AssignedTo,
		AgentType: agentType,
		Success:   false,
		Error:     reason,
	}
}

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AGENTFABRIC/internal/costguard"
	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/registry"
	"github.com/AGENTFABRIC/internal/types"
	"github.com/AGENTFABRIC/internal/worker"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry(types.RegistryConfig{
		MinAgents: 2,
		MaxAgents: 50,
		Seeds: []types.SeedSpec{
			{Type: "learning", Capabilities: []types.Capability{types.CapDataIngestion, types.CapDataQuery}, MaxConcurrent: 2},
			{Type: "tech_scout", Capabilities: []types.Capability{types.CapTechScouting}, MaxConcurrent: 2},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// stubExecutor fails each task id a configured number of times, then succeeds.
type stubExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newStubExecutor(failures map[string]int) *stubExecutor {
	if failures == nil {
		failures = map[string]int{}
	}
	return &stubExecutor{failures: failures, calls: map[string]int{}}
}

func (s *stubExecutor) Execute(ctx context.Context, a fabricnats.TaskAssignment) (types.WorkerOutput, error) {
	s.mu.Lock()
	s.calls[a.TaskID]++
	remaining := s.failures[a.TaskID]
	if remaining > 0 {
		s.failures[a.TaskID]--
	}
	s.mu.Unlock()

	out := types.WorkerOutput{
		TaskID:     a.TaskID,
		AgentID:    a.AgentID,
		Payload:    map[string]interface{}{"task": a.TaskID},
		Confidence: 0.9,
		Success:    remaining == 0,
	}
	if remaining > 0 {
		out.Error = "transient failure"
		return out, fmt.Errorf("transient failure")
	}
	return out, nil
}

func (s *stubExecutor) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func fastRetry(t *types.Task, attempts int) {
	t.Retry = types.RetryPolicy{MaxAttempts: attempts, Backoff: types.BackoffLinear, BaseDelay: time.Millisecond}
}

func TestRunExecutesDAGInOrder(t *testing.T) {
	d := NewDispatcher(testRegistry(t), nil, newStubExecutor(nil), nil)

	ingest := types.NewTask("ingest-1", "ingest", types.CapDataIngestion, types.PriorityNormal)
	analyze := types.NewTask("analyze-1", "analyze", types.CapCodeAnalysis, types.PriorityNormal)
	analyze.DependsOn = []string{"ingest-1"}

	res := d.Run(context.Background(), NewWorkflow("", "", []*types.Task{ingest, analyze}, time.Time{}))
	if res.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(res.Outputs))
	}
	if res.Outputs[0].TaskID != "ingest-1" || res.Outputs[1].TaskID != "analyze-1" {
		t.Errorf("output order = %s, %s", res.Outputs[0].TaskID, res.Outputs[1].TaskID)
	}
}

func TestRunSkipsDependentsOfFailedTask(t *testing.T) {
	exec := newStubExecutor(map[string]int{"ingest-1": 10})
	d := NewDispatcher(testRegistry(t), nil, exec, nil)

	ingest := types.NewTask("ingest-1", "ingest", types.CapDataIngestion, types.PriorityNormal)
	fastRetry(ingest, 1)
	analyze := types.NewTask("analyze-1", "analyze", types.CapCodeAnalysis, types.PriorityNormal)
	analyze.DependsOn = []string{"ingest-1"}

	res := d.Run(context.Background(), NewWorkflow("", "", []*types.Task{ingest, analyze}, time.Time{}))
	if res.Status != WorkflowPartialFailure {
		t.Fatalf("status = %s, want completed_with_failures", res.Status)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].TaskID != "analyze-1" {
		t.Errorf("skipped = %v, want analyze-1", res.Skipped)
	}
	if exec.callCount("analyze-1") != 0 {
		t.Error("dependent of a failed task must never execute")
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	exec := newStubExecutor(map[string]int{"ingest-1": 1})
	d := NewDispatcher(testRegistry(t), nil, exec, nil)

	task := types.NewTask("ingest-1", "ingest", types.CapDataIngestion, types.PriorityNormal)
	fastRetry(task, 3)

	res := d.Run(context.Background(), NewWorkflow("", "", []*types.Task{task}, time.Time{}))
	if res.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want completed after retry", res.Status)
	}
	if got := exec.callCount("ingest-1"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestRunDeadlineExceededSkipsRemaining(t *testing.T) {
	d := NewDispatcher(testRegistry(t), nil, newStubExecutor(nil), nil)

	task := types.NewTask("ingest-1", "ingest", types.CapDataIngestion, types.PriorityNormal)
	wf := NewWorkflow("", "", []*types.Task{task}, time.Now().Add(-time.Second))

	res := d.Run(context.Background(), wf)
	if !res.DeadlineExceeded {
		t.Fatal("result should report deadline exceeded")
	}
	if res.Status != WorkflowDeadlineExceeded {
		t.Errorf("status = %s, want deadline_exceeded", res.Status)
	}
	if len(res.Skipped) != 1 {
		t.Errorf("skipped = %v, want the unfinished task", res.Skipped)
	}
}

func TestRunSpawnsAgentForUncoveredCapability(t *testing.T) {
	reg := testRegistry(t)
	d := NewDispatcher(reg, nil, newStubExecutor(nil), nil)

	// No seed serves finance; the dispatcher spawns a cost_optimizer.
	task := types.NewTask("fin-1", "finance", types.CapFinance, types.PriorityNormal)
	res := d.Run(context.Background(), NewWorkflow("", "", []*types.Task{task}, time.Time{}))

	if res.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if reg.Snapshot().ByType["cost_optimizer"] != 1 {
		t.Error("expected a spawned cost_optimizer agent")
	}
}

func TestBatchedInferenceUnblocksDependents(t *testing.T) {
	guard := costguard.NewGuard(costguard.NewCache(time.Hour), costguard.NewCostLog(nil),
		worker.LocalModel{}, worker.ExternalModel{}, 100, time.Hour)
	exec := newStubExecutor(nil)
	d := NewDispatcher(testRegistry(t), guard, exec, nil)

	gen := types.NewTask("gen-1", "generate", types.CapContentGeneration, types.PriorityNormal)
	// Long prompt so the auto route may defer to the batch collector.
	gen.Parameters = map[string]interface{}{"prompt": longPrompt()}
	val := types.NewTask("val-1", "validate", types.CapValidation, types.PriorityNormal)
	val.DependsOn = []string{"gen-1"}

	res := d.Run(context.Background(), NewWorkflow("", "", []*types.Task{gen, val}, time.Time{}))
	if res.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if exec.callCount("val-1") != 1 {
		t.Error("dependent of a batched task should still run")
	}

	genTask := res.Tasks[0]
	if genTask.State != types.TaskQueued && genTask.State != types.TaskCompleted {
		t.Errorf("generate state = %s, want queued (batched) or completed (local)", genTask.State)
	}
}

func TestEnqueueAndDrainOverflow(t *testing.T) {
	d := NewDispatcher(testRegistry(t), nil, newStubExecutor(nil), nil)

	task := types.NewTask("scout-1", "research", types.CapTechScouting, types.PriorityNormal)
	d.Enqueue(task)
	if d.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, want 1", d.QueueDepth())
	}
	if task.State != types.TaskQueued {
		t.Errorf("state = %s, want queued", task.State)
	}

	results := d.DrainOverflow(context.Background())
	if len(results) != 1 {
		t.Fatalf("drained %d workflows, want 1", len(results))
	}
	if d.QueueDepth() != 0 {
		t.Errorf("queue depth after drain = %d, want 0", d.QueueDepth())
	}
	if results[0].Status != WorkflowCompleted {
		t.Errorf("drained status = %s, want completed", results[0].Status)
	}
}

func TestQueuedTaskBurnsNoAttempts(t *testing.T) {
	// A full pool that cannot spawn forces the queued path without any
	// execution ever happening.
	reg, err := registry.NewRegistry(types.RegistryConfig{
		MinAgents: 1,
		MaxAgents: 1,
		Seeds: []types.SeedSpec{
			{Type: "learning", Capabilities: []types.Capability{types.CapDataIngestion}, MaxConcurrent: 2},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	exec := newStubExecutor(nil)
	d := NewDispatcher(reg, nil, exec, nil)

	task := types.NewTask("fin-1", "finance", types.CapFinance, types.PriorityNormal)
	fastRetry(task, 3)

	d.Run(context.Background(), NewWorkflow("", "", []*types.Task{task}, time.Time{}))

	if task.State != types.TaskQueued {
		t.Fatalf("state = %s, want queued", task.State)
	}
	if exec.callCount("fin-1") != 0 {
		t.Fatalf("executor ran %d times for a queued task", exec.callCount("fin-1"))
	}
	// Attempts count executions only; parking on the queue is not one.
	if task.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 for a never-executed task", task.Attempts)
	}
}

func longPrompt() string {
	s := ""
	for i := 0; i < 80; i++ {
		s += fmt.Sprintf("token%d ", i)
	}
	return s
}

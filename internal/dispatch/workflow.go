package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AGENTFABRIC/internal/types"
)

// WorkflowStatus is the terminal disposition of a dispatched DAG
type WorkflowStatus string

const (
	WorkflowRunning          WorkflowStatus = "running"
	WorkflowCompleted        WorkflowStatus = "completed"
	WorkflowPartialFailure   WorkflowStatus = "completed_with_failures"
	WorkflowDeadlineExceeded WorkflowStatus = "deadline_exceeded"
	WorkflowCancelled        WorkflowStatus = "cancelled"
)

// SkippedTask records a task that never ran and why
type SkippedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Workflow is the per-request execution state the dispatcher owns. All
// mutation happens under mu; the dispatcher is the sole writer.
type Workflow struct {
	ID         string
	DecisionID string
	ProjectID  string
	Deadline   time.Time

	mu      sync.Mutex
	tasks   map[string]*types.Task
	order   []string // task-id order fixed at creation
	outputs map[string]types.WorkerOutput
	skipped []SkippedTask
	status  WorkflowStatus

	CreatedAt   time.Time
	CompletedAt time.Time
}

// NewWorkflow builds a workflow around a decomposed task list. Task order
// is preserved for the composer regardless of completion order.
func NewWorkflow(decisionID, projectID string, tasks []*types.Task, deadline time.Time) *Workflow {
	wf := &Workflow{
		ID:         uuid.New().String(),
		DecisionID: decisionID,
		ProjectID:  projectID,
		Deadline:   deadline,
		tasks:      make(map[string]*types.Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		outputs:    make(map[string]types.WorkerOutput),
		status:     WorkflowRunning,
		CreatedAt:  time.Now(),
	}
	for _, t := range tasks {
		wf.tasks[t.ID] = t
		wf.order = append(wf.order, t.ID)
	}
	return wf
}

// Task returns a task by id
func (w *Workflow) Task(id string) *types.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tasks[id]
}

// Status returns the workflow status
func (w *Workflow) Status() WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// setState transitions one task's state
func (w *Workflow) setState(id string, state types.TaskState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tasks[id]; ok {
		t.State = state
	}
}

// recordOutput stores a worker output for the composer
func (w *Workflow) recordOutput(id string, out types.WorkerOutput) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outputs[id] = out
}

// skip marks a task skipped with a reason
func (w *Workflow) skip(id, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tasks[id]; ok {
		t.State = types.TaskCancelled
		t.Error = reason
	}
	w.skipped = append(w.skipped, SkippedTask{TaskID: id, Reason: reason})
}

// satisfied reports whether every dependency of the task allows it to run.
// Completed and Queued (batched) dependencies both unblock dependents.
// blocked reports a dependency that failed terminally.
func (w *Workflow) satisfied(t *types.Task) (ready bool, blockedBy string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ready = true
	for _, dep := range t.DependsOn {
		d, ok := w.tasks[dep]
		if !ok {
			return false, dep
		}
		switch d.State {
		case types.TaskCompleted:
		case types.TaskQueued:
			// Batched tasks carry an acknowledgment result and unblock
			// dependents; overflow-queued tasks do not complete in this run.
			if d.Result == nil {
				return false, dep
			}
		case types.TaskFailed, types.TaskTimedOut, types.TaskCancelled:
			return false, dep
		default:
			ready = false
		}
	}
	return ready, ""
}

// pendingTasks returns tasks still in Pending state, in creation order
func (w *Workflow) pendingTasks() []*types.Task {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*types.Task
	for _, id := range w.order {
		if t := w.tasks[id]; t.State == types.TaskPending {
			out = append(out, t)
		}
	}
	return out
}

// finalize computes the terminal workflow status
func (w *Workflow) finalize(deadlineExceeded bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.CompletedAt = time.Now()

	if deadlineExceeded {
		w.status = WorkflowDeadlineExceeded
		return
	}

	failures := len(w.skipped)
	for _, t := range w.tasks {
		switch t.State {
		case types.TaskFailed, types.TaskTimedOut:
			failures++
		}
	}
	if failures > 0 {
		w.status = WorkflowPartialFailure
		return
	}
	w.status = WorkflowCompleted
}

// Result summarizes the workflow for the facade and composer
type Result struct {
	WorkflowID       string               `json:"workflow_id"`
	DecisionID       string               `json:"decision_id,omitempty"`
	Status           WorkflowStatus       `json:"status"`
	Outputs          []types.WorkerOutput `json:"outputs"`
	Skipped          []SkippedTask        `json:"skipped,omitempty"`
	DeadlineExceeded bool                 `json:"deadline_exceeded"`
	Tasks            []*types.Task        `json:"tasks"`
	Elapsed          time.Duration        `json:"elapsed_ns"`
}

// result builds the Result snapshot. Outputs follow task-id order, not
// completion order.
func (w *Workflow) result() *Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := &Result{
		WorkflowID:       w.ID,
		DecisionID:       w.DecisionID,
		Status:           w.status,
		Skipped:          append([]SkippedTask(nil), w.skipped...),
		DeadlineExceeded: w.status == WorkflowDeadlineExceeded,
		Elapsed:          w.CompletedAt.Sub(w.CreatedAt),
	}
	for _, id := range w.order {
		res.Tasks = append(res.Tasks, w.tasks[id])
		if out, ok := w.outputs[id]; ok {
			res.Outputs = append(res.Outputs, out)
		}
	}
	return res
}

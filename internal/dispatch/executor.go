package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/types"
	"github.com/AGENTFABRIC/internal/worker"
)

// Executor runs one assigned task to completion and returns its output
type Executor interface {
	Execute(ctx context.Context, assignment fabricnats.TaskAssignment) (types.WorkerOutput, error)
}

// InProcessExecutor runs tasks through the worker capability handlers on
// the dispatcher's own goroutines. This is the default execution mode.
type InProcessExecutor struct {
	handlers map[types.Capability]worker.Func
}

// NewInProcessExecutor creates an executor over the given handlers. nil
// uses the built-in handler set.
func NewInProcessExecutor(handlers map[types.Capability]worker.Func) *InProcessExecutor {
	if handlers == nil {
		handlers = worker.DefaultHandlers()
	}
	return &InProcessExecutor{handlers: handlers}
}

// Execute runs the assignment synchronously
func (e *InProcessExecutor) Execute(ctx context.Context, assignment fabricnats.TaskAssignment) (types.WorkerOutput, error) {
	started := time.Now()

	handler, ok := e.handlers[assignment.Capability]
	if !ok {
		handler = e.handlers[types.CapGeneric]
	}
	if handler == nil {
		return types.WorkerOutput{}, fmt.Errorf("no handler for capability %s", assignment.Capability)
	}

	payload, confidence, err := handler(ctx, assignment)
	out := types.WorkerOutput{
		TaskID:         assignment.TaskID,
		AgentID:        assignment.AgentID,
		Payload:        payload,
		Confidence:     confidence,
		ProcessingTime: time.Since(started),
		Success:        err == nil,
	}
	if err != nil {
		out.Error = err.Error()
		return out, err
	}
	return out, nil
}

// NATSExecutor dispatches assignments over NATS and waits for the matching
// result message. Results arrive through HandleResult, which the facade
// wires to the NATS handler's task-result callback.
type NATSExecutor struct {
	client *fabricnats.Client

	mu      sync.Mutex
	pending map[string]chan fabricnats.TaskResultMessage
}

// NewNATSExecutor creates a NATS-backed executor
func NewNATSExecutor(client *fabricnats.Client) *NATSExecutor {
	return &NATSExecutor{
		client:  client,
		pending: make(map[string]chan fabricnats.TaskResultMessage),
	}
}

// Execute publishes the assignment and blocks until the result arrives or
// the context deadline passes.
func (e *NATSExecutor) Execute(ctx context.Context, assignment fabricnats.TaskAssignment) (types.WorkerOutput, error) {
	ch := make(chan fabricnats.TaskResultMessage, 1)

	e.mu.Lock()
	e.pending[assignment.TaskID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, assignment.TaskID)
		e.mu.Unlock()
	}()

	started := time.Now()
	if err := e.client.PublishAssignment(assignment); err != nil {
		return types.WorkerOutput{}, err
	}

	select {
	case <-ctx.Done():
		return types.WorkerOutput{}, ctx.Err()
	case res := <-ch:
		out := types.WorkerOutput{
			TaskID:         res.TaskID,
			AgentID:        res.AgentID,
			Payload:        res.Output,
			Confidence:     res.Confidence,
			ProcessingTime: time.Since(started),
			Success:        res.Success,
			Error:          res.Error,
		}
		if !res.Success {
			return out, fmt.Errorf("task %s failed on %s: %s", res.TaskID, res.AgentID, res.Error)
		}
		return out, nil
	}
}

// HandleResult routes an incoming result message to its waiting Execute
// call. Unmatched results are dropped.
func (e *NATSExecutor) HandleResult(res fabricnats.TaskResultMessage) error {
	e.mu.Lock()
	ch, ok := e.pending[res.TaskID]
	e.mu.Unlock()

	if ok {
		select {
		case ch <- res:
		default:
		}
	}
	return nil
}

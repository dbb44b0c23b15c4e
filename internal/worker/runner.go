// Package worker hosts the in-process worker runtime. A Runner represents
// one fabric agent: it consumes task assignments from its NATS subject,
// executes them through capability handlers and reports results and
// heartbeats back to the orchestrator.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/types"
)

// Func executes one task and returns the output with a confidence score
type Func func(ctx context.Context, assignment fabricnats.TaskAssignment) (interface{}, float64, error)

// Runner is one worker agent bound to a NATS connection
type Runner struct {
	client   *fabricnats.Client
	agentID  string
	handlers map[types.Capability]Func

	hbInterval time.Duration

	mu           sync.Mutex
	currentTasks int
	sub          *natsio.Subscription

	wg sync.WaitGroup
}

// NewRunner creates a worker runner. Unknown capabilities fall back to the
// generic handler when one is registered.
func NewRunner(client *fabricnats.Client, agentID string, handlers map[types.Capability]Func) *Runner {
	return &Runner{
		client:     client,
		agentID:    agentID,
		handlers:   handlers,
		hbInterval: 10 * time.Second,
	}
}

// SetHeartbeatInterval overrides the default 10s heartbeat cadence
func (r *Runner) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		r.hbInterval = d
	}
}

// Run subscribes to the runner's assignment subject and blocks until the
// context is cancelled. In-flight tasks drain before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	subject := fmt.Sprintf(fabricnats.SubjectTaskAssign, r.agentID)
	sub, err := r.client.Subscribe(subject, r.handleAssignment)
	if err != nil {
		return fmt.Errorf("worker %s: %w", r.agentID, err)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	log.Printf("[WORKER] %s listening on %s", r.agentID, subject)

	ticker := time.NewTicker(r.hbInterval)
	defer ticker.Stop()

	r.sendHeartbeat()
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			r.wg.Wait()
			log.Printf("[WORKER] %s stopped", r.agentID)
			return nil
		case <-ticker.C:
			r.sendHeartbeat()
		}
	}
}

func (r *Runner) handleAssignment(msg *fabricnats.Message) {
	var assignment fabricnats.TaskAssignment
	if err := decodeJSON(msg.Data, &assignment); err != nil {
		log.Printf("[WORKER] %s: invalid assignment: %v", r.agentID, err)
		return
	}

	r.wg.Add(1)
	r.mu.Lock()
	r.currentTasks++
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.currentTasks--
			r.mu.Unlock()
		}()
		r.execute(assignment)
	}()
}

func (r *Runner) execute(assignment fabricnats.TaskAssignment) {
	started := time.Now()

	ctx := context.Background()
	if !assignment.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, assignment.Deadline)
		defer cancel()
	}

	handler, ok := r.handlers[assignment.Capability]
	if !ok {
		handler = r.handlers[types.CapGeneric]
	}

	result := fabricnats.TaskResultMessage{
		TaskID:     assignment.TaskID,
		WorkflowID: assignment.WorkflowID,
		AgentID:    r.agentID,
		Timestamp:  time.Now(),
	}

	if handler == nil {
		result.Error = fmt.Sprintf("no handler for capability %s", assignment.Capability)
	} else {
		output, confidence, err := handler(ctx, assignment)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
			result.Output = output
			result.Confidence = confidence
		}
	}

	result.ProcessingMs = time.Since(started).Milliseconds()
	result.Timestamp = time.Now()

	if err := r.client.PublishResult(result); err != nil {
		log.Printf("[WORKER] %s: failed to publish result for %s: %v", r.agentID, assignment.TaskID, err)
	}
}

func (r *Runner) sendHeartbeat() {
	r.mu.Lock()
	tasks := r.currentTasks
	r.mu.Unlock()

	status := types.StatusIdle
	if tasks > 0 {
		status = types.StatusBusy
	}

	hb := fabricnats.HeartbeatMessage{
		AgentID:      r.agentID,
		Status:       status,
		CurrentTasks: tasks,
		Timestamp:    time.Now(),
	}
	if err := r.client.PublishHeartbeat(hb); err != nil {
		log.Printf("[WORKER] %s: heartbeat failed: %v", r.agentID, err)
	}
}

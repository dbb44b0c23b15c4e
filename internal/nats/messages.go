package nats

import (
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

// Subject pattern constants for NATS messaging
const (
	// SubjectTaskAssign is the pattern for task assignments to a specific
	// worker. Use fmt.Sprintf(SubjectTaskAssign, agentID).
	SubjectTaskAssign = "task.assign.%s"

	// SubjectAllTaskAssign subscribes to every task assignment
	SubjectAllTaskAssign = "task.assign.*"

	// SubjectTaskResult carries completed and failed task results back to
	// the dispatcher
	SubjectTaskResult = "task.result"

	// SubjectAgentHeartbeat is the pattern for worker heartbeat messages
	// Use fmt.Sprintf(SubjectAgentHeartbeat, agentID).
	SubjectAgentHeartbeat = "agent.%s.heartbeat"

	// SubjectAllHeartbeats subscribes to all worker heartbeats
	SubjectAllHeartbeats = "agent.*.heartbeat"

	// SubjectScale announces auto-scaler spawn and terminate actions
	SubjectScale = "fabric.scale"

	// SubjectAlert carries budget and decision alerts
	SubjectAlert = "fabric.alert"
)

// ResultQueueGroup load-balances task.result consumption across dispatchers
const ResultQueueGroup = "fabric-dispatch"

// TaskAssignment is sent to a worker when a task is dispatched to it
type TaskAssignment struct {
	TaskID     string                 `json:"task_id"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	AgentID    string                 `json:"agent_id"`
	Name       string                 `json:"name"`
	Capability types.Capability       `json:"capability"`
	Priority   types.Priority         `json:"priority"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Deadline   time.Time              `json:"deadline"`
	Attempt    int                    `json:"attempt"`
}

// TaskResultMessage is published by workers when a task finishes
type TaskResultMessage struct {
	TaskID       string      `json:"task_id"`
	WorkflowID   string      `json:"workflow_id,omitempty"`
	AgentID      string      `json:"agent_id"`
	Success      bool        `json:"success"`
	Output       interface{} `json:"output,omitempty"`
	Confidence   float64     `json:"confidence"`
	Error        string      `json:"error,omitempty"`
	ProcessingMs int64       `json:"processing_ms"`
	Timestamp    time.Time   `json:"timestamp"`
}

// HeartbeatMessage is a periodic liveness report from a worker
type HeartbeatMessage struct {
	AgentID      string            `json:"agent_id"`
	Status       types.AgentStatus `json:"status"`
	CurrentTasks int               `json:"current_tasks"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ScaleMessage announces an auto-scaler action
type ScaleMessage struct {
	Direction  string    `json:"direction"` // up or down
	Count      int       `json:"count"`
	QueueDepth int       `json:"queue_depth"`
	AgentIDs   []string  `json:"agent_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertMessage carries budget threshold and decision alerts to subscribers
type AlertMessage struct {
	Kind      string                 `json:"kind"` // budget, decision
	ProjectID string                 `json:"project_id,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

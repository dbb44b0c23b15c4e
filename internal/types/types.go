package types

import (
	"fmt"
	"time"
)

// AgentStatus represents the current lifecycle state of an agent
type AgentStatus string

const (
	StatusInitializing AgentStatus = "initializing"
	StatusIdle         AgentStatus = "idle"
	StatusBusy         AgentStatus = "busy"
	StatusTerminating  AgentStatus = "terminating"
	StatusTerminated   AgentStatus = "terminated"
)

// Capability identifies what kinds of tasks an agent accepts
type Capability string

const (
	CapDataIngestion     Capability = "data_ingestion"
	CapTechScouting      Capability = "tech_scouting"
	CapCodeAnalysis      Capability = "code_analysis"
	CapContentGeneration Capability = "content_generation"
	CapDataQuery         Capability = "data_query"
	CapValidation        Capability = "validation"
	CapAggregation       Capability = "aggregation"
	CapFinance           Capability = "finance"
	CapGeneric           Capability = "generic"
)

// AllCapabilities returns every defined capability tag
func AllCapabilities() []Capability {
	return []Capability{
		CapDataIngestion,
		CapTechScouting,
		CapCodeAnalysis,
		CapContentGeneration,
		CapDataQuery,
		CapValidation,
		CapAggregation,
		CapFinance,
		CapGeneric,
	}
}

// ValidCapability reports whether cap is a known capability tag
func ValidCapability(cap Capability) bool {
	for _, c := range AllCapabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// Agent represents a worker registered with the fabric
type Agent struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Capabilities  []Capability `json:"capabilities"`
	Status        AgentStatus  `json:"status"`
	MaxConcurrent int          `json:"max_concurrent_tasks"`
	CurrentTasks  []string     `json:"current_tasks"`

	TasksCompleted  int           `json:"tasks_completed"`
	TasksFailed     int           `json:"tasks_failed"`
	TotalProcessing time.Duration `json:"total_processing_ns"`
	Performance     float64       `json:"performance_score"`

	SpawnedAt  time.Time `json:"spawned_at"`
	LastActive time.Time `json:"last_active"`
}

// HasCapability reports whether the agent can serve the given capability.
// Agents carrying the generic capability accept any task type.
func (a *Agent) HasCapability(cap Capability) bool {
	for _, c := range a.Capabilities {
		if c == cap || c == CapGeneric {
			return true
		}
	}
	return false
}

// Load returns the number of tasks currently held by the agent
func (a *Agent) Load() int {
	return len(a.CurrentTasks)
}

// Priority is a five-level task priority. Lower rank runs first.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Rank maps a priority to its ordinal. 1 = critical (highest).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	case PriorityBackground:
		return 5
	default:
		return 3
	}
}

// ValidPriority reports whether p is a known priority tag
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground:
		return true
	}
	return false
}

// TaskState represents the current state of a task
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskQueued    TaskState = "queued"
	TaskAssigned  TaskState = "assigned"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
	TaskTimedOut  TaskState = "timed_out"
)

// BackoffKind selects the retry delay curve
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
)

// RetryPolicy bounds how a failed task is re-attempted
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	Backoff        BackoffKind   `json:"backoff"`
	BaseDelay      time.Duration `json:"base_delay_ns"`
	AttemptTimeout time.Duration `json:"attempt_timeout_ns"`
}

// DefaultRetryPolicy returns the retry policy for a task type.
// Finance tasks back off linearly; everything else is exponential.
func DefaultRetryPolicy(taskType string) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		BaseDelay:      1500 * time.Millisecond,
		AttemptTimeout: 60 * time.Second,
	}
	switch taskType {
	case "finance":
		p.Backoff = BackoffLinear
		p.MaxAttempts = 2
	case "validation", "aggregation":
		p.MaxAttempts = 2
	}
	return p
}

// Delay returns the backoff delay before the given attempt (1-based)
func (r RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.Backoff == BackoffLinear {
		return time.Duration(attempt) * r.BaseDelay
	}
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		d = d * 3 / 2
	}
	return d
}

// Task is a unit of work dispatched to a single agent
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Capability Capability             `json:"capability"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Priority   Priority               `json:"priority"`
	DependsOn  []string               `json:"depends_on,omitempty"`
	Deadline   *time.Time             `json:"deadline,omitempty"`
	Retry      RetryPolicy            `json:"retry"`

	State      TaskState `json:"state"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`

	Result interface{} `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with defaults filled in
func NewTask(id, taskType string, cap Capability, priority Priority) *Task {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:         id,
		Type:       taskType,
		Capability: cap,
		Priority:   priority,
		Retry:      DefaultRetryPolicy(taskType),
		State:      TaskPending,
		CreatedAt:  time.Now(),
	}
}

// Validate checks task field values
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if !ValidCapability(t.Capability) {
		return fmt.Errorf("unknown capability: %s", t.Capability)
	}
	if !ValidPriority(t.Priority) {
		return fmt.Errorf("unknown priority: %s", t.Priority)
	}
	return nil
}

// Terminal reports whether the state admits no further transitions
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskTimedOut:
		return true
	}
	return false
}

// WorkerOutput is one agent's result fed into the composer
type WorkerOutput struct {
	TaskID         string        `json:"task_id,omitempty"`
	AgentID        string        `json:"agent_id"`
	AgentType      string        `json:"agent_type"`
	Payload        interface{}   `json:"payload"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
}

// ComposeStrategy selects how worker outputs are merged
type ComposeStrategy string

const (
	ComposeComprehensive ComposeStrategy = "comprehensive"
	ComposeBest          ComposeStrategy = "best"
	ComposeMajority      ComposeStrategy = "majority"
)

// ValidComposeStrategy reports whether s is a known strategy tag
func ValidComposeStrategy(s ComposeStrategy) bool {
	switch s {
	case ComposeComprehensive, ComposeBest, ComposeMajority:
		return true
	}
	return false
}

// CostEntry is one line of the cost log
type CostEntry struct {
	Operation string    `json:"operation"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

package types

import "time"

// Criticality is the four-level risk ordinal for proposed actions
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank maps criticality to its ordinal. Higher means riskier.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityLow:
		return 0
	case CriticalityMedium:
		return 1
	case CriticalityHigh:
		return 2
	case CriticalityCritical:
		return 3
	default:
		return 1
	}
}

// Max returns the riskier of two criticalities
func (c Criticality) Max(other Criticality) Criticality {
	if other.Rank() > c.Rank() {
		return other
	}
	return c
}

// ActionType is the closed set of action tags the gate classifies
type ActionType string

const (
	ActionDataDeletion     ActionType = "data_deletion"
	ActionExternalAPICall  ActionType = "external_api_call"
	ActionCodeExecution    ActionType = "code_execution"
	ActionFileModification ActionType = "file_modification"
	ActionDataQuery        ActionType = "data_query"
	ActionCacheOperation   ActionType = "cache_operation"
)

// ProposedAction is a single action a decision wants to perform
type ProposedAction struct {
	Type        ActionType             `json:"type"`
	Description string                 `json:"description,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// DecisionStatus tracks a decision through the approval lifecycle
type DecisionStatus string

const (
	DecisionPendingApproval DecisionStatus = "pending_approval"
	DecisionAutoApproved    DecisionStatus = "auto_approved"
	DecisionApproved        DecisionStatus = "approved"
	DecisionRejected        DecisionStatus = "rejected"
	DecisionExecuting       DecisionStatus = "executing"
	DecisionCompleted       DecisionStatus = "completed"
	DecisionExpired         DecisionStatus = "expired"
)

// RuleResult records one rule's verdict in the trace
type RuleResult struct {
	Rule     string `json:"rule"`
	Priority string `json:"priority"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Decision is a classified request awaiting or holding approval
type Decision struct {
	ID                string           `json:"id"`
	UserInput         string           `json:"user_input"`
	RequestedBy       string           `json:"requested_by,omitempty"`
	ProjectID         string           `json:"project_id,omitempty"`
	Actions           []ProposedAction `json:"actions"`
	Criticality       Criticality      `json:"criticality"`
	EstimatedCost     float64          `json:"estimated_cost"`
	EstimatedDuration time.Duration    `json:"estimated_duration_ns"`
	Status            DecisionStatus   `json:"status"`
	Reason            string           `json:"reason,omitempty"`
	RuleTrace         []RuleResult     `json:"rule_trace,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// ApprovalRequest is the human-facing view of a pending decision
type ApprovalRequest struct {
	ID            string           `json:"id"`
	OperationType string           `json:"operation_type"`
	Operations    []ProposedAction `json:"operations"`
	RiskLevel     Criticality      `json:"risk_level"`
	Reason        string           `json:"reason,omitempty"`
	EstimatedCost float64          `json:"estimated_cost"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Status        DecisionStatus   `json:"status"`
}

// ApprovalView projects a decision into its human-facing form
func (d *Decision) ApprovalView() *ApprovalRequest {
	opType := ""
	if len(d.Actions) > 0 {
		opType = string(d.Actions[0].Type)
	}
	return &ApprovalRequest{
		ID:            d.ID,
		OperationType: opType,
		Operations:    d.Actions,
		RiskLevel:     d.Criticality,
		Reason:        d.Reason,
		EstimatedCost: d.EstimatedCost,
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
		Status:        d.Status,
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/AGENTFABRIC/internal/costguard"
	"github.com/AGENTFABRIC/internal/decompose"
	"github.com/AGENTFABRIC/internal/dispatch"
	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/gate"
	"github.com/AGENTFABRIC/internal/project"
	"github.com/AGENTFABRIC/internal/registry"
	"github.com/AGENTFABRIC/internal/types"
)

// Input bounds applied before any component sees a request
const (
	maxMessageLen   = 8192
	maxCollection   = 64
	maxBatchItems   = 100
	maxBodyBytes    = 1 << 20
	defaultDeadline = 2 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the uniform response shape for every endpoint
type envelope struct {
	Success bool        `json:"success"`
	Payload interface{} `json:"payload,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// --- chat / decision flow ---

type chatRequest struct {
	Message         string                 `json:"message"`
	Context         map[string]interface{} `json:"context,omitempty"`
	ProjectID       string                 `json:"project_id,omitempty"`
	Priority        types.Priority         `json:"priority,omitempty"`
	Strategy        types.ComposeStrategy  `json:"strategy,omitempty"`
	MaxTasks        int                    `json:"max_tasks,omitempty"`
	DeadlineSeconds int                    `json:"deadline_seconds,omitempty"`
}

func (req *chatRequest) validate() error {
	if req.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(req.Message) > maxMessageLen {
		return fmt.Errorf("message exceeds %d bytes", maxMessageLen)
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}
	if !types.ValidPriority(req.Priority) {
		return fmt.Errorf("unknown priority: %s", req.Priority)
	}
	if req.Strategy == "" {
		req.Strategy = types.ComposeComprehensive
	}
	if !types.ValidComposeStrategy(req.Strategy) {
		return fmt.Errorf("unknown compose strategy: %s", req.Strategy)
	}
	if req.MaxTasks < 0 || req.MaxTasks > maxCollection {
		return fmt.Errorf("max_tasks out of [0, %d]", maxCollection)
	}
	return nil
}

// handleChat runs the full pipeline: decompose the goal, classify it
// through the decision gate and, if approved, dispatch and compose.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectID != "" {
		if _, err := s.projects.Get(req.ProjectID); err != nil {
			respondWithError(w, err)
			return
		}
	}

	tasks, err := s.decomposer.Decompose(req.Message, decompose.Options{
		Priority: req.Priority,
		MaxTasks: req.MaxTasks,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.gate.Evaluate(req.Message, actionsForTasks(tasks), UserID(r), req.ProjectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch decision.Status {
	case types.DecisionRejected:
		respondError(w, http.StatusForbidden, "decision rejected: "+decision.Reason)

	case types.DecisionPendingApproval:
		s.parkGoal(decision.ID, req, tasks)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "pending_approval",
			"decision": decision.ApprovalView(),
		})

	default:
		s.executeGoal(w, r.Context(), decision, req, tasks)
	}
}

type approveRequest struct {
	ActionID string `json:"action_id"`
	Approved bool   `json:"approved"`
}

// handleApprove resolves a pending decision. Approving a parked goal
// executes it immediately and returns the composed result.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ActionID == "" {
		respondError(w, http.StatusBadRequest, "action_id is required")
		return
	}

	decision, err := s.gate.Approve(req.ActionID, req.Approved, UserID(r))
	if err != nil {
		respondWithError(w, err)
		return
	}

	parked, ok := s.takeGoal(decision.ID)
	if !req.Approved || !ok {
		respondJSON(w, http.StatusOK, map[string]interface{}{"decision": decision})
		return
	}
	s.executeGoal(w, r.Context(), decision, parked.req, parked.tasks)
}

// handleDecisions lists decisions awaiting approval
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"pending": s.gate.Pending()})
}

type decomposeRequest struct {
	Goal     string         `json:"goal"`
	MaxTasks int            `json:"max_tasks,omitempty"`
	Priority types.Priority `json:"priority,omitempty"`
}

// handleDecompose previews the task DAG for a goal without executing it
func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Goal) > maxMessageLen {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("goal exceeds %d bytes", maxMessageLen))
		return
	}
	if req.MaxTasks < 0 || req.MaxTasks > maxCollection {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("max_tasks out of [0, %d]", maxCollection))
		return
	}

	tasks, err := s.decomposer.Decompose(req.Goal, decompose.Options{
		Priority: req.Priority,
		MaxTasks: req.MaxTasks,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

type composeRequest struct {
	Outputs  []types.WorkerOutput  `json:"outputs"`
	Strategy types.ComposeStrategy `json:"strategy"`
}

// handleCompose merges worker outputs under the requested strategy
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Outputs) == 0 {
		respondError(w, http.StatusBadRequest, "outputs are required")
		return
	}
	if len(req.Outputs) > maxCollection {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("outputs exceed %d entries", maxCollection))
		return
	}

	composed, err := s.composer.Compose(req.Outputs, req.Strategy)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, composed)
}

// --- task endpoints ---

type taskAssignRequest struct {
	TaskType   string                 `json:"task_type"`
	Capability types.Capability       `json:"capability"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Priority   types.Priority         `json:"priority,omitempty"`
}

// handleTaskAssign binds a single task to an available agent, parking it on
// the overflow queue when no agent can serve the capability.
func (s *Server) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	var req taskAssignRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TaskType == "" {
		respondError(w, http.StatusBadRequest, "task_type is required")
		return
	}
	if !types.ValidCapability(req.Capability) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability: %s", req.Capability))
		return
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}
	if !types.ValidPriority(req.Priority) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown priority: %s", req.Priority))
		return
	}

	task := types.NewTask(taskID(req.TaskType), req.TaskType, req.Capability, req.Priority)
	task.Parameters = req.Parameters

	agent, err := s.registry.FindAvailable(req.Capability)
	if errors.Is(err, registry.ErrNoAgentAvailable) {
		s.dispatcher.Enqueue(task)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"queued":      true,
			"task":        task,
			"queue_depth": s.dispatcher.QueueDepth(),
		})
		return
	}
	if err != nil {
		respondWithError(w, err)
		return
	}

	if err := s.registry.Assign(task.ID, agent.ID); err != nil {
		respondWithError(w, err)
		return
	}
	now := time.Now()
	task.State = types.TaskAssigned
	task.AssignedTo = agent.ID
	task.AssignedAt = &now
	s.publishTaskEvent(events.EventTaskAssigned, task, agent.ID)

	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task, "agent_id": agent.ID})
}

type taskCompleteRequest struct {
	TaskID           string      `json:"task_id"`
	AgentID          string      `json:"agent_id"`
	Success          bool        `json:"success"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Result           interface{} `json:"result,omitempty"`
}

// handleTaskComplete reports a manual assignment's outcome back to the
// registry and drains the overflow queue with the freed capacity.
func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var req taskCompleteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TaskID == "" || req.AgentID == "" {
		respondError(w, http.StatusBadRequest, "task_id and agent_id are required")
		return
	}

	processing := time.Duration(req.ProcessingTimeMs) * time.Millisecond
	if err := s.registry.Complete(req.AgentID, req.TaskID, req.Success, processing); err != nil {
		respondWithError(w, err)
		return
	}

	eventType := events.EventTaskCompleted
	if !req.Success {
		eventType = events.EventTaskFailed
	}
	if s.bus != nil {
		s.bus.Publish(events.NewEvent(eventType, "facade", "all", events.PriorityNormal, map[string]interface{}{
			"task_id":  req.TaskID,
			"agent_id": req.AgentID,
		}))
	}
	go s.dispatcher.DrainOverflow(context.Background())

	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": req.TaskID, "recorded": true})
}

// --- agent endpoints ---

type agentSpawnRequest struct {
	AgentType          string             `json:"agent_type"`
	Capabilities       []types.Capability `json:"capabilities"`
	MaxConcurrentTasks int                `json:"max_concurrent_tasks"`
}

func (s *Server) handleAgentSpawn(w http.ResponseWriter, r *http.Request) {
	var req agentSpawnRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentType == "" {
		respondError(w, http.StatusBadRequest, "agent_type is required")
		return
	}
	if len(req.Capabilities) == 0 || len(req.Capabilities) > maxCollection {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("capabilities must hold between 1 and %d entries", maxCollection))
		return
	}
	for _, cap := range req.Capabilities {
		if !types.ValidCapability(cap) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability: %s", cap))
			return
		}
	}
	if req.MaxConcurrentTasks < 1 {
		req.MaxConcurrentTasks = 2
	}

	agent, err := s.registry.Spawn(req.AgentType, req.Capabilities, req.MaxConcurrentTasks)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentTerminate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Terminate(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"terminated": id})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
}

func (s *Server) handleAgentsByCapability(w http.ResponseWriter, r *http.Request) {
	cap := types.Capability(mux.Vars(r)["cap"])
	if !types.ValidCapability(cap) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability: %s", cap))
		return
	}
	agents := s.registry.AgentsByCapability(cap)
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
}

type scaleRequest struct {
	QueueDepth *int `json:"queue_depth,omitempty"`
}

// handleScale triggers one scaling evaluation. Omitting queue_depth uses
// the live overflow depth.
func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	depth := s.dispatcher.QueueDepth()
	if req.QueueDepth != nil {
		if *req.QueueDepth < 0 {
			respondError(w, http.StatusBadRequest, "queue_depth must be non-negative")
			return
		}
		depth = *req.QueueDepth
	}
	respondJSON(w, http.StatusOK, s.scaler.Evaluate(depth))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"registry":       s.registry.Snapshot(),
		"queue_depth":    s.dispatcher.QueueDepth(),
		"cache":          s.guard.Cache().Stats(),
		"batch_pending":  s.guard.Batcher().Pending(),
		"ws_clients":     s.hub.ClientCount(),
		"nats_connected": s.natsConnected(),
	})
}

// --- cost guard endpoints ---

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var req costguard.Request
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if len(req.Prompt) > maxMessageLen {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("prompt exceeds %d bytes", maxMessageLen))
		return
	}

	result, err := s.guard.Infer(r.Context(), req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Requests       []costguard.BatchRequest `json:"requests"`
	MaxWaitSeconds int                      `json:"max_wait_seconds,omitempty"`
}

// handleBatch processes a batch of inference requests in one flush
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Requests) == 0 {
		respondError(w, http.StatusBadRequest, "requests are required")
		return
	}
	if len(req.Requests) > maxBatchItems {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("requests exceed %d entries", maxBatchItems))
		return
	}
	for _, br := range req.Requests {
		if br.Prompt == "" {
			respondError(w, http.StatusBadRequest, "every request needs a prompt")
			return
		}
	}
	respondJSON(w, http.StatusOK, s.guard.ProcessBatch(req.Requests))
}

type roiRequest struct {
	Operation     string  `json:"operation"`
	EstimatedCost float64 `json:"estimated_cost"`
	ExpectedValue float64 `json:"expected_value"`
}

func (s *Server) handleROI(w http.ResponseWriter, r *http.Request) {
	var req roiRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Operation == "" {
		respondError(w, http.StatusBadRequest, "operation is required")
		return
	}
	if req.EstimatedCost < 0 || req.ExpectedValue < 0 {
		respondError(w, http.StatusBadRequest, "cost and value must be non-negative")
		return
	}
	respondJSON(w, http.StatusOK, s.guard.EvaluateROI(req.Operation, req.EstimatedCost, req.ExpectedValue))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.guard.Cache().Stats())
}

func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("period_hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "period_hours must be a positive integer")
			return
		}
		hours = parsed
	}
	respondJSON(w, http.StatusOK, s.guard.CostLog().Summarize(time.Duration(hours)*time.Hour))
}

type cacheClearRequest struct {
	OlderThanSeconds int `json:"older_than_seconds,omitempty"`
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req cacheClearRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OlderThanSeconds < 0 {
		respondError(w, http.StatusBadRequest, "older_than_seconds must be non-negative")
		return
	}
	evicted := s.guard.Cache().Clear(time.Duration(req.OlderThanSeconds) * time.Second)
	respondJSON(w, http.StatusOK, map[string]interface{}{"evicted": evicted})
}

// --- project endpoints ---

type projectCreateRequest struct {
	Name        string   `json:"name"`
	Goals       []string `json:"goals,omitempty"`
	BudgetTotal float64  `json:"budget_total"`
	Currency    string   `json:"currency,omitempty"`
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Goals) > maxCollection {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("goals exceed %d entries", maxCollection))
		return
	}

	p, err := s.projects.Create(req.Name, req.Goals, req.BudgetTotal, req.Currency)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.projects.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects, "count": len(projects)})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleProjectSleep(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.projects.Sleep(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": types.ProjectSleeping})
}

func (s *Server) handleProjectWake(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.projects.Wake(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": types.ProjectActive})
}

type memoryPutRequest struct {
	Partition types.MemoryPartition `json:"partition"`
	Key       string                `json:"key"`
	Value     interface{}           `json:"value"`
}

func (s *Server) handleProjectMemoryPut(w http.ResponseWriter, r *http.Request) {
	var req memoryPutRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !types.ValidPartition(req.Partition) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown memory partition: %s", req.Partition))
		return
	}
	if req.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.projects.MemoryPut(id, req.Partition, req.Key, req.Value); err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "partition": req.Partition, "key": req.Key})
}

func (s *Server) handleProjectMemory(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.projects.MemorySnapshot(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

type budgetAmountRequest struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (s *Server) handleProjectExpense(w http.ResponseWriter, r *http.Request) {
	var req budgetAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.projects.RecordExpense(id, req.Amount, req.Category, req.Description); err != nil {
		respondWithError(w, err)
		return
	}
	s.respondBudget(w, id)
}

func (s *Server) handleProjectReserve(w http.ResponseWriter, r *http.Request) {
	var req budgetAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.projects.Reserve(id, req.Amount); err != nil {
		respondWithError(w, err)
		return
	}
	s.respondBudget(w, id)
}

func (s *Server) handleProjectRelease(w http.ResponseWriter, r *http.Request) {
	var req budgetAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.projects.Release(id, req.Amount); err != nil {
		respondWithError(w, err)
		return
	}
	s.respondBudget(w, id)
}

func (s *Server) handleProjectBudget(w http.ResponseWriter, r *http.Request) {
	s.respondBudget(w, mux.Vars(r)["id"])
}

func (s *Server) respondBudget(w http.ResponseWriter, id string) {
	summary, err := s.projects.BudgetSummary(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// --- infrastructure endpoints ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"agents":         s.registry.Count(),
		"nats_connected": s.natsConnected(),
	})
}

// handleWebSocket upgrades the connection and registers it with the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] websocket upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, WebSocketBufferSize),
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// --- helpers ---

// executeGoal marks the decision executing, runs the workflow and composes
// the outputs. Deadline overruns still answer 200 with partial results.
func (s *Server) executeGoal(w http.ResponseWriter, ctx context.Context, decision *types.Decision, req chatRequest, tasks []*types.Task) {
	if _, err := s.gate.MarkExecuting(decision.ID); err != nil {
		respondWithError(w, err)
		return
	}

	deadline := time.Now().Add(defaultDeadline)
	if req.DeadlineSeconds > 0 {
		deadline = time.Now().Add(time.Duration(req.DeadlineSeconds) * time.Second)
	}

	wf := dispatch.NewWorkflow(decision.ID, req.ProjectID, tasks, deadline)
	if req.ProjectID != "" {
		for range tasks {
			s.projects.RecordTaskDispatched(req.ProjectID)
		}
	}

	result := s.dispatcher.Run(ctx, wf)
	if req.ProjectID != "" {
		for _, t := range result.Tasks {
			if t.State == types.TaskCompleted {
				s.projects.RecordTaskCompleted(req.ProjectID)
			}
		}
	}

	composed, err := s.composer.Compose(result.Outputs, req.Strategy)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.gate.MarkCompleted(decision.ID); err != nil {
		log.Printf("[SERVER] decision %s not finalized: %v", decision.ID, err)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"decision_id":       decision.ID,
		"workflow":          result,
		"composed":          composed,
		"deadline_exceeded": result.DeadlineExceeded,
	})
}

func (s *Server) publishTaskEvent(eventType events.EventType, t *types.Task, agentID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewEvent(eventType, "facade", "all", events.PriorityNormal, map[string]interface{}{
		"task_id":  t.ID,
		"type":     t.Type,
		"state":    string(t.State),
		"agent_id": agentID,
	}))
}

// actionsForTasks maps the DAG onto the gate's closed action set
func actionsForTasks(tasks []*types.Task) []types.ProposedAction {
	actions := make([]types.ProposedAction, 0, len(tasks))
	for _, t := range tasks {
		actionType := types.ActionDataQuery
		switch t.Type {
		case "ingest":
			actionType = types.ActionFileModification
		case "research", "generate":
			actionType = types.ActionExternalAPICall
		case "analyze", "validate":
			actionType = types.ActionCodeExecution
		}
		actions = append(actions, types.ProposedAction{
			Type:        actionType,
			Description: fmt.Sprintf("%s task %s", t.Type, t.ID),
		})
	}
	return actions
}

func taskID(taskType string) string {
	return fmt.Sprintf("%s-%d", taskType, time.Now().UnixNano())
}

func decodeBody(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	writeEnvelope(w, status, envelope{Success: true, Payload: payload})
}

func respondError(w http.ResponseWriter, status int, detail string) {
	writeEnvelope(w, status, envelope{Success: false, Detail: detail})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// respondWithError maps component sentinel errors onto HTTP statuses
func respondWithError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, gate.ErrNotFound),
		errors.Is(err, project.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, registry.ErrCapacityExhausted),
		errors.Is(err, registry.ErrNoAgentAvailable):
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, registry.ErrBusy):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, project.ErrInsufficientFunds):
		respondError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, costguard.ErrCostCapExceeded):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, gate.ErrExpired),
		errors.Is(err, gate.ErrNotPending),
		errors.Is(err, gate.ErrAlreadyFinal),
		errors.Is(err, gate.ErrNotApproved),
		errors.Is(err, project.ErrInvalidState),
		errors.Is(err, project.ErrExcessRelease):
		respondError(w, http.StatusBadRequest, err.Error())

	default:
		log.Printf("[SERVER] internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AGENTFABRIC/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(types.DefaultFabricConfig(), t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// do issues a request against the server's router with the given identity.
func do(t *testing.T, s *Server, method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, map[string]interface{}, string) {
	t.Helper()
	var env struct {
		Success bool                   `json:"success"`
		Payload map[string]interface{} `json:"payload"`
		Detail  string                 `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("bad envelope %q: %v", rec.Body.String(), err)
	}
	return env.Success, env.Payload, env.Detail
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	success, payload, _ := decodeEnvelope(t, rec)
	if !success || payload["status"] != "ok" {
		t.Errorf("payload = %v, want status ok", payload)
	}
	if rec.Header().Get("Server") != "FABRIC" {
		t.Error("security middleware should mask the Server header")
	}
}

func TestChatRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/chat", map[string]interface{}{"message": "research caching"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without X-User-ID", rec.Code)
	}
}

func TestChatAutoApprovedGoalExecutes(t *testing.T) {
	s := newTestServer(t)
	// Finance-only goals classify low criticality and run straight through.
	rec := do(t, s, http.MethodPost, "/api/chat", map[string]interface{}{
		"message": "forecast the monthly budget",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	success, payload, _ := decodeEnvelope(t, rec)
	if !success {
		t.Fatalf("envelope failure: %s", rec.Body.String())
	}
	if payload["decision_id"] == nil || payload["composed"] == nil {
		t.Errorf("payload = %v, want decision_id and composed result", payload)
	}
	if payload["deadline_exceeded"] != false {
		t.Errorf("deadline_exceeded = %v, want false", payload["deadline_exceeded"])
	}
}

func TestChatPendingApprovalThenApprove(t *testing.T) {
	s := newTestServer(t)
	// External-call tasks classify high criticality and park behind approval.
	rec := do(t, s, http.MethodPost, "/api/chat", map[string]interface{}{
		"message": "write a summary report",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["status"] != "pending_approval" {
		t.Fatalf("payload = %v, want pending_approval", payload)
	}
	decision := payload["decision"].(map[string]interface{})
	decisionID := decision["id"].(string)

	// The pending queue lists it.
	rec = do(t, s, http.MethodGet, "/api/decisions", nil, "")
	_, payload, _ = decodeEnvelope(t, rec)
	pending := payload["pending"].([]interface{})
	if len(pending) != 1 {
		t.Fatalf("pending = %v, want one entry", pending)
	}

	// Approving runs the parked goal to completion.
	rec = do(t, s, http.MethodPost, "/api/approve", map[string]interface{}{
		"action_id": decisionID,
		"approved":  true,
	}, "bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d body = %s", rec.Code, rec.Body.String())
	}
	success, payload, _ := decodeEnvelope(t, rec)
	if !success || payload["composed"] == nil {
		t.Errorf("approved goal should execute and compose, got %v", payload)
	}
}

func TestApproveRejectStopsExecution(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/chat", map[string]interface{}{
		"message": "write a summary report",
	}, "alice")
	_, payload, _ := decodeEnvelope(t, rec)
	decisionID := payload["decision"].(map[string]interface{})["id"].(string)

	rec = do(t, s, http.MethodPost, "/api/approve", map[string]interface{}{
		"action_id": decisionID,
		"approved":  false,
	}, "bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ = decodeEnvelope(t, rec)
	decision := payload["decision"].(map[string]interface{})
	if decision["status"] != string(types.DecisionRejected) {
		t.Errorf("status = %v, want rejected", decision["status"])
	}
}

func TestApproveUnknownDecision(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/approve", map[string]interface{}{
		"action_id": "nope",
		"approved":  true,
	}, "bob")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDecomposePreview(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/decompose", map[string]interface{}{
		"goal": "ingest the dataset and analyze it",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["count"].(float64) < 2 {
		t.Errorf("count = %v, want at least ingest and analyze", payload["count"])
	}

	rec = do(t, s, http.MethodPost, "/api/decompose", map[string]interface{}{"goal": ""}, "alice")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty goal status = %d, want 400", rec.Code)
	}
}

func TestTaskAssignAndComplete(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/task/assign", map[string]interface{}{
		"task_type":  "research",
		"capability": "tech_scouting",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	task := payload["task"].(map[string]interface{})
	agentID := payload["agent_id"].(string)
	if agentID == "" {
		t.Fatal("expected an assigned agent")
	}

	rec = do(t, s, http.MethodPost, "/api/task/complete", map[string]interface{}{
		"task_id":            task["id"],
		"agent_id":           agentID,
		"success":            true,
		"processing_time_ms": 42,
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestTaskAssignQueuesWithoutAgent(t *testing.T) {
	s := newTestServer(t)
	// No seed carries content_generation; the task parks on the overflow queue.
	rec := do(t, s, http.MethodPost, "/api/task/assign", map[string]interface{}{
		"task_type":  "generate",
		"capability": "content_generation",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["queued"] != true {
		t.Errorf("payload = %v, want queued true", payload)
	}
	if payload["queue_depth"].(float64) != 1 {
		t.Errorf("queue_depth = %v, want 1", payload["queue_depth"])
	}
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/agent/spawn", map[string]interface{}{
		"agent_type":   "generic",
		"capabilities": []string{"generic"},
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("spawn status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	agentID := payload["id"].(string)

	rec = do(t, s, http.MethodGet, "/api/agents", nil, "")
	_, payload, _ = decodeEnvelope(t, rec)
	if payload["count"].(float64) != 5 {
		t.Errorf("count = %v, want 4 seeds + 1 spawned", payload["count"])
	}

	rec = do(t, s, http.MethodGet, "/api/agents/capability/finance", nil, "")
	_, payload, _ = decodeEnvelope(t, rec)
	if payload["count"].(float64) != 1 {
		t.Errorf("finance agents = %v, want the cost_optimizer seed", payload["count"])
	}

	rec = do(t, s, http.MethodDelete, "/api/agent/"+agentID, nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate status = %d", rec.Code)
	}
	rec = do(t, s, http.MethodDelete, "/api/agent/"+agentID, nil, "alice")
	if rec.Code != http.StatusNotFound {
		t.Errorf("double terminate status = %d, want 404", rec.Code)
	}
}

func TestScaleEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/scale", map[string]interface{}{
		"queue_depth": 60,
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["action"] != "scale_up" {
		t.Errorf("action = %v, want scale_up at depth 60", payload["action"])
	}

	rec = do(t, s, http.MethodPost, "/api/scale", map[string]interface{}{
		"queue_depth": -1,
	}, "alice")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative depth status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/stats", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	registryStats := payload["registry"].(map[string]interface{})
	if registryStats["total"].(float64) != 4 {
		t.Errorf("registry total = %v, want 4 seeds", registryStats["total"])
	}
	if payload["nats_connected"] != false {
		t.Error("nats should be off in tests")
	}
}

func TestInferenceAndCacheEndpoints(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{"prompt": "summarize the findings", "model": "local"}

	rec := do(t, s, http.MethodPost, "/api/inference", body, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["route"] != "local" {
		t.Errorf("route = %v, want local", payload["route"])
	}

	// Same prompt again hits the cache.
	rec = do(t, s, http.MethodPost, "/api/inference", body, "alice")
	_, payload, _ = decodeEnvelope(t, rec)
	if payload["route"] != "cache" {
		t.Errorf("route = %v, want cache", payload["route"])
	}

	rec = do(t, s, http.MethodGet, "/api/cache/stats", nil, "")
	_, payload, _ = decodeEnvelope(t, rec)
	if payload["hits"].(float64) != 1 {
		t.Errorf("cache hits = %v, want 1", payload["hits"])
	}

	rec = do(t, s, http.MethodPost, "/api/cache/clear", map[string]interface{}{}, "alice")
	if rec.Code != http.StatusOK {
		t.Errorf("cache clear status = %d", rec.Code)
	}
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/batch", map[string]interface{}{
		"requests": []map[string]interface{}{
			{"prompt": "one"},
			{"prompt": "two"},
		},
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	results := payload["results"].([]interface{})
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}

	rec = do(t, s, http.MethodPost, "/api/batch", map[string]interface{}{"requests": []interface{}{}}, "alice")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestROIEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/roi/evaluate", map[string]interface{}{
		"operation":      "scrape",
		"estimated_cost": 1.0,
		"expected_value": 4.0,
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["proceed"] != true || payload["roi"].(float64) != 3.0 {
		t.Errorf("payload = %v, want proceed with roi 3", payload)
	}
}

func TestCostSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/cost/summary", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, payload, _ := decodeEnvelope(t, rec)
	if payload["period_hours"].(float64) != 24 {
		t.Errorf("period = %v, want default 24h", payload["period_hours"])
	}

	rec = do(t, s, http.MethodGet, "/api/cost/summary?period_hours=zero", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad period status = %d, want 400", rec.Code)
	}
}

func TestProjectEndpoints(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/projects", map[string]interface{}{
		"name":         "apollo",
		"goals":        []string{"ship v1"},
		"budget_total": 100,
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	_, payload, _ := decodeEnvelope(t, rec)
	projectID := payload["id"].(string)

	rec = do(t, s, http.MethodGet, "/api/projects/"+projectID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/memory", map[string]interface{}{
		"partition": "long_term",
		"key":       "lesson",
		"value":     "cache first",
	}, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("memory put status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/projects/"+projectID+"/memory", nil, "")
	_, payload, _ = decodeEnvelope(t, rec)
	longTerm := payload["long_term"].(map[string]interface{})
	if longTerm["lesson"] != "cache first" {
		t.Errorf("memory = %v, want the stored lesson", payload)
	}

	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/budget/expense", map[string]interface{}{
		"amount":   30,
		"category": "inference",
	}, "alice")
	_, payload, _ = decodeEnvelope(t, rec)
	if payload["remaining"].(float64) != 70 {
		t.Errorf("remaining = %v, want 70", payload["remaining"])
	}

	// Overspending maps to 403.
	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/budget/expense", map[string]interface{}{
		"amount": 1000,
	}, "alice")
	if rec.Code != http.StatusForbidden {
		t.Errorf("overspend status = %d, want 403", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/sleep", nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("sleep status = %d body = %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/sleep", nil, "alice")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("double sleep status = %d, want 400", rec.Code)
	}
	rec = do(t, s, http.MethodPost, "/api/projects/"+projectID+"/wake", nil, "alice")
	if rec.Code != http.StatusOK {
		t.Errorf("wake status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/projects/unknown", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project status = %d, want 404", rec.Code)
	}
}

func TestChatRejectsUnknownProject(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/chat", map[string]interface{}{
		"message":    "forecast the budget",
		"project_id": "ghost",
	}, "alice")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

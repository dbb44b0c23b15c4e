package nats

import (
	"sync"
	"testing"
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

// TestIntegration_HandlerFlow runs heartbeats, results and alerts through
// the handler end to end
func TestIntegration_HandlerFlow(t *testing.T) {
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: 14300})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Shutdown()

	orchestrator, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("Failed to create orchestrator client: %v", err)
	}
	defer orchestrator.Close()

	worker, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("Failed to create worker client: %v", err)
	}
	defer worker.Close()

	var mu sync.Mutex
	var heartbeats []HeartbeatMessage
	var results []TaskResultMessage
	var alerts []AlertMessage

	handler := NewHandler(orchestrator, HandlerCallbacks{
		OnHeartbeat: func(hb HeartbeatMessage) error {
			mu.Lock()
			heartbeats = append(heartbeats, hb)
			mu.Unlock()
			return nil
		},
		OnTaskResult: func(res TaskResultMessage) error {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		},
		OnAlert: func(msg AlertMessage) error {
			mu.Lock()
			alerts = append(alerts, msg)
			mu.Unlock()
			return nil
		},
	})
	if err := handler.Start(); err != nil {
		t.Fatalf("Failed to start handler: %v", err)
	}
	defer handler.Stop()

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		hb := HeartbeatMessage{
			AgentID:      "tech_scout-1",
			Status:       types.StatusIdle,
			CurrentTasks: 0,
			Timestamp:    time.Now(),
		}
		if err := worker.PublishHeartbeat(hb); err != nil {
			t.Fatalf("Failed to publish heartbeat: %v", err)
		}
	}

	if err := worker.PublishResult(TaskResultMessage{
		TaskID:     "t1",
		AgentID:    "tech_scout-1",
		Success:    true,
		Confidence: 0.9,
		Timestamp:  time.Now(),
	}); err != nil {
		t.Fatalf("Failed to publish result: %v", err)
	}

	if err := worker.PublishAlert(AlertMessage{
		Kind:      "budget",
		ProjectID: "p1",
		Message:   "75% of budget consumed",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to publish alert: %v", err)
	}

	worker.Flush()
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(heartbeats) != 3 {
		t.Errorf("Expected 3 heartbeats, got %d", len(heartbeats))
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].TaskID != "t1" {
		t.Errorf("Expected result for t1, got %s", results[0].TaskID)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Kind != "budget" {
		t.Errorf("Expected budget alert, got %s", alerts[0].Kind)
	}
}

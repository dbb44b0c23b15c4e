// Package server is the orchestrator facade: it wires every fabric
// component together and exposes the external HTTP surface plus a
// websocket event stream.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/AGENTFABRIC/internal/audit"
	"github.com/AGENTFABRIC/internal/compose"
	"github.com/AGENTFABRIC/internal/costguard"
	"github.com/AGENTFABRIC/internal/decompose"
	"github.com/AGENTFABRIC/internal/dispatch"
	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/gate"
	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/notifications"
	"github.com/AGENTFABRIC/internal/project"
	"github.com/AGENTFABRIC/internal/registry"
	"github.com/AGENTFABRIC/internal/types"
	"github.com/AGENTFABRIC/internal/worker"
)

// parkedGoal is a pending-approval goal waiting for a human verdict
type parkedGoal struct {
	req   chatRequest
	tasks []*types.Task
}

// Server is the fabric HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	// Components
	cfg        *types.FabricConfig
	registry   *registry.Registry
	scaler     *registry.AutoScaler
	decomposer *decompose.Decomposer
	gate       *gate.Gate
	guard      *costguard.Guard
	dispatcher *dispatch.Dispatcher
	composer   *compose.Composer
	projects   *project.Store
	auditStore *audit.Store
	bus        *events.Bus
	notifier   *notifications.Router
	limiter    *RateLimiter

	// NATS messaging
	natsServer  *fabricnats.EmbeddedServer
	natsClient  *fabricnats.Client
	natsHandler *fabricnats.Handler

	// Goals parked behind pending approvals
	mu     sync.Mutex
	parked map[string]parkedGoal

	basePath  string
	port      int
	startTime time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewServer builds the fabric: registry, scaler, gate, cost guard,
// dispatcher, composer, project store, audit trail, NATS transport and
// notification routing.
func NewServer(cfg *types.FabricConfig, basePath string, port, natsPort int) (*Server, error) {
	bus := events.NewBus()

	reg, err := registry.NewRegistry(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("registry init: %w", err)
	}

	// Audit trail is best-effort: a failed open degrades to in-memory only.
	auditStore, err := audit.NewStore(filepath.Join(basePath, "data", "fabric.db"))
	if err != nil {
		log.Printf("[SERVER] Warning: audit store unavailable: %v", err)
		auditStore = nil
	}

	var recorder gate.Recorder
	var costRecorder costguard.CostRecorder
	if auditStore != nil {
		recorder = auditStore
		costRecorder = auditStore
	}

	decisionGate := gate.NewGate(gate.DefaultChain(), cfg.ApprovalTimeout(), recorder, bus)

	cache := costguard.NewCache(time.Duration(cfg.CostGuard.CacheTTLSeconds) * time.Second)
	costLog := costguard.NewCostLog(costRecorder)
	guard := costguard.NewGuard(cache, costLog, worker.LocalModel{}, worker.ExternalModel{},
		cfg.CostGuard.BatchSize, time.Duration(cfg.CostGuard.BatchMaxWaitSeconds)*time.Second)

	persister, err := project.NewPersister(filepath.Join(basePath, "data", "projects"))
	if err != nil {
		log.Printf("[SERVER] Warning: project persistence unavailable: %v", err)
		persister = nil
	}
	projects := project.NewStore(persister, bus, cfg.BudgetThresholds, nil)
	if persister != nil {
		if err := projects.Restore(); err != nil {
			log.Printf("[SERVER] Warning: project restore failed: %v", err)
		}
	}

	dispatcher := dispatch.NewDispatcher(reg, guard, nil, bus)
	scaler := registry.NewAutoScaler(reg, cfg.Scaler, bus, dispatcher.QueueDepth)

	// Embedded NATS is optional; the fabric runs in-process without it.
	natsServer, natsClient := startNATS(basePath, natsPort)

	notifier := notifications.NewRouter([]notifications.Channel{
		notifications.NewLogChannel(0),
	})
	if cfg.WebhookURL != "" {
		notifier.AddChannel(notifications.NewWebhookChannel(notifications.WebhookConfig{URL: cfg.WebhookURL}))
	}
	if natsClient != nil {
		notifier.AddChannel(notifications.NewNATSChannel(natsClient))
	}

	s := &Server{
		hub:        NewHub(),
		cfg:        cfg,
		registry:   reg,
		scaler:     scaler,
		decomposer: decompose.New(),
		gate:       decisionGate,
		guard:      guard,
		dispatcher: dispatcher,
		composer:   compose.NewComposer(reg),
		projects:   projects,
		auditStore: auditStore,
		bus:        bus,
		notifier:   notifier,
		limiter:    NewRateLimiter(cfg.RateLimits),
		natsServer: natsServer,
		natsClient: natsClient,
		parked:     make(map[string]parkedGoal),
		basePath:   basePath,
		port:       port,
		startTime:  time.Now(),
	}

	if natsClient != nil {
		s.natsHandler = fabricnats.NewHandler(natsClient, fabricnats.HandlerCallbacks{
			OnHeartbeat:  func(hb fabricnats.HeartbeatMessage) error { s.onHeartbeat(hb); return nil },
			OnTaskResult: func(res fabricnats.TaskResultMessage) error { s.onTaskResult(res); return nil },
			OnScale:      func(msg fabricnats.ScaleMessage) error { s.onScale(msg); return nil },
			OnAlert:      func(msg fabricnats.AlertMessage) error { s.onAlert(msg); return nil },
		})
	}

	s.setupRoutes()
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	return s, nil
}

// startNATS brings up the embedded broker with JetStream and connects a
// client. Failures downgrade to in-process operation with a warning.
func startNATS(basePath string, port int) (*fabricnats.EmbeddedServer, *fabricnats.Client) {
	if port <= 0 {
		return nil, nil
	}

	natsServer, err := fabricnats.NewEmbeddedServer(fabricnats.EmbeddedServerConfig{
		Port:      port,
		JetStream: true,
		DataDir:   filepath.Join(basePath, "data", "nats"),
	})
	if err != nil {
		log.Printf("[NATS] Warning: failed to create server: %v", err)
		return nil, nil
	}
	if err := natsServer.Start(); err != nil {
		log.Printf("[NATS] Warning: failed to start server: %v", err)
		return nil, nil
	}
	log.Printf("[NATS] Embedded server started on %s", natsServer.URL())

	client, err := fabricnats.NewClient(natsServer.URL())
	if err != nil {
		log.Printf("[NATS] Warning: failed to connect client: %v", err)
		return natsServer, nil
	}

	sm, err := fabricnats.NewStreamManager(client.RawConn())
	if err != nil {
		log.Printf("[NATS] Warning: JetStream unavailable: %v", err)
	} else if err := sm.SetupStreams(); err != nil {
		log.Printf("[NATS] Warning: stream setup failed: %v", err)
	}

	return natsServer, client
}

// setupRoutes configures the HTTP surface
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Middleware)
	api.Use(IdentityMiddleware)

	// Goal pipeline
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/decompose", s.handleDecompose).Methods("POST")
	api.HandleFunc("/compose", s.handleCompose).Methods("POST")
	api.HandleFunc("/decisions", s.handleDecisions).Methods("GET")

	// Direct task control
	api.HandleFunc("/task/assign", s.handleTaskAssign).Methods("POST")
	api.HandleFunc("/task/complete", s.handleTaskComplete).Methods("POST")

	// Agent pool
	api.HandleFunc("/agent/spawn", s.handleAgentSpawn).Methods("POST")
	api.HandleFunc("/agent/{id}", s.handleAgentTerminate).Methods("DELETE")
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")
	api.HandleFunc("/agents/capability/{cap}", s.handleAgentsByCapability).Methods("GET")
	api.HandleFunc("/scale", s.handleScale).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Cost guard
	api.HandleFunc("/inference", s.handleInference).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/roi/evaluate", s.handleROI).Methods("POST")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache/clear", s.handleCacheClear).Methods("POST")
	api.HandleFunc("/cost/summary", s.handleCostSummary).Methods("GET")

	// Projects
	api.HandleFunc("/projects", s.handleProjectCreate).Methods("POST")
	api.HandleFunc("/projects", s.handleProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", s.handleProject).Methods("GET")
	api.HandleFunc("/projects/{id}/sleep", s.handleProjectSleep).Methods("POST")
	api.HandleFunc("/projects/{id}/wake", s.handleProjectWake).Methods("POST")
	api.HandleFunc("/projects/{id}/memory", s.handleProjectMemoryPut).Methods("POST")
	api.HandleFunc("/projects/{id}/memory", s.handleProjectMemory).Methods("GET")
	api.HandleFunc("/projects/{id}/budget", s.handleProjectBudget).Methods("GET")
	api.HandleFunc("/projects/{id}/budget/expense", s.handleProjectExpense).Methods("POST")
	api.HandleFunc("/projects/{id}/budget/reserve", s.handleProjectReserve).Methods("POST")
	api.HandleFunc("/projects/{id}/budget/release", s.handleProjectRelease).Methods("POST")

	// WebSocket and health
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// Start runs the HTTP listener and the background actors
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go s.hub.Run(s.bgCtx)
	go s.hub.Listen(s.bgCtx, s.bus)
	go s.scaler.Run(s.bgCtx)
	go s.notifier.Listen(s.bgCtx, s.bus)
	go s.drainLoop(s.bgCtx)

	if s.natsHandler != nil {
		if err := s.natsHandler.Start(); err != nil {
			log.Printf("[NATS] Warning: handler start failed: %v", err)
		}
	}

	log.Printf("[SERVER] Fabric ready at http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the background actors and the HTTP listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.bgCancel()

	if s.natsHandler != nil {
		s.natsHandler.Stop()
	}
	if s.natsClient != nil {
		s.natsClient.Close()
	}
	if s.natsServer != nil {
		s.natsServer.Shutdown()
		log.Printf("[NATS] Server shutdown complete")
	}
	if s.auditStore != nil {
		if err := s.auditStore.Close(); err != nil {
			log.Printf("[SERVER] audit close: %v", err)
		}
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// drainLoop periodically re-dispatches overflow tasks as capacity frees up
func (s *Server) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.dispatcher.QueueDepth() > 0 {
				s.dispatcher.DrainOverflow(ctx)
			}
		}
	}
}

func (s *Server) natsConnected() bool {
	return s.natsClient != nil && s.natsClient.IsConnected()
}

// parkGoal stores a goal awaiting approval
func (s *Server) parkGoal(decisionID string, req chatRequest, tasks []*types.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked[decisionID] = parkedGoal{req: req, tasks: tasks}
}

// takeGoal removes and returns a parked goal
func (s *Server) takeGoal(decisionID string) (parkedGoal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.parked[decisionID]
	if ok {
		delete(s.parked, decisionID)
	}
	return g, ok
}

// --- NATS callbacks ---

// onHeartbeat refreshes the agent's liveness clock
func (s *Server) onHeartbeat(hb fabricnats.HeartbeatMessage) {
	s.registry.Touch(hb.AgentID)
}

// onTaskResult mirrors remote worker results onto the event bus
func (s *Server) onTaskResult(res fabricnats.TaskResultMessage) {
	eventType := events.EventTaskCompleted
	if !res.Success {
		eventType = events.EventTaskFailed
	}
	s.bus.Publish(events.NewEvent(eventType, "nats", "all", events.PriorityNormal, map[string]interface{}{
		"task_id":     res.TaskID,
		"workflow_id": res.WorkflowID,
		"agent_id":    res.AgentID,
		"confidence":  res.Confidence,
	}))
}

// onScale applies externally requested scaling
func (s *Server) onScale(msg fabricnats.ScaleMessage) {
	s.scaler.Evaluate(msg.QueueDepth)
}

// onAlert mirrors broker alerts onto the websocket. Routing them back
// through the notifier would bounce them onto the alert subject again.
func (s *Server) onAlert(msg fabricnats.AlertMessage) {
	s.hub.BroadcastJSON(WSMessage{Type: "fabric_alert", Data: msg})
}

package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// HandlerCallbacks defines callbacks the handler uses to feed the fabric
type HandlerCallbacks struct {
	OnHeartbeat  func(hb HeartbeatMessage) error
	OnTaskResult func(res TaskResultMessage) error
	OnScale      func(msg ScaleMessage) error
	OnAlert      func(msg AlertMessage) error
}

// Handler processes fabric NATS traffic and delegates to callbacks
type Handler struct {
	client    *Client
	callbacks HandlerCallbacks

	subs   []*nats.Subscription
	subsMu sync.Mutex

	running bool
}

// NewHandler creates a new NATS message handler
func NewHandler(client *Client, callbacks HandlerCallbacks) *Handler {
	return &Handler{
		client:    client,
		callbacks: callbacks,
		subs:      make([]*nats.Subscription, 0),
	}
}

// Start subscribes to the fabric subjects
func (h *Handler) Start() error {
	if h.running {
		return fmt.Errorf("handler already running")
	}
	h.running = true

	sub, err := h.client.Subscribe(SubjectAllHeartbeats, h.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}
	h.addSub(sub)

	// Queue group so only one dispatcher consumes each result.
	sub, err = h.client.QueueSubscribe(SubjectTaskResult, ResultQueueGroup, h.handleTaskResult)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task results: %w", err)
	}
	h.addSub(sub)

	sub, err = h.client.Subscribe(SubjectScale, h.handleScale)
	if err != nil {
		return fmt.Errorf("failed to subscribe to scale notices: %w", err)
	}
	h.addSub(sub)

	sub, err = h.client.Subscribe(SubjectAlert, h.handleAlert)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alerts: %w", err)
	}
	h.addSub(sub)

	log.Printf("[NATS-HANDLER] Started, subscribed to %d subjects", len(h.subs))
	return nil
}

// Stop terminates message processing
func (h *Handler) Stop() {
	if !h.running {
		return
	}

	h.subsMu.Lock()
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
	h.subs = nil
	h.subsMu.Unlock()

	h.running = false
	log.Printf("[NATS-HANDLER] Stopped")
}

func (h *Handler) addSub(sub *nats.Subscription) {
	h.subsMu.Lock()
	h.subs = append(h.subs, sub)
	h.subsMu.Unlock()
}

func (h *Handler) handleHeartbeat(msg *Message) {
	var hb HeartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		log.Printf("[NATS-HANDLER] Invalid heartbeat message: %v", err)
		return
	}

	if h.callbacks.OnHeartbeat != nil {
		if err := h.callbacks.OnHeartbeat(hb); err != nil {
			log.Printf("[NATS-HANDLER] Heartbeat callback error: %v", err)
		}
	}
}

func (h *Handler) handleTaskResult(msg *Message) {
	var res TaskResultMessage
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		log.Printf("[NATS-HANDLER] Invalid task result message: %v", err)
		return
	}

	if h.callbacks.OnTaskResult != nil {
		if err := h.callbacks.OnTaskResult(res); err != nil {
			log.Printf("[NATS-HANDLER] Task result callback error: %v", err)
		}
	}
}

func (h *Handler) handleScale(msg *Message) {
	var sc ScaleMessage
	if err := json.Unmarshal(msg.Data, &sc); err != nil {
		log.Printf("[NATS-HANDLER] Invalid scale message: %v", err)
		return
	}

	if h.callbacks.OnScale != nil {
		if err := h.callbacks.OnScale(sc); err != nil {
			log.Printf("[NATS-HANDLER] Scale callback error: %v", err)
		}
	}
}

func (h *Handler) handleAlert(msg *Message) {
	var alert AlertMessage
	if err := json.Unmarshal(msg.Data, &alert); err != nil {
		log.Printf("[NATS-HANDLER] Invalid alert message: %v", err)
		return
	}

	if h.callbacks.OnAlert != nil {
		if err := h.callbacks.OnAlert(alert); err != nil {
			log.Printf("[NATS-HANDLER] Alert callback error: %v", err)
		}
	}
}

package notifications

import (
	"time"

	"github.com/AGENTFABRIC/internal/events"
	fabricnats "github.com/AGENTFABRIC/internal/nats"
)

// NATSChannel republishes alerts on the fabric alert subject so external
// subscribers (dashboards, workers) see them.
type NATSChannel struct {
	client *fabricnats.Client
}

// NewNATSChannel creates a NATS-backed alert channel
func NewNATSChannel(client *fabricnats.Client) *NATSChannel {
	return &NATSChannel{client: client}
}

// Name returns the channel name
func (n *NATSChannel) Name() string {
	return "nats"
}

// ShouldNotify forwards budget and decision alerts only
func (n *NATSChannel) ShouldNotify(event events.Event) bool {
	switch event.Type {
	case events.EventBudgetAlert, events.EventDecision:
		return true
	}
	return false
}

// Send publishes the alert to the fabric alert subject
func (n *NATSChannel) Send(event events.Event) error {
	kind := "decision"
	if event.Type == events.EventBudgetAlert {
		kind = "budget"
	}

	projectID, _ := event.Payload["project_id"].(string)
	message, _ := event.Payload["message"].(string)
	if message == "" {
		message = string(event.Type)
	}

	return n.client.PublishAlert(fabricnats.AlertMessage{
		Kind:      kind,
		ProjectID: projectID,
		Message:   message,
		Data:      event.Payload,
		Timestamp: time.Now(),
	})
}

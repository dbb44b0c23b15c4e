package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AGENTFABRIC/internal/events"
)

// WebhookConfig holds configuration for webhook notifications
type WebhookConfig struct {
	URL         string             `json:"url"`
	EventTypes  []events.EventType `json:"event_types,omitempty"`
	MinPriority int                `json:"min_priority,omitempty"`
}

// WebhookChannel posts alerts as JSON to a configured endpoint
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		config: config,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// ShouldNotify checks the priority floor and event-type filter
func (w *WebhookChannel) ShouldNotify(event events.Event) bool {
	if w.config.MinPriority > 0 && event.Priority > w.config.MinPriority {
		return false
	}

	if len(w.config.EventTypes) > 0 {
		found := false
		for _, et := range w.config.EventTypes {
			if event.Type == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Send posts the event to the webhook endpoint
func (w *WebhookChannel) Send(event events.Event) error {
	if w.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	body := map[string]interface{}{
		"id":        event.ID,
		"type":      string(event.Type),
		"source":    event.Source,
		"priority":  priorityString(event.Priority),
		"payload":   event.Payload,
		"timestamp": event.CreatedAt.Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := w.client.Post(w.config.URL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func priorityString(p int) string {
	switch p {
	case events.PriorityCritical:
		return "critical"
	case events.PriorityHigh:
		return "high"
	case events.PriorityNormal:
		return "normal"
	case events.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

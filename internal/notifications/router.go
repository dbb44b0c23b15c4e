// Package notifications fans fabric events out to alert channels: the log,
// an optional webhook and the NATS alert subject. Budget threshold and
// decision events are the primary traffic.
package notifications

import (
	"context"
	"log"
	"sync"

	"github.com/AGENTFABRIC/internal/events"
)

// Channel is a destination that can receive fabric alerts
type Channel interface {
	// Name returns the channel name
	Name() string

	// ShouldNotify checks if an event should go to this channel
	ShouldNotify(event events.Event) bool

	// Send delivers the event
	Send(event events.Event) error
}

// Router dispatches events to multiple channels
type Router struct {
	channels []Channel
	mu       sync.RWMutex
}

// NewRouter creates a router with the provided channels
func NewRouter(channels []Channel) *Router {
	if channels == nil {
		channels = []Channel{}
	}
	return &Router{channels: channels}
}

// AddChannel adds a channel to the router
func (r *Router) AddChannel(channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = append(r.channels, channel)
}

// RemoveChannel removes a channel by name
func (r *Router) RemoveChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	filtered := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	r.channels = filtered
}

// Route sends an event to all matching channels asynchronously. Failures
// are logged, not returned.
func (r *Router) Route(event events.Event) {
	for _, ch := range r.snapshot() {
		go func(channel Channel) {
			if !channel.ShouldNotify(event) {
				return
			}
			if err := channel.Send(event); err != nil {
				log.Printf("[NOTIFY] failed to send event %s to channel %s: %v", event.ID, channel.Name(), err)
			}
		}(ch)
	}
}

// RouteWithWait routes an event and blocks until every channel finishes
func (r *Router) RouteWithWait(event events.Event) {
	var wg sync.WaitGroup
	for _, ch := range r.snapshot() {
		wg.Add(1)
		go func(channel Channel) {
			defer wg.Done()
			if !channel.ShouldNotify(event) {
				return
			}
			if err := channel.Send(event); err != nil {
				log.Printf("[NOTIFY] failed to send event %s to channel %s: %v", event.ID, channel.Name(), err)
			}
		}(ch)
	}
	wg.Wait()
}

// Listen subscribes to budget and decision events on the bus and routes
// them until the context is cancelled.
func (r *Router) Listen(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe("notifications", []events.EventType{
		events.EventBudgetAlert,
		events.EventDecision,
		events.EventScale,
	})
	defer bus.Unsubscribe("notifications", ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			r.Route(event)
		}
	}
}

// Channels returns the registered channel names
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.channels))
	for i, ch := range r.channels {
		names[i] = ch.Name()
	}
	return names
}

func (r *Router) snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	return channels
}

package notifications

import (
	"log"

	"github.com/AGENTFABRIC/internal/events"
)

// LogChannel writes alerts to the process log. Always enabled; it is the
// fallback when no external channel is configured.
type LogChannel struct {
	MinPriority int
}

// NewLogChannel creates a log channel. minPriority 0 accepts everything.
func NewLogChannel(minPriority int) *LogChannel {
	return &LogChannel{MinPriority: minPriority}
}

// Name returns the channel name
func (l *LogChannel) Name() string {
	return "log"
}

// ShouldNotify applies the priority floor
func (l *LogChannel) ShouldNotify(event events.Event) bool {
	return l.MinPriority == 0 || event.Priority <= l.MinPriority
}

// Send writes the alert to the log
func (l *LogChannel) Send(event events.Event) error {
	log.Printf("[ALERT] %s priority=%s source=%s payload=%v",
		event.Type, priorityString(event.Priority), event.Source, event.Payload)
	return nil
}

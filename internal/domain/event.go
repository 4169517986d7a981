package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventAgentCreated      EventType = "agent.created"
	EventAgentDestroyed    EventType = "agent.destroyed"
	EventAgentStateChanged EventType = "agent.state.changed"
	EventTaskFailed        EventType = "task.failed"
	EventDispatcherStopped EventType = "dispatcher.shutdown"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StateChangePayload is the payload of EventAgentStateChanged.
type StateChangePayload struct {
	From AgentState `json:"from"`
	To   AgentState `json:"to"`
}

// TaskFailedPayload is the payload of EventTaskFailed.
type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// DispatcherStoppedPayload is the payload of EventDispatcherStopped.
type DispatcherStoppedPayload struct {
	Dropped int `json:"dropped"`
}

// NewEvent builds an event with the current timestamp and a JSON-encoded payload.
// A payload that fails to marshal is omitted.
func NewEvent(t EventType, agentID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), AgentID: agentID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventPublisher is the publish half of an EventBus.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	EventPublisher
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

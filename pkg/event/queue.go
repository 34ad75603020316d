package event

import "time"

const (
	// QueueOrdersTopic carries order lifecycle events emitted by the queue service.
	QueueOrdersTopic = "queue.orders"
	// QueueCountersTopic carries session counter snapshots after every change.
	QueueCountersTopic = "queue.counters"
	// QueueSubjects matches every queue topic, used as the JetStream subject.
	QueueSubjects = "queue.>"

	EventOrderSubmitted = "queue.order.submitted"
	EventOrderApproved  = "queue.order.approved"
	EventOrderCompleted = "queue.order.completed"
	EventOrderUpdated   = "queue.order.updated"
	EventOrderDeleted   = "queue.order.deleted"

	EventCounterIssued   = "queue.counter.issued"
	EventCounterAdvanced = "queue.counter.advanced"
	EventSessionStarted  = "queue.session.started"
)

// OrderEvent describes a change to a single order.
type OrderEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    string    `json:"order_id"`
	SessionID  string    `json:"session_id"`
	Phone      string    `json:"phone,omitempty"`
	Status     string    `json:"status"`
	Token      int       `json:"token,omitempty"`
	Total      float64   `json:"total"`
	Paid       bool      `json:"paid"`
}

// CounterEvent is a full snapshot of a session counter, so consumers can
// apply it without ordering guarantees beyond last-write-wins per session.
type CounterEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	SessionID  string    `json:"session_id"`
	LastIssued int       `json:"last_issued"`
	Current    int       `json:"current"`
}

// IsCounterEvent reports whether eventType carries a CounterEvent payload.
func IsCounterEvent(eventType string) bool {
	switch eventType {
	case EventCounterIssued, EventCounterAdvanced, EventSessionStarted:
		return true
	}
	return false
}

package domain

import "time"

// EventType names a queue lifecycle event.
type EventType string

const (
	EventSubmitted EventType = "item.submitted"
	EventApproved  EventType = "item.approved"
	EventCancelled EventType = "item.cancelled"
	EventExpired   EventType = "items.expired"
	EventMatched   EventType = "match.created"
	EventConfirmed EventType = "match.confirmed"
)

// QueueEvent is broadcast to dashboards and settlement consumers.
type QueueEvent struct {
	Type       EventType  `json:"type"`
	ItemID     string     `json:"itemId,omitempty"`
	CustomerID string     `json:"customerId,omitempty"`
	Item       *QueueItem `json:"item,omitempty"`
	Match      *Match     `json:"match,omitempty"`
	Count      int        `json:"count,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Key returns the partition key used by ordered transports.
func (e *QueueEvent) Key() string {
	switch {
	case e.Match != nil:
		return e.Match.ID
	case e.ItemID != "":
		return e.ItemID
	default:
		return string(e.Type)
	}
}

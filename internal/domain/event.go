package domain

import "time"

// EventType names a lifecycle transition in the event log
type EventType string

const (
	EventReceived          EventType = "received"
	EventAdmitted          EventType = "admitted"
	EventRejected          EventType = "rejected"
	EventQueued            EventType = "queued"
	EventExecutionStarted  EventType = "execution_started"
	EventExecutionFinished EventType = "execution_finished"
	EventValidated         EventType = "validated"
	EventRetried           EventType = "retried"
	EventCancelled         EventType = "cancelled"
	EventArchived          EventType = "archived"
	EventArtifactWritten   EventType = "artifact_written"
	EventLeaseReclaimed    EventType = "lease_reclaimed"
)

// Event is one append-only record in the lifecycle event log.
// Consumers must tolerate unknown fields.
type Event struct {
	Type      EventType      `json:"event"`
	TaskID    string         `json:"task_id,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(t EventType, taskID string, attempt int, fields map[string]any) Event {
	return Event{
		Type:      t,
		TaskID:    taskID,
		Attempt:   attempt,
		Timestamp: time.Now(),
		Fields:    fields,
	}
}

// Package notify delivers terminal-task notifications to optional
// desktop and Slack sinks. Delivery is best effort; the orchestrator
// never blocks on a notifier.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// NotificationType represents the severity of a notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification is one message about a task reaching a terminal state
type Notification struct {
	Title        string
	Message      string
	Type         NotificationType
	TaskID       string
	ArtifactPath string // where the attempt history lives
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// Terminal builds the notification for a task reaching a terminal status
func Terminal(task *domain.Task, status domain.TaskStatus, artifactPath string) Notification {
	n := Notification{
		TaskID:       task.ID,
		Title:        fmt.Sprintf("Task %s %s", task.ID, status),
		Message:      task.Title,
		ArtifactPath: artifactPath,
	}
	switch status {
	case domain.StatusSucceeded:
		n.Type = NotifySuccess
	case domain.StatusFailed:
		n.Type = NotifyError
	case domain.StatusCancelled:
		n.Type = NotifyWarning
	default:
		n.Type = NotifyInfo
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// Package notify delivers structured notifications to a chat channel.
package notify

import "time"

// Field is one name/value pair rendered inside a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a formatted message ready for delivery.
type Notification struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Timestamp   time.Time
}

// Sink delivers notifications to a destination channel. Delivery
// failures are returned to the caller, which logs and moves on;
// notifications are never retried.
type Sink interface {
	// Send delivers a notification to the given channel.
	Send(channelID string, n Notification) error

	// SendNotification delivers a notification to the default channel.
	SendNotification(n Notification) error
}

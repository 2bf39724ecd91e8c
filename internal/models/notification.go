// internal/models/notification.go
package models

import "time"

// Severity classifies a notification for display.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Notification is a client-local, ephemeral outcome message. It is never
// written to the remote store and does not survive a restart.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

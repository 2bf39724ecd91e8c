// Package notify implements the ephemeral, client-local notification
// queue. Any component may push into it; the store and session use it to
// surface mutation outcomes. Nothing here ever touches the remote store.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmarket-sync/internal/common/logger"
	"jobmarket-sync/internal/models"
)

// Center holds the full notification history until explicitly cleared.
// Display capping is the consumer's policy; Recent gives it the slice.
type Center struct {
	mu            sync.Mutex
	notifications []models.Notification // newest first
	listeners     map[int]chan struct{}
	nextListener  int
	displayLimit  int
	autoDismiss   time.Duration
	logger        logger.Logger
}

// NewCenter builds a center with the banner policy: at most displayLimit
// entries in Recent, and entries older than autoDismiss drop out of
// Recent (zero disables the window). History in All is unaffected.
func NewCenter(displayLimit int, autoDismiss time.Duration, log logger.Logger) *Center {
	if displayLimit <= 0 {
		displayLimit = 3
	}
	return &Center{
		listeners:    make(map[int]chan struct{}),
		displayLimit: displayLimit,
		autoDismiss:  autoDismiss,
		logger:       log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// Add appends a notification with a generated id and returns it. There
// is no dedup and no merge: every call is one entry.
func (c *Center) Add(title, message string, severity models.Severity) models.Notification {
	n := models.Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.notifications = append([]models.Notification{n}, c.notifications...)
	c.mu.Unlock()

	c.logger.Debug("notification added", map[string]interface{}{
		"id":       n.ID,
		"severity": string(severity),
		"title":    title,
	})

	c.signal()
	return n
}

func (c *Center) Success(title, message string) models.Notification {
	return c.Add(title, message, models.SeveritySuccess)
}

func (c *Center) Error(title, message string) models.Notification {
	return c.Add(title, message, models.SeverityError)
}

func (c *Center) Warning(title, message string) models.Notification {
	return c.Add(title, message, models.SeverityWarning)
}

func (c *Center) Info(title, message string) models.Notification {
	return c.Add(title, message, models.SeverityInfo)
}

// MarkAsRead flags one entry. Unknown ids are a no-op.
func (c *Center) MarkAsRead(id string) {
	c.mu.Lock()
	changed := false
	for i := range c.notifications {
		if c.notifications[i].ID == id && !c.notifications[i].Read {
			c.notifications[i].Read = true
			changed = true
			break
		}
	}
	c.mu.Unlock()

	if changed {
		c.signal()
	}
}

// Clear removes one entry. Unknown ids are a no-op.
func (c *Center) Clear(id string) {
	c.mu.Lock()
	changed := false
	for i := range c.notifications {
		if c.notifications[i].ID == id {
			c.notifications = append(c.notifications[:i], c.notifications[i+1:]...)
			changed = true
			break
		}
	}
	c.mu.Unlock()

	if changed {
		c.signal()
	}
}

// ClearAll empties the queue.
func (c *Center) ClearAll() {
	c.mu.Lock()
	changed := len(c.notifications) > 0
	c.notifications = nil
	c.mu.Unlock()

	if changed {
		c.signal()
	}
}

// All returns the full history, newest first.
func (c *Center) All() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// Recent returns the newest entries up to the display limit, skipping
// entries past the auto-dismiss window; this is what the banner overlay
// renders.
func (c *Center) Recent() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Time{}
	if c.autoDismiss > 0 {
		cutoff = time.Now().UTC().Add(-c.autoDismiss)
	}
	out := make([]models.Notification, 0, c.displayLimit)
	for _, n := range c.notifications {
		if len(out) == c.displayLimit {
			break
		}
		if n.CreatedAt.Before(cutoff) {
			// Newest first: everything after this is older still.
			break
		}
		out = append(out, n)
	}
	return out
}

// UnreadCount counts entries not yet marked read.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}

// Subscribe returns a change signal and its cancel. The channel
// coalesces: readers see at least one signal after any change.
func (c *Center) Subscribe() (<-chan struct{}, func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	ch := make(chan struct{}, 1)
	c.listeners[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Center) signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

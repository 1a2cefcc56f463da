package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier receives the two user-facing service-status notifications. The
// engine raises no other blocking notifications.
type Notifier interface {
	ServiceUnavailable(reason string)
	ServiceRecovered()
}

// DefaultWindow is the cooldown during which repeated identical
// notifications are suppressed.
const DefaultWindow = 5 * time.Second

// Coordinator deduplicates service-status notifications across all poller
// instances in the process. Several pollers observing the same outage within
// the window produce a single user-facing signal. It replaces what would
// otherwise be implicit global mutable state: construct one and inject it
// into every poller.
type Coordinator struct {
	notifier Notifier
	window   time.Duration
	now      func() time.Time

	mu              sync.Mutex
	lastUnavailable time.Time
	lastRecovered   time.Time
}

// NewCoordinator wraps notifier with a dedup window. window <= 0 uses
// DefaultWindow.
func NewCoordinator(notifier Notifier, window time.Duration) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coordinator{
		notifier: notifier,
		window:   window,
		now:      time.Now,
	}
}

// Unavailable raises the "service restarting" notification unless an
// identical one fired within the window. Returns whether it was delivered.
func (c *Coordinator) Unavailable(reason string) bool {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastUnavailable) < c.window {
		c.mu.Unlock()
		return false
	}
	c.lastUnavailable = now
	c.mu.Unlock()

	c.notifier.ServiceUnavailable(reason)
	return true
}

// Recovered raises the paired "service reconnected" notification with the
// same suppression rule.
func (c *Coordinator) Recovered() bool {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastRecovered) < c.window {
		c.mu.Unlock()
		return false
	}
	c.lastRecovered = now
	c.mu.Unlock()

	c.notifier.ServiceRecovered()
	return true
}

// LogNotifier is a Notifier that writes structured log lines. Embedding
// applications replace it with their own toast/alert implementation.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) ServiceUnavailable(reason string) {
	n.logger().Warn("service unavailable, retrying in background", slog.String("reason", reason))
}

func (n LogNotifier) ServiceRecovered() {
	n.logger().Info("service reconnected")
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

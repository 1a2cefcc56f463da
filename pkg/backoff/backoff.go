package backoff

import "time"

// Config controls backoff behaviour. Zero values fall back to the defaults
// below.
type Config struct {
	// ErrorInterval is the delay used for the first three consecutive
	// transient failures, and the base for exponential growth after that.
	ErrorInterval time.Duration
	// ErrorCap bounds the transient-error delay.
	ErrorCap time.Duration
	// UnavailableStart is the initial delay after the service goes
	// unavailable (502/503 or no response at all).
	UnavailableStart time.Duration
	// UnavailableCap bounds the unavailable delay.
	UnavailableCap time.Duration
}

const (
	DefaultErrorInterval    = 2 * time.Second
	DefaultErrorCap         = 60 * time.Second
	DefaultUnavailableStart = time.Second
	DefaultUnavailableCap   = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = DefaultErrorInterval
	}
	if c.ErrorCap <= 0 {
		c.ErrorCap = DefaultErrorCap
	}
	if c.UnavailableStart <= 0 {
		c.UnavailableStart = DefaultUnavailableStart
	}
	if c.UnavailableCap <= 0 {
		c.UnavailableCap = DefaultUnavailableCap
	}
	return c
}

// Controller computes retry delays on two independent tracks.
//
// Transient errors stay linear for three consecutive failures, then grow
// exponentially. With ErrorInterval=2s:
//
//	failure 1–3 → 2s
//	failure 4   → 4s
//	failure 5   → 8s   ... capped at ErrorCap
//
// Service-unavailable signals use their own track (1s doubling, capped at
// UnavailableCap) so that probing a restarting service stays fast initially
// without interfering with ordinary error backoff. One success resets both
// tracks.
//
// A Controller is owned by a single poller and is not safe for concurrent
// use.
type Controller struct {
	cfg          Config
	errors       int
	unavailables int
}

// New returns a Controller with cfg's zero values replaced by defaults.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg.withDefaults()}
}

// Failure records one consecutive transient failure and returns the delay
// before the next attempt.
func (c *Controller) Failure() time.Duration {
	c.errors++
	if c.errors <= 3 {
		return c.cfg.ErrorInterval
	}
	d := c.cfg.ErrorInterval
	for i := 3; i < c.errors; i++ {
		d *= 2
		if d >= c.cfg.ErrorCap {
			return c.cfg.ErrorCap
		}
	}
	return d
}

// Unavailable records one consecutive service-unavailable signal and returns
// the delay before the next probe. The first call after a success (or ever)
// reports a fresh transition into the unavailable state.
func (c *Controller) Unavailable() (delay time.Duration, becameUnavailable bool) {
	c.unavailables++
	becameUnavailable = c.unavailables == 1

	d := c.cfg.UnavailableStart
	for i := 1; i < c.unavailables; i++ {
		d *= 2
		if d >= c.cfg.UnavailableCap {
			d = c.cfg.UnavailableCap
			break
		}
	}
	return d, becameUnavailable
}

// Success resets both tracks. It reports whether this success recovered from
// an unavailable state, so callers can raise the paired "reconnected"
// notification exactly once.
func (c *Controller) Success() (recovered bool) {
	recovered = c.unavailables > 0
	c.errors = 0
	c.unavailables = 0
	return recovered
}

// UnavailableNow reports whether the last recorded signal left the service
// flagged unavailable.
func (c *Controller) UnavailableNow() bool { return c.unavailables > 0 }

// UnavailableDelay returns the current unavailable-track delay without
// recording a new signal. Zero when the service is not flagged unavailable.
func (c *Controller) UnavailableDelay() time.Duration {
	if c.unavailables == 0 {
		return 0
	}
	d := c.cfg.UnavailableStart
	for i := 1; i < c.unavailables; i++ {
		d *= 2
		if d >= c.cfg.UnavailableCap {
			return c.cfg.UnavailableCap
		}
	}
	return d
}

package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/go-poll-sync/pkg/backoff"
)

func TestFailure_LinearThenExponential(t *testing.T) {
	c := backoff.New(backoff.Config{ErrorInterval: 2 * time.Second})

	// First three consecutive failures stay at the fixed interval.
	assert.Equal(t, 2*time.Second, c.Failure())
	assert.Equal(t, 2*time.Second, c.Failure())
	assert.Equal(t, 2*time.Second, c.Failure())

	// Then doubling.
	assert.Equal(t, 4*time.Second, c.Failure())
	assert.Equal(t, 8*time.Second, c.Failure())
	assert.Equal(t, 16*time.Second, c.Failure())
	assert.Equal(t, 32*time.Second, c.Failure())

	// Capped at 60s.
	assert.Equal(t, 60*time.Second, c.Failure())
	assert.Equal(t, 60*time.Second, c.Failure())
}

func TestFailure_SuccessResets(t *testing.T) {
	c := backoff.New(backoff.Config{ErrorInterval: time.Second})
	for i := 0; i < 6; i++ {
		c.Failure()
	}
	c.Success()
	assert.Equal(t, time.Second, c.Failure(), "delay should reset to the fixed interval after success")
}

func TestUnavailable_DoublingAndCap(t *testing.T) {
	c := backoff.New(backoff.Config{})

	var delays []time.Duration
	for i := 0; i < 8; i++ {
		d, _ := c.Unavailable()
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, delays)

	// Non-decreasing growth, by construction of the sequence above.
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestUnavailable_TransitionReportedOnce(t *testing.T) {
	c := backoff.New(backoff.Config{})

	_, became := c.Unavailable()
	assert.True(t, became, "first signal is a fresh transition")
	_, became = c.Unavailable()
	assert.False(t, became, "repeat signals are not transitions")

	recovered := c.Success()
	assert.True(t, recovered, "first success after unavailable reports recovery")
	assert.False(t, c.Success(), "repeat successes do not")

	_, became = c.Unavailable()
	assert.True(t, became, "a new outage is a fresh transition again")
}

func TestUnavailable_ResetsToStartOnSuccess(t *testing.T) {
	c := backoff.New(backoff.Config{})
	for i := 0; i < 5; i++ {
		c.Unavailable()
	}
	c.Success()
	d, _ := c.Unavailable()
	assert.Equal(t, time.Second, d)
}

func TestTracksAreIndependent(t *testing.T) {
	c := backoff.New(backoff.Config{ErrorInterval: 2 * time.Second})

	// Grow the error track past the linear region.
	for i := 0; i < 5; i++ {
		c.Failure()
	}
	// An unavailable signal starts its own track at the beginning.
	d, _ := c.Unavailable()
	assert.Equal(t, time.Second, d)
	// And the error track is unaffected by the unavailable signal.
	assert.Equal(t, 16*time.Second, c.Failure())
}

func TestUnavailableNowAndDelay(t *testing.T) {
	c := backoff.New(backoff.Config{})
	assert.False(t, c.UnavailableNow())
	assert.Equal(t, time.Duration(0), c.UnavailableDelay())

	c.Unavailable()
	c.Unavailable()
	assert.True(t, c.UnavailableNow())
	assert.Equal(t, 2*time.Second, c.UnavailableDelay(), "peek must not advance the track")
	assert.Equal(t, 2*time.Second, c.UnavailableDelay())

	c.Success()
	assert.False(t, c.UnavailableNow())
}

func TestDefaultsApplied(t *testing.T) {
	c := backoff.New(backoff.Config{})
	assert.Equal(t, backoff.DefaultErrorInterval, c.Failure())
}

// Package rotary reads a bounded number from a rotary encoder.
//
// The encoder's clock pin is sampled into a shift register.  A detent is recognized when the pin
// falls and then stays low for twelve samples; with the top three bits of the register forced on,
// that is exactly 0xF000.  A shorter low pulse is contact bounce.
package rotary

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/nixie-clock/control/button"
	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	mask   uint16 = 0xE000
	detent uint16 = 0xF000
	// DefaultPoll is how often the encoder is sampled.
	DefaultPoll = 500 * time.Microsecond
)

var detentsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotary_detents",
	Help: "count of recognized encoder detents, by direction",
}, []string{"direction"})

// Counter is a number that the encoder moves between two bounds.
type Counter struct {
	Value        int
	Lower, Upper int

	state uint16
}

// NewCounter returns a counter starting at v, clamped to [lower, upper].
func NewCounter(v, lower, upper int) *Counter {
	c := &Counter{Lower: lower, Upper: upper}
	c.Value = c.clamp(v)
	return c
}

func (c *Counter) clamp(v int) int {
	if v < c.Lower {
		return c.Lower
	}
	if v > c.Upper {
		return c.Upper
	}
	return v
}

// Sample feeds one reading of the encoder pins into the debouncer.  It reports whether a detent
// was recognized and whether that changed the value.  dt high means clockwise.
func (c *Counter) Sample(clk, dt bool) (detected, changed bool) {
	var bit uint16
	if clk {
		bit = 1
	}
	c.state = c.state<<1 | bit | mask
	if c.state != detent {
		return false, false
	}
	c.state = 0
	old := c.Value
	if dt {
		detentsCounter.WithLabelValues("up").Inc()
		c.Value = c.clamp(c.Value + 1)
	} else {
		detentsCounter.WithLabelValues("down").Inc()
		c.Value = c.clamp(c.Value - 1)
	}
	return true, c.Value != old
}

// View shows the value being entered.
type View interface {
	ShowValue(v int)
}

// Pins is a source of encoder readings.  *hw.Encoder is one.
type Pins interface {
	Levels() (clk, dt bool)
}

// Session is everything needed to read a value from the user.
type Session struct {
	Pins     Pins
	Confirm  *button.Signal
	Clicker  hw.Clicker
	Watchdog hw.Watchdog
	// Poll is the time between samples; DefaultPoll if zero.
	Poll time.Duration
}

// Read lets the user adjust c until the confirm signal is raised, showing each new value on v.
// It clicks once when it starts, on every detent, and again when the value is confirmed.  If the
// context is done first, the value so far is returned with the context's error.
func (s Session) Read(ctx context.Context, c *Counter, v View) (int, error) {
	clicker := s.Clicker
	if clicker == nil {
		clicker = hw.Silent{}
	}
	wd := s.Watchdog
	if wd == nil {
		wd = hw.NopWatchdog{}
	}
	poll := s.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}

	clicker.Click()
	v.ShowValue(c.Value)
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		wd.Feed()
		if detected, changed := c.Sample(s.Pins.Levels()); detected {
			clicker.Click()
			if changed {
				v.ShowValue(c.Value)
			}
		}
		if s.Confirm.TryTake() {
			clicker.Click()
			return c.Value, nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return c.Value, fmt.Errorf("reading rotary encoder: %w", ctx.Err())
		}
	}
}

// Package button turns push-button presses into a binary signal.
package button

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

// MinSpacing is the default minimum time between two accepted presses.
const MinSpacing = 250 * time.Millisecond

var (
	pressesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "button_presses",
		Help: "count of accepted button presses",
	})
	bouncesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "button_bounces",
		Help: "count of button edges dropped for arriving too soon after the last press",
	})
)

// Signal is a binary semaphore.  Any number of Gives before a Take count as one.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns an empty signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Give raises the signal.  It never blocks.
func (s *Signal) Give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// TryTake lowers the signal and reports whether it was raised.
func (s *Signal) TryTake() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is raised, then lowers it.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for button: %w", ctx.Err())
	}
}

// Watch raises s every time pin sees a falling edge, ignoring edges that arrive within spacing
// of the last accepted one.  It returns when the context is done.
func Watch(ctx context.Context, pin gpio.PinIn, s *Signal, spacing time.Duration) error {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("configure button pin %s: %w", pin, err)
	}
	var last time.Time
	for {
		// WaitForEdge can't be interrupted, so wake up regularly to check the context.
		edge := pin.WaitForEdge(100 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("watching button: %w", err)
		}
		if !edge {
			continue
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < spacing {
			bouncesCounter.Inc()
			continue
		}
		last = now
		pressesCounter.Inc()
		s.Give()
	}
}

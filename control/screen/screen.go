// Package screen owns the nixie display, and retains what it shows for debugging the rest of the
// program without the tubes attached.
//
// There is exactly one Screen per process.  Anything that wants to draw has to Acquire it first;
// the returned Owner is the only way to change the display, and it stops working once released.
package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/nixie-clock/control/shiftreg"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	rendersCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nixie_renders",
		Help: "count of frames sent to the shift registers",
	})
	renderErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nixie_render_errors",
		Help: "count of frames that could not be sent to the shift registers",
	})
	lockWaitMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nixie_display_lock_wait_seconds",
		Help:    "time spent waiting to acquire the display",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"owner"})
	lockHoldMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nixie_display_lock_hold_seconds",
		Help:    "time the display was held by an owner",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"owner"})
)

// ErrReleased is returned by an Owner that has already given up the display.
var ErrReleased = errors.New("display owner already released")

// Renderer is something that can put a state on the tubes.  *Owner is the real one.
type Renderer interface {
	Show(s tubes.State)
}

// Screen is the physical display.
type Screen struct {
	// sem is the display lock.  It is a channel rather than a sync.Mutex so that waiting for the
	// display can be abandoned when a context is cancelled.
	sem chan struct{}

	// renderMu makes mutating state and sending it to the bus one atomic step.
	renderMu sync.Mutex
	bus      shiftreg.Bus
	state    tubes.State // must hold renderMu to read or write.

	ownerMu sync.Mutex
	owner   string // must hold ownerMu to read or write.

	log logrus.FieldLogger
}

// New returns a Screen that draws to bus.  The display starts blank.
func New(bus shiftreg.Bus, log logrus.FieldLogger) *Screen {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Screen{
		sem:   make(chan struct{}, 1),
		bus:   bus,
		state: tubes.BlankState,
		log:   log.WithField("component", "screen"),
	}
}

// Owner is the capability to draw on the display, obtained from Screen.Acquire.
type Owner struct {
	s        *Screen
	name     string
	acquired time.Time

	mu       sync.Mutex
	released bool
}

// Acquire blocks until the display is free or the context is done.  The name identifies the
// owner in logs and metrics.
func (s *Screen) Acquire(ctx context.Context, name string) (*Owner, error) {
	start := time.Now()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for display: %w", ctx.Err())
	}
	now := time.Now()
	lockWaitMetric.WithLabelValues(name).Observe(now.Sub(start).Seconds())
	s.ownerMu.Lock()
	s.owner = name
	s.ownerMu.Unlock()
	return &Owner{s: s, name: name, acquired: now}, nil
}

// Do acquires the display, runs f, and releases the display.
func (s *Screen) Do(ctx context.Context, name string, f func(o *Owner) error) error {
	o, err := s.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer o.Release()
	return f(o)
}

// CurrentOwner returns the name of whatever holds the display, or "" if nothing does.
func (s *Screen) CurrentOwner() string {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	return s.owner
}

// Current returns the state last sent to the display.
func (s *Screen) Current() tubes.State {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	return s.state
}

// Release gives up the display.  Releasing twice is harmless.
func (o *Owner) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return
	}
	o.released = true
	lockHoldMetric.WithLabelValues(o.name).Observe(time.Since(o.acquired).Seconds())
	o.s.ownerMu.Lock()
	o.s.owner = ""
	o.s.ownerMu.Unlock()
	<-o.s.sem
}

// Name returns the name the display was acquired with.
func (o *Owner) Name() string { return o.name }

// update applies f to the display state and renders the result.  o.mu is held until the frame
// is on the bus, so Release waits for renders in flight and nothing draws after it returns.
func (o *Owner) update(f func(s tubes.State) tubes.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return ErrReleased
	}
	s := o.s
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.state = f(s.state)
	rendersCounter.Inc()
	if err := s.bus.Send(s.state.Frame()); err != nil {
		renderErrorsCounter.Inc()
		return fmt.Errorf("render %v: %w", s.state, err)
	}
	return nil
}

// logged logs render errors.  The clock must keep running when a frame is lost, so callers
// drawing animations don't see them.
func (o *Owner) logged(err error) {
	if err != nil && !errors.Is(err, ErrReleased) {
		o.s.log.WithField("owner", o.name).WithError(err).Debug("render failed")
	}
}

// State returns what is on the display.
func (o *Owner) State() tubes.State {
	return o.s.Current()
}

// Show puts st on the display.
func (o *Owner) Show(st tubes.State) {
	o.logged(o.update(func(tubes.State) tubes.State { return st }))
}

// ShowDigits changes the digits without touching the dots.
func (o *Owner) ShowDigits(d [tubes.Slots]tubes.Digit) {
	o.logged(o.update(func(s tubes.State) tubes.State {
		s.Digits = d
		return s
	}))
}

// ShowPair changes one digit pair without touching anything else.
func (o *Owner) ShowPair(pair, value int, blankLeadingZero bool) {
	o.logged(o.update(func(s tubes.State) tubes.State {
		return s.WithPair(pair, value, blankLeadingZero)
	}))
}

// SetDots changes the dots without touching the digits.
func (o *Owner) SetDots(d tubes.Dots) {
	o.logged(o.update(func(s tubes.State) tubes.State {
		s.Dots = d
		return s
	}))
}

// ToggleDots turns the dots off if any are on, and on otherwise.
func (o *Owner) ToggleDots(on tubes.Dots) {
	o.logged(o.update(func(s tubes.State) tubes.State {
		if s.Dots != tubes.DotsNone {
			s.Dots = tubes.DotsNone
		} else {
			s.Dots = on
		}
		return s
	}))
}

// Blank turns every tube and dot off.
func (o *Owner) Blank() {
	o.Show(tubes.BlankState)
}

// Blank blanks the display, waiting for the current owner to finish.  It is used at shutdown.
func (s *Screen) Blank(ctx context.Context, keep tubes.Dots) error {
	return s.Do(ctx, "blank", func(o *Owner) error {
		st := tubes.BlankState
		st.Dots = keep
		return o.update(func(tubes.State) tubes.State { return st })
	})
}

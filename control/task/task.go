// Package task schedules the clock's recurring activities and lets them be switched on and off.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missedPeriodsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missed_periods",
		Help: "count of periodic runs that started late because the previous one overran",
	}, []string{"task"})
	runsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs",
		Help: "count of periodic task runs",
	}, []string{"task"})
	enabledGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "task_enabled",
		Help: "1 if the activity is enabled",
	}, []string{"task"})
)

// Gate lets an activity be paused and resumed from elsewhere.
type Gate struct {
	name string

	mu      sync.Mutex
	enabled bool
	changed chan struct{} // closed and replaced whenever enabled changes.
}

// NewGate returns a gate, initially enabled or not.
func NewGate(name string, enabled bool) *Gate {
	g := &Gate{name: name, enabled: enabled, changed: make(chan struct{})}
	g.export()
	return g
}

func (g *Gate) export() {
	v := 0.0
	if g.enabled {
		v = 1
	}
	enabledGauge.WithLabelValues(g.name).Set(v)
}

// Name returns the gate's name.
func (g *Gate) Name() string { return g.name }

func (g *Gate) set(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled == on {
		return
	}
	g.enabled = on
	close(g.changed)
	g.changed = make(chan struct{})
	g.export()
}

// Enable lets the activity run.
func (g *Gate) Enable() { g.set(true) }

// Disable pauses the activity the next time it checks the gate.
func (g *Gate) Disable() { g.set(false) }

// Set enables the gate if on, and disables it otherwise.
func (g *Gate) Set(on bool) { g.set(on) }

// Enabled reports whether the activity may run.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Changed returns a channel that is closed the next time the gate is enabled or disabled.
func (g *Gate) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// Wait blocks while the gate is disabled.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		on, ch := g.enabled, g.changed
		g.mu.Unlock()
		if on {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to be enabled: %w", g.name, ctx.Err())
		}
	}
}

// Activities maps a name to its gate.
type Activities map[string]*Gate

// Add creates a gate for name.
func (a Activities) Add(name string, enabled bool) *Gate {
	g := NewGate(name, enabled)
	a[name] = g
	return g
}

// Names returns every activity name, sorted.
func (a Activities) Names() []string {
	var names []string
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Schedule is a period and an offset into it.  A one minute period with a 30 second offset runs
// at half past every minute.
type Schedule struct {
	Period, Offset time.Duration
	// Location is the time zone whose midnight periods are aligned to; now's location if nil.
	Location *time.Location
}

// Next returns the first time after now that is Offset past a multiple of Period.  Periods are
// aligned to local midnight, so an hourly schedule runs on the hour.
func (s Schedule) Next(now time.Time) time.Time {
	if s.Location != nil {
		now = now.In(s.Location)
	}
	_, zone := now.Zone()
	shift := time.Duration(zone)*time.Second - s.Offset
	return now.Add(shift).Truncate(s.Period).Add(s.Period).Add(-shift)
}

// Every runs fn on schedule while gate is enabled, until the context is done.  The next wakeup is
// computed at the start of each run, so a run that overruns one or more periods is followed by
// exactly one late run, not a burst.  The schedule is fetched before each run, so it can follow a
// setting.  A nil gate is always enabled.  Errors from fn are returned.
func Every(ctx context.Context, name string, gate *Gate, schedule func() Schedule, fn func(ctx context.Context, t time.Time) error) error {
	var lastWake time.Time
	for {
		if gate != nil {
			if err := gate.Wait(ctx); err != nil {
				return fmt.Errorf("task %s: %w", name, err)
			}
		}
		sched := schedule()
		if sched.Period <= 0 {
			return fmt.Errorf("task %s: invalid period %v", name, sched.Period)
		}
		now := time.Now()
		if !lastWake.IsZero() && now.Sub(lastWake) > sched.Period {
			missedPeriodsCounter.WithLabelValues(name).Inc()
		}
		wake := sched.Next(now)

		var changed <-chan struct{}
		if gate != nil {
			changed = gate.Changed()
		}
		timer := time.NewTimer(time.Until(wake))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("task %s: %w", name, ctx.Err())
		case <-changed:
			// Recheck the gate and the schedule.
			timer.Stop()
			lastWake = time.Time{}
			continue
		case <-timer.C:
		}
		lastWake = wake
		runsCounter.WithLabelValues(name).Inc()
		if err := fn(ctx, wake); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
	}
}

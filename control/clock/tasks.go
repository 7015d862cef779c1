package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrockway/nixie-clock/control/cascade"
	"github.com/jrockway/nixie-clock/control/options"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/sensor"
	"github.com/jrockway/nixie-clock/control/task"
	"github.com/jrockway/nixie-clock/control/tubes"
	"golang.org/x/net/trace"
)

var errDisplayBusy = errors.New("display busy")

// runTicks shows the time every second.
func (c *Clock) runTicks(ctx context.Context) error {
	l := trace.NewEventLog("clock", "tick")
	defer l.Finish()

	tickCh := make(chan time.Time)
	tickErrCh := make(chan error, 1)
	go func() {
		tickErrCh <- Tick(ctx, tickCh)
	}()
	for {
		var t time.Time
		select {
		case t = <-tickCh:
		case err := <-tickErrCh:
			return fmt.Errorf("ticker: %w", err)
		}
		c.cfg.Watchdog.Feed()
		giveUp := t.Add(time.Second - RetryDelay)
		for {
			err := c.showTime(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("tick renderer: %w", ctx.Err())
			}
			if errors.Is(err, errDisplayBusy) {
				skippedTicksCounter.WithLabelValues("busy").Inc()
				l.Printf("skipping %v: %v", t.Format(time.StampMilli), err)
				break
			}
			skippedTicksCounter.WithLabelValues("time").Inc()
			l.Errorf("showing %v: %v", t.Format(time.StampMilli), err)
			if time.Now().Add(RetryDelay).After(giveUp) {
				break
			}
			if err := sleep(ctx, RetryDelay); err != nil {
				return fmt.Errorf("tick renderer: %w", err)
			}
		}
	}
}

// showTime fades the display to the time it will be at the next second, so that the fade
// finishes just as that second starts.
func (c *Clock) showTime(ctx context.Context) error {
	now, err := c.cfg.Time.Now()
	if err != nil {
		return fmt.Errorf("read time: %w", err)
	}
	actx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	o, err := c.cfg.Screen.Acquire(actx, "tick")
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: held by %q", errDisplayBusy, c.cfg.Screen.CurrentOwner())
	}
	defer o.Release()
	c.transition(ctx, o, c.timeState(now.Add(time.Second)), false)
	return nil
}

// minutes turns an interval option into a period.  A zero interval means the activity is
// disabled, but the gate may not have caught up yet.
func minutes(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Minute
}

func (c *Clock) schedule(id options.ID, offset time.Duration) func() task.Schedule {
	return func() task.Schedule {
		return task.Schedule{Period: minutes(c.cfg.Settings.Get(id)), Offset: offset, Location: c.cfg.Location}
	}
}

// banner shows st for a while, then fades back to the time.
func (c *Clock) banner(ctx context.Context, name string, st tubes.State) error {
	return c.cfg.Screen.Do(ctx, name, func(o *screen.Owner) error {
		c.transition(ctx, o, st, true)
		if err := sleep(ctx, c.cfg.BannerHold); err != nil {
			return fmt.Errorf("showing %s: %w", name, err)
		}
		bannersCounter.WithLabelValues(name).Inc()
		now, err := c.cfg.Time.Now()
		if err != nil {
			// The tick renderer will put something up when it can.
			o.Blank()
			return nil
		}
		c.transition(ctx, o, c.timeState(now.Add(time.Second)), true)
		return nil
	})
}

// logged logs a failed activity run and swallows the error, unless the clock is shutting down.
func logged(ctx context.Context, l trace.EventLog, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	l.Errorf("%v", err)
	return nil
}

// runDate shows the date every few minutes.
func (c *Clock) runDate(ctx context.Context) error {
	l := trace.NewEventLog("clock", "date")
	defer l.Finish()
	return task.Every(ctx, "date", c.activities["date"], c.schedule(options.DateInterval, DateOffset), func(ctx context.Context, _ time.Time) error {
		return logged(ctx, l, c.showDate(ctx))
	})
}

func (c *Clock) showDate(ctx context.Context) error {
	now, err := c.cfg.Time.Now()
	if err != nil {
		return fmt.Errorf("read time for date: %w", err)
	}
	st := tubes.DateValue(now.In(c.cfg.Location)).State(tubes.DotsBottom)
	return c.banner(ctx, "date", st)
}

// runTemperature shows the temperature every few minutes.
func (c *Clock) runTemperature(ctx context.Context) error {
	l := trace.NewEventLog("clock", "temperature")
	defer l.Finish()
	return task.Every(ctx, "temperature", c.activities["temperature"], c.schedule(options.TemperatureInterval, TemperatureOffset), func(ctx context.Context, _ time.Time) error {
		return logged(ctx, l, c.showTemperature(ctx))
	})
}

// temperatureState shows deg in the middle pair.  The left dots mean the temperature is below
// zero.
func temperatureState(deg int) tubes.State {
	dots := tubes.DotsNone
	if deg < 0 {
		deg = -deg
		dots = tubes.DotsLeft
	}
	if deg > 99 {
		deg = 99
	}
	st := tubes.BlankState.WithPair(1, deg, false)
	st.Dots = dots
	return st
}

func (c *Clock) showTemperature(ctx context.Context) error {
	if c.cfg.Thermometer == nil {
		return errors.New("no thermometer")
	}
	t, err := c.cfg.Thermometer.Temperature()
	if err != nil {
		return fmt.Errorf("read temperature: %w", err)
	}
	deg := sensor.Degrees(t, c.cfg.Settings.Bool(options.Fahrenheit))
	return c.banner(ctx, "temperature", temperatureState(deg))
}

// runCascade runs the slot machine every few minutes.
func (c *Clock) runCascade(ctx context.Context) error {
	l := trace.NewEventLog("clock", "cascade")
	defer l.Finish()
	return task.Every(ctx, "cascade", c.activities["cascade"], c.schedule(options.CascadeInterval, CascadeOffset), func(ctx context.Context, _ time.Time) error {
		return logged(ctx, l, c.cascade(ctx, "cascade"))
	})
}

// runMaintenance runs the slot machine at the top of the maintenance hour every day, even when
// the regular cascade is turned off, so that no cathode goes unused for long.
func (c *Clock) runMaintenance(ctx context.Context) error {
	l := trace.NewEventLog("clock", "maintenance")
	defer l.Finish()
	hourly := func() task.Schedule { return task.Schedule{Period: time.Hour, Location: c.cfg.Location} }
	return task.Every(ctx, "maintenance", nil, hourly, func(ctx context.Context, wake time.Time) error {
		ran, err := c.maintenance(ctx, wake)
		if ran {
			l.Printf("maintenance cascade")
		}
		return logged(ctx, l, err)
	})
}

// maintenance runs the cascade if wake is in the maintenance hour.  The cascade gate is not
// consulted.
func (c *Clock) maintenance(ctx context.Context, wake time.Time) (bool, error) {
	if wake.In(c.cfg.Location).Hour() != c.cfg.Settings.Get(options.MaintenanceHour) {
		return false, nil
	}
	return true, c.cascade(ctx, "maintenance")
}

// cascade runs the slot machine, ending on the time it will be when it's done.  A cascade that
// would follow another within a minute is skipped.
func (c *Clock) cascade(ctx context.Context, name string) error {
	now, err := c.cfg.Time.Now()
	if err != nil {
		return fmt.Errorf("read time for cascade: %w", err)
	}
	c.mu.Lock()
	if !c.lastCascade.IsZero() && now.Sub(c.lastCascade) < time.Minute {
		c.mu.Unlock()
		return nil
	}
	c.lastCascade = now
	c.mu.Unlock()

	d := c.cfg.CascadeDuration
	return c.cfg.Screen.Do(ctx, name, func(o *screen.Owner) error {
		// The display may have been busy for a while; the end state comes from the time it
		// was finally acquired.
		start, err := c.cfg.Time.Now()
		if err != nil {
			return fmt.Errorf("read time for cascade: %w", err)
		}
		return cascade.Run(ctx, o, c.cfg.Watchdog, c.timeState(start.Add(d)), d)
	})
}

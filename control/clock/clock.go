// Package clock runs the nixie clock: the time every second, and the date, temperature, slot
// machine and mode activities that borrow the display from it.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/nixie-clock/control/button"
	"github.com/jrockway/nixie-clock/control/cascade"
	"github.com/jrockway/nixie-clock/control/fade"
	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/jrockway/nixie-clock/control/options"
	"github.com/jrockway/nixie-clock/control/rotary"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/sensor"
	"github.com/jrockway/nixie-clock/control/task"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	missedTicksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missed_ticks",
		Help: "count of ticks that were generated but never received by anything",
	})

	tickDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_delay",
		Help:    "amount of time between seconds tick and when it is sent to the channel, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 20),
	})

	skippedTicksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skipped_ticks",
		Help: "count of seconds that were not rendered, by reason",
	}, []string{"reason"})

	bannersCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banners_shown",
		Help: "count of date and temperature banners shown",
	}, []string{"banner"})
)

// Tick sends the current time to the provided channel at the exact instant that the seconds change.
// An absent listener will not receive an outdated time; the tick will be skipped and the
// missedTicksCounter incremented.  Cancelling the context causes this to return immediately.
func Tick(ctx context.Context, ch chan time.Time) error {
	for {
		nextSecond := time.Now().Add(time.Second).Truncate(time.Second)

		// Wait until the next second starts.
		select {
		case <-time.After(time.Until(nextSecond)):
		case <-ctx.Done():
			return fmt.Errorf("waiting for next second: %w", ctx.Err())
		}

		// Send the time to the channel.
		select {
		case <-time.After(500 * time.Millisecond):
			missedTicksCounter.Inc()
		case <-ctx.Done():
			return fmt.Errorf("waiting to send tick: %w", ctx.Err())
		case ch <- nextSecond:
			tickDelayMetric.Observe(float64(time.Since(nextSecond).Nanoseconds()))
		}
	}
}

// ErrClockNotSet is returned by SystemTime before the system clock has been set.
var ErrClockNotSet = errors.New("system clock not set")

// TimeSource tells the time, or fails.
type TimeSource interface {
	Now() (time.Time, error)
}

// SystemTime is the system clock.  A time before 2020 means the clock has not been set since
// boot.
type SystemTime struct {
	Location *time.Location
}

// Now implements TimeSource.
func (s SystemTime) Now() (time.Time, error) {
	t := time.Now()
	if s.Location != nil {
		t = t.In(s.Location)
	}
	if t.Year() < 2020 {
		return t, ErrClockNotSet
	}
	return t, nil
}

// Buzzer clicks, and can be silenced.  *hw.Buzzer is one.
type Buzzer interface {
	hw.Clicker
	SetEnabled(on bool)
}

type silentBuzzer struct{ hw.Silent }

func (silentBuzzer) SetEnabled(bool) {}

// Defaults for Config.
const (
	// AcquireTimeout is how long the tick renderer waits for the display before skipping a
	// second.  It is shorter than a second so that a stale time is never shown.
	AcquireTimeout = 500 * time.Millisecond
	// RetryDelay is how long to wait before asking a failed TimeSource again.
	RetryDelay = 100 * time.Millisecond
	// BannerHold is how long the date and temperature stay on the display.
	BannerHold = 3 * time.Second
)

// Offsets into the minute of each banner, so they don't all want the display at once.
const (
	DateOffset        = 30 * time.Second
	TemperatureOffset = 45 * time.Second
	CascadeOffset     = 0
)

// Config is the clock's hardware and settings.  Screen and Settings are required.
type Config struct {
	Screen   *screen.Screen
	Settings *options.Settings

	Time        TimeSource
	Location    *time.Location
	Thermometer sensor.Thermometer
	Buzzer      Buzzer
	Watchdog    hw.Watchdog
	Sleeper     fade.Sleeper

	// Pins and Button drive the mode handler; without Pins there is no mode handler.
	Pins   rotary.Pins
	Button *button.Signal
	// Poll overrides the encoder's sampling interval.
	Poll time.Duration

	AcquireTimeout  time.Duration
	BannerHold      time.Duration
	CascadeDuration time.Duration

	Log logrus.FieldLogger
}

// Clock is the running clock.
type Clock struct {
	cfg        Config
	log        logrus.FieldLogger
	activities task.Activities
	blinker    *Blinker

	mu          sync.Mutex
	lastCascade time.Time // must hold mu to read or write.
}

// New checks the config and fills in defaults.  Every activity named by an option starts enabled
// or disabled according to the option's current value.
func New(cfg Config) (*Clock, error) {
	if cfg.Screen == nil {
		return nil, errors.New("clock: no screen")
	}
	if cfg.Settings == nil {
		return nil, errors.New("clock: no settings")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Time == nil {
		cfg.Time = SystemTime{Location: cfg.Location}
	}
	if cfg.Buzzer == nil {
		cfg.Buzzer = silentBuzzer{}
	}
	if cfg.Watchdog == nil {
		cfg.Watchdog = hw.NopWatchdog{}
	}
	if cfg.Button == nil {
		cfg.Button = button.NewSignal()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = AcquireTimeout
	}
	if cfg.BannerHold <= 0 {
		cfg.BannerHold = BannerHold
	}
	if cfg.CascadeDuration <= 0 {
		cfg.CascadeDuration = cascade.Duration
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	c := &Clock{
		cfg:        cfg,
		log:        cfg.Log.WithField("component", "clock"),
		activities: task.Activities{},
		blinker:    NewBlinker(),
	}
	for _, o := range cfg.Settings.Table() {
		if o.Activity != "" {
			c.activities.Add(o.Activity, cfg.Settings.Bool(o.ID))
		}
	}
	c.apply()
	return c, nil
}

// Activities returns the gates of the activities that options control.
func (c *Clock) Activities() task.Activities {
	return c.activities
}

// apply brings everything that follows a setting up to date.
func (c *Clock) apply() {
	c.cfg.Buzzer.SetEnabled(c.cfg.Settings.Bool(options.Buzzer))
	for _, o := range c.cfg.Settings.Table() {
		if g, ok := c.activities[o.Activity]; ok {
			g.Set(c.cfg.Settings.Bool(o.ID))
		}
	}
}

func (c *Clock) twelveHour() bool {
	return c.cfg.Settings.Bool(options.TwelveHour)
}

// timeState is how t is shown.
func (c *Clock) timeState(t time.Time) tubes.State {
	return tubes.ClockValue(t.In(c.cfg.Location), c.twelveHour()).State(tubes.DotsAll)
}

// transition moves the display to next, fading if that's turned on.
func (c *Clock) transition(ctx context.Context, o *screen.Owner, next tubes.State, blankAll bool) {
	if !c.cfg.Settings.Bool(options.Fade) {
		fade.Snap(o, next)
		return
	}
	fade.Play(ctx, o, fade.NewPlan(o.State(), next, fade.TickDuration, blankAll), c.cfg.Sleeper)
}

// Run runs every activity until the context is done or one of them fails, and returns the first
// error.
func (c *Clock) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type service struct {
		name string
		run  func(ctx context.Context) error
	}
	services := []service{
		{"tick", c.runTicks},
		{"blink", c.blinker.Run},
		{"date", c.runDate},
		{"temperature", c.runTemperature},
		{"cascade", c.runCascade},
		{"maintenance", c.runMaintenance},
	}
	if c.cfg.Pins != nil {
		services = append(services, service{"mode", c.runModes})
	}

	errCh := make(chan error, len(services))
	for _, s := range services {
		s := s
		go func() {
			err := s.run(ctx)
			if err != nil && ctx.Err() == nil {
				c.log.WithError(err).WithField("task", s.name).Error("task exited unexpectedly")
			}
			errCh <- err
		}()
	}
	first := <-errCh
	cancel()
	for i := 1; i < len(services); i++ {
		<-errCh
	}
	return first
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

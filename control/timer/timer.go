// Package timer is the countdown timer: the user dials in hours, minutes and seconds, and the
// clock counts them down and then buzzes.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/jrockway/nixie-clock/control/rotary"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	// AlarmClicks is how many times the buzzer clicks when the timer runs out.
	AlarmClicks = 150
	// AlarmDuration is how long the alarm lasts.
	AlarmDuration = 10 * time.Second
	// FieldMax is the largest value any field can be set to.
	FieldMax = 99
)

var runsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "timer_runs",
	Help: "count of countdowns, by how they ended",
}, []string{"result"})

// Duration is a countdown in separate fields, as entered.  Fields may exceed 59; a field is only
// normalized when the one to its right borrows from it.
type Duration struct {
	H, M, S int
}

// Zero reports whether the countdown is over.
func (d Duration) Zero() bool {
	return d.H <= 0 && d.M <= 0 && d.S <= 0
}

// Decrement returns d less one second.  An empty seconds field borrows a minute, and an empty
// minutes field borrows an hour.  Fields over 59 are not carried into the next field; they count
// down from where they were entered.  Decrementing zero yields zero.
func (d Duration) Decrement() Duration {
	switch {
	case d.S > 0:
		d.S--
	case d.M > 0:
		d.M--
		d.S = 59
	case d.H > 0:
		d.H--
		d.M, d.S = 59, 59
	}
	return d
}

// Value is how d is shown on the tubes.
func (d Duration) Value() tubes.Value {
	return tubes.Value{Hours: tubes.Field(d.H), Minutes: tubes.Field(d.M), Seconds: tubes.Field(d.S)}
}

func (d Duration) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", d.H, d.M, d.S)
}

// FieldView shows the field being entered in its own pair, without a leading zero.
type FieldView struct {
	Owner *screen.Owner
	Field int
}

// ShowValue implements rotary.View.
func (v FieldView) ShowValue(value int) {
	v.Owner.ShowPair(v.Field, value, true)
}

var _ rotary.View = FieldView{}

// Blinker blinks the dots while the duration is entered.
type Blinker interface {
	Resume(o *screen.Owner)
	Suspend()
}

// Session is one use of the timer.
type Session struct {
	// Input reads each field.  Its Confirm signal also cancels the countdown.
	Input   rotary.Session
	Clicker hw.Clicker
	Blinker Blinker
	Log     logrus.FieldLogger

	// Second is the countdown's tick; one second if zero.  AlarmDuration likewise defaults to
	// the package constant.
	Second        time.Duration
	AlarmDuration time.Duration
}

func (s *Session) defaults() {
	if s.Clicker == nil {
		s.Clicker = hw.Silent{}
	}
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	if s.Second <= 0 {
		s.Second = time.Second
	}
	if s.AlarmDuration <= 0 {
		s.AlarmDuration = AlarmDuration
	}
}

// Enter asks the user for a duration, one field at a time.
func (s *Session) Enter(ctx context.Context, o *screen.Owner) (Duration, error) {
	var fields [3]int
	o.Show(tubes.Value{}.State(o.State().Dots))
	if s.Blinker != nil {
		s.Blinker.Resume(o)
		defer s.Blinker.Suspend()
	}
	for i := range fields {
		v, err := s.Input.Read(ctx, rotary.NewCounter(0, 0, FieldMax), FieldView{Owner: o, Field: i})
		if err != nil {
			return Duration{}, fmt.Errorf("reading timer field %d: %w", i, err)
		}
		fields[i] = v
		o.ShowDigits(Duration{H: fields[0], M: fields[1], S: fields[2]}.Value().State(tubes.DotsNone).Digits)
	}
	return Duration{H: fields[0], M: fields[1], S: fields[2]}, nil
}

// Countdown shows d ticking down to zero.  It returns true if the countdown finished, or false if
// the button cancelled it.
func (s *Session) Countdown(ctx context.Context, o *screen.Owner, d Duration) (bool, error) {
	s.defaults()
	o.Show(d.Value().State(tubes.DotsNone))
	next := time.Now()
	for !d.Zero() {
		next = next.Add(s.Second)
		if err := sleepUntil(ctx, next); err != nil {
			return false, fmt.Errorf("counting down from %v: %w", d, err)
		}
		d = d.Decrement()
		o.Show(d.Value().State(tubes.DotsNone))
		if s.Input.Confirm.TryTake() {
			s.Clicker.Click()
			return false, nil
		}
	}
	return true, nil
}

// Alarm clicks the buzzer AlarmClicks times, evenly spaced.
func (s *Session) Alarm(ctx context.Context) error {
	s.defaults()
	gap := s.AlarmDuration / AlarmClicks
	next := time.Now()
	for i := 0; i < AlarmClicks; i++ {
		s.Clicker.Click()
		next = next.Add(gap)
		if err := sleepUntil(ctx, next); err != nil {
			return fmt.Errorf("sounding alarm: %w", err)
		}
	}
	return nil
}

// Run enters a duration, counts it down, and sounds the alarm if it ran out.  The display must
// already be held by o.
func (s *Session) Run(ctx context.Context, o *screen.Owner) error {
	s.defaults()
	d, err := s.Enter(ctx, o)
	if err != nil {
		return err
	}
	l := s.Log.WithField("duration", d.String())
	l.Info("timer started")
	done, err := s.Countdown(ctx, o, d)
	if err != nil {
		runsCounter.WithLabelValues("aborted").Inc()
		return err
	}
	if !done {
		runsCounter.WithLabelValues("cancelled").Inc()
		l.Info("timer cancelled")
		return nil
	}
	runsCounter.WithLabelValues("finished").Inc()
	l.Info("timer finished")
	return s.Alarm(ctx)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

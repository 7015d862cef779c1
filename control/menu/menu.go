// Package menu lets the user change the clock's settings with the rotary encoder.
package menu

import (
	"context"
	"fmt"

	"github.com/jrockway/nixie-clock/control/options"
	"github.com/jrockway/nixie-clock/control/rotary"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/task"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/sirupsen/logrus"
)

// Blinker blinks the dots on behalf of a display owner.
type Blinker interface {
	Resume(o *screen.Owner)
	Suspend()
}

// OptionView shows an option number on the left and its value on the right, leaving the dots
// alone.
type OptionView struct {
	Owner  *screen.Owner
	Option options.ID
}

// ShowValue implements rotary.View.
func (v OptionView) ShowValue(value int) {
	st := v.Owner.State().
		WithPair(0, int(v.Option), false).
		WithPair(1, -1, false).
		WithPair(2, value, true)
	v.Owner.ShowDigits(st.Digits)
}

var _ rotary.View = OptionView{}

// Session is one visit to the settings menu.
type Session struct {
	Settings   *options.Settings
	Activities task.Activities
	Input      rotary.Session
	Blinker    Blinker
	Log        logrus.FieldLogger
}

// Run steps through every option, lets the user adjust it, and saves it.  Activities tied to an
// option are enabled when it is nonzero and disabled when it is zero.  The display must already
// be held by o.
func (s *Session) Run(ctx context.Context, o *screen.Owner) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := s.Settings.Reload(); err != nil {
		log.WithError(err).Warn("reloading settings before menu")
	}
	o.SetDots(tubes.DotsAll)
	if s.Blinker != nil {
		s.Blinker.Resume(o)
		defer s.Blinker.Suspend()
	}
	for _, opt := range s.Settings.Table() {
		c := rotary.NewCounter(s.Settings.Get(opt.ID), opt.Lower, opt.Upper)
		v, err := s.Input.Read(ctx, c, OptionView{Owner: o, Option: opt.ID})
		if err != nil {
			return fmt.Errorf("reading %s: %w", opt.Name, err)
		}
		l := log.WithField("option", opt.Name).WithField("value", v)
		stored, err := s.Settings.Set(opt.ID, v)
		if err != nil {
			// The old value stays in effect.
			l.WithError(err).Error("saving option")
			continue
		}
		l.Debug("option saved")
		if opt.Activity == "" {
			continue
		}
		if g, ok := s.Activities[opt.Activity]; ok {
			g.Set(stored != 0)
		} else {
			l.WithField("activity", opt.Activity).Warn("option names an unknown activity")
		}
	}
	return nil
}

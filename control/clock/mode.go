package clock

import (
	"context"
	"fmt"

	"github.com/jrockway/nixie-clock/control/menu"
	"github.com/jrockway/nixie-clock/control/rotary"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/timer"
	"github.com/jrockway/nixie-clock/control/tubes"
	"golang.org/x/net/trace"
)

// Modes offered when the button is pressed.
const (
	ModeExit     = 0
	ModeSettings = 1
	ModeTimer    = 2
)

// modeView shows the selected mode in the rightmost tubes.
type modeView struct{ o *screen.Owner }

func (v modeView) ShowValue(m int) { v.o.ShowPair(2, m, true) }

func (c *Clock) input() rotary.Session {
	return rotary.Session{
		Pins:     c.cfg.Pins,
		Confirm:  c.cfg.Button,
		Clicker:  c.cfg.Buzzer,
		Watchdog: c.cfg.Watchdog,
		Poll:     c.cfg.Poll,
	}
}

// runModes waits for the button and runs whatever mode the user picks.
func (c *Clock) runModes(ctx context.Context) error {
	l := trace.NewEventLog("clock", "mode")
	defer l.Finish()
	for {
		if err := c.cfg.Button.Wait(ctx); err != nil {
			return fmt.Errorf("mode handler: %w", err)
		}
		err := c.cfg.Screen.Do(ctx, "mode", func(o *screen.Owner) error {
			return c.mode(ctx, o, l)
		})
		c.apply()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("mode handler: %w", err)
			}
			l.Errorf("mode: %v", err)
			c.log.WithError(err).Warn("mode exited with error")
		}
	}
}

// mode asks which mode to enter and runs it.
func (c *Clock) mode(ctx context.Context, o *screen.Owner, l trace.EventLog) error {
	o.Show(tubes.BlankState)
	m, err := c.input().Read(ctx, rotary.NewCounter(ModeSettings, ModeExit, ModeTimer), modeView{o})
	if err != nil {
		return fmt.Errorf("select mode: %w", err)
	}
	switch m {
	case ModeSettings:
		l.Printf("settings")
		s := &menu.Session{
			Settings:   c.cfg.Settings,
			Activities: c.activities,
			Input:      c.input(),
			Blinker:    c.blinker,
			Log:        c.log,
		}
		return s.Run(ctx, o)
	case ModeTimer:
		l.Printf("timer")
		s := &timer.Session{
			Input:   c.input(),
			Clicker: c.cfg.Buzzer,
			Blinker: c.blinker,
			Log:     c.log,
		}
		return s.Run(ctx, o)
	}
	l.Printf("exit")
	return nil
}

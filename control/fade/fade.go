// Package fade cross-fades the tubes from one state to another.
//
// Nixie tubes can't be dimmed from the shift registers, but they can be switched much faster
// than the eye can follow.  A fade alternates between the old and new state many times, with the
// share of time given to the new state rising along a cosine curve.  Any tube that changes fades
// out to blank first and then fades in to its new digit, so two digits are never visible in the
// same tube at once.
package fade

import (
	"context"
	"math"
	"time"

	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/tubes"
)

// Frames is the number of duty cycle frames in each half of a fade.
const Frames = 100

// TickDuration is the length of the fade played every second.  It is a little shorter than a
// second so that the ticking task can wake up on the next second boundary without drifting.
const TickDuration = 970 * time.Millisecond

// Plan describes a fade from Current to Next through Intermediate.
type Plan struct {
	Current, Intermediate, Next tubes.State
	Duration                    time.Duration
}

// NewPlan plans a fade from current to next that takes d.  If blankAll is set, every tube fades
// out before the new value fades in, which is useful when the new value is unrelated to the old
// one (a date replacing the time, for example).
func NewPlan(current, next tubes.State, d time.Duration, blankAll bool) Plan {
	return Plan{
		Current:      current,
		Intermediate: tubes.Intermediate(current, next, blankAll),
		Next:         next,
		Duration:     d,
	}
}

// Proportion is the share of frame i of m spent showing the old state.  It runs from 1 at the
// first frame towards 0.
func Proportion(i, m int) float64 {
	return 0.5 * (math.Cos(math.Pi*float64(i)/float64(m)) + 1)
}

// Step is one state held on the display for a while.
type Step struct {
	State tubes.State
	Hold  time.Duration
}

// transition returns the 2*Frames steps fading from a to b over d.
func transition(a, b tubes.State, d time.Duration) []Step {
	frame := float64(d) / Frames
	steps := make([]Step, 0, 2*Frames)
	for i := 0; i < Frames; i++ {
		p := Proportion(i, Frames)
		steps = append(steps,
			Step{State: a, Hold: time.Duration(p * frame)},
			Step{State: b, Hold: time.Duration((1 - p) * frame)},
		)
	}
	return steps
}

// Steps returns every step of the fade, in order.
func (p Plan) Steps() []Step {
	half := p.Duration / 2
	return append(transition(p.Current, p.Intermediate, half), transition(p.Intermediate, p.Next, half)...)
}

// Sleeper waits until a deadline.
type Sleeper interface {
	SleepUntil(deadline time.Time)
}

// Precise sleeps most of the way to the deadline and spins for the rest.  The kernel's timer
// slack is usually 50µs, which is a noticeable share of the shortest holds.
type Precise struct {
	// Spin is how far ahead of the deadline to stop sleeping.
	Spin time.Duration
}

// DefaultSleeper is used when Play is given a nil Sleeper.
var DefaultSleeper Sleeper = Precise{Spin: 200 * time.Microsecond}

// SleepUntil implements Sleeper.
func (p Precise) SleepUntil(deadline time.Time) {
	if d := time.Until(deadline) - p.Spin; d > 0 {
		time.Sleep(d)
	}
	for time.Now().Before(deadline) {
	}
}

// Play runs the plan on r.  Holds are measured against absolute deadlines, so time lost to
// rendering is made up in the following step rather than accumulating.  If the context is
// cancelled, Play shows the final state and returns.
func Play(ctx context.Context, r screen.Renderer, p Plan, sleep Sleeper) {
	if sleep == nil {
		sleep = DefaultSleeper
	}
	deadline := time.Now()
	for _, s := range p.Steps() {
		if ctx.Err() != nil {
			break
		}
		if s.Hold <= 0 {
			continue
		}
		r.Show(s.State)
		deadline = deadline.Add(s.Hold)
		sleep.SleepUntil(deadline)
	}
	r.Show(p.Next)
}

// Snap switches straight to next.  It is used instead of Play when fading is turned off.
func Snap(r screen.Renderer, next tubes.State) {
	r.Show(next)
}

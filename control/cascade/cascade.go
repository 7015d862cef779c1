// Package cascade plays the slot machine animation: the trailing digits spin and lock into place
// one at a time, from the left, until the display shows the target value.  Running it regularly
// keeps every cathode in every tube lit for a while, which stops the unused ones from poisoning.
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Duration is the length of the whole animation.
	Duration = 7 * time.Second
	// DefaultPhases is how many phases the animation is split into.
	DefaultPhases = 10
	// Iterations is the number of steps in a phase.  It equals the number of digits, so a
	// spinning tube ends each phase on the digit it started with.
	Iterations = 10
)

var runsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cascade_runs",
	Help: "count of slot machine animations, by outcome",
}, []string{"outcome"})

// Phase is one part of the animation, during which the last Cycling tubes spin.
type Phase struct {
	End      tubes.State
	Cycling  int
	Duration time.Duration
}

// Phases splits an animation ending on end and lasting total into n phases.  Every tube spins in
// the early phases; in the last six, one fewer tube spins in each.
func Phases(end tubes.State, total time.Duration, n int) []Phase {
	if n <= 0 {
		return nil
	}
	phases := make([]Phase, 0, n)
	for i := n; i > 0; i-- {
		cycling := i
		if cycling > tubes.Slots {
			cycling = tubes.Slots
		}
		phases = append(phases, Phase{End: end, Cycling: cycling, Duration: total / time.Duration(n)})
	}
	return phases
}

// Frames returns the states shown during the phase.  The first is End, which puts the locked
// tubes in their final position; each following frame advances every spinning tube by one.
func (p Phase) Frames() []tubes.State {
	frames := make([]tubes.State, 0, Iterations+1)
	cur := p.End
	frames = append(frames, cur)
	for i := 0; i < Iterations; i++ {
		for slot := tubes.Slots - p.Cycling; slot < tubes.Slots; slot++ {
			cur.Digits[slot] = tubes.Cycle(cur.Digits[slot])
		}
		frames = append(frames, cur)
	}
	return frames
}

// Run plays the animation on r, ending on end after total.  The watchdog is fed after every
// frame.  If the context is done, Run shows end and returns the context's error.
func Run(ctx context.Context, r screen.Renderer, wd hw.Watchdog, end tubes.State, total time.Duration) error {
	if wd == nil {
		wd = hw.NopWatchdog{}
	}
	deadline := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for _, phase := range Phases(end, total, DefaultPhases) {
		step := phase.Duration / Iterations
		for i, frame := range phase.Frames() {
			r.Show(frame)
			wd.Feed()
			if i == 0 {
				continue
			}
			deadline = deadline.Add(step)
			timer.Reset(time.Until(deadline))
			select {
			case <-timer.C:
			case <-ctx.Done():
				r.Show(end)
				runsCounter.WithLabelValues("cancelled").Inc()
				return fmt.Errorf("slot machine interrupted: %w", ctx.Err())
			}
		}
	}
	r.Show(end)
	runsCounter.WithLabelValues("complete").Inc()
	return nil
}

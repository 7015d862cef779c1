package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/task"
	"github.com/jrockway/nixie-clock/control/tubes"
)

// Blinker toggles the dots once a second on behalf of whatever holds the display.  It is
// suspended until an owner lends it the display with Resume.
type Blinker struct {
	gate   *task.Gate
	period time.Duration

	mu    sync.Mutex
	owner *screen.Owner // must hold mu to read or write.
}

// NewBlinker returns a suspended blinker.
func NewBlinker() *Blinker {
	return &Blinker{gate: task.NewGate("blink", false), period: time.Second}
}

// Resume starts blinking the dots of o's display.  The caller keeps holding the display.
func (b *Blinker) Resume(o *screen.Owner) {
	b.mu.Lock()
	b.owner = o
	b.mu.Unlock()
	b.gate.Enable()
}

// Suspend stops blinking.  The dots are left as they were.
func (b *Blinker) Suspend() {
	b.gate.Disable()
	b.mu.Lock()
	b.owner = nil
	b.mu.Unlock()
}

func (b *Blinker) toggle() {
	b.mu.Lock()
	o := b.owner
	b.mu.Unlock()
	if o != nil {
		o.ToggleDots(tubes.DotsAll)
	}
}

// Run blinks while resumed, until the context is done.
func (b *Blinker) Run(ctx context.Context) error {
	every := func() task.Schedule { return task.Schedule{Period: b.period} }
	return task.Every(ctx, "blink", b.gate, every, func(context.Context, time.Time) error {
		b.toggle()
		return nil
	})
}

// Package hw wraps the clock's small peripherals: the buzzer, the rotary encoder and the
// watchdog.
package hw

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

var clicksCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "buzzer_clicks",
	Help: "count of clicks sounded on the buzzer",
})

// Pin looks up a GPIO pin by name or number, like "P9_12" or "GPIO17".
func Pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	return p, nil
}

// Output is a line that can be driven high or low.  gpio.PinOut is one.
type Output interface {
	Out(l gpio.Level) error
}

// Clicker makes an audible click.
type Clicker interface {
	Click()
}

// Buzzer pulses a piezo buzzer.
type Buzzer struct {
	line    Output
	pulse   time.Duration
	enabled atomic.Bool

	mu sync.Mutex // held while pulsing
}

// NewBuzzer returns an enabled buzzer on line.
func NewBuzzer(line Output) *Buzzer {
	b := &Buzzer{line: line, pulse: time.Millisecond}
	b.enabled.Store(true)
	return b
}

// SetEnabled turns the buzzer on or off.  A disabled buzzer ignores Click.
func (b *Buzzer) SetEnabled(on bool) {
	b.enabled.Store(on)
}

// Enabled reports whether Click makes a sound.
func (b *Buzzer) Enabled() bool {
	return b.enabled.Load()
}

// Click pulses the buzzer once.
func (b *Buzzer) Click() {
	if b == nil || !b.enabled.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.line.Out(gpio.High); err != nil {
		return
	}
	time.Sleep(b.pulse)
	b.line.Out(gpio.Low)
	clicksCounter.Inc()
}

// Silent is a Clicker that does nothing.
type Silent struct{}

func (Silent) Click() {}

// Encoder is a rotary encoder's clock and direction pins.
type Encoder struct {
	CLK, DT gpio.PinIn
}

// NewEncoder configures clk and dt as pulled-up inputs.
func NewEncoder(clk, dt gpio.PinIn) (*Encoder, error) {
	for _, p := range []gpio.PinIn{clk, dt} {
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configure encoder pin %s: %w", p, err)
		}
	}
	return &Encoder{CLK: clk, DT: dt}, nil
}

// Levels samples both pins.
func (e *Encoder) Levels() (clk, dt bool) {
	return bool(e.CLK.Read()), bool(e.DT.Read())
}

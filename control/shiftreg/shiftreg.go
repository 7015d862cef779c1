// Package shiftreg clocks display frames into the chain of 74HC595 shift registers behind the
// tube decoders.
//
// The wire protocol is: latch low, the three digit pair bytes least significant bit first, the
// dot byte most significant bit first, latch high.  The output registers only change on the
// rising edge of the latch, so the tubes never show a half-shifted frame.
package shiftreg

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/jrockway/nixie-clock/control/tubes"
	"periph.io/x/conn/v3/gpio"
)

// Bus sends a frame to the display.  Implementations are not reentrant; package screen makes
// sure only one frame is in flight at a time.
type Bus interface {
	Send(f tubes.Frame) error
}

// Line is an output pin.  gpio.PinOut satisfies it.
type Line interface {
	Out(l gpio.Level) error
}

// BitOrder is the order bits of a byte are shifted out in.
type BitOrder int

const (
	LSBFirst BitOrder = iota
	MSBFirst
)

// GPIO bit-bangs frames over three output lines.
type GPIO struct {
	Data, Clock, Latch Line
	// Settle is how long each line is held before the next edge.  The 74HC595 is happy with
	// tens of nanoseconds, so zero (no explicit delay) is fine on most boards.
	Settle time.Duration
}

// NewGPIO returns a bus on the given lines, with the latch and clock idling low.  If enable is
// non-nil it is the active-low output enable line, and is pulled low to turn on the outputs.
func NewGPIO(data, clock, latch, enable Line) (*GPIO, error) {
	g := &GPIO{Data: data, Clock: clock, Latch: latch}
	for name, l := range map[string]Line{"data": data, "clock": clock, "latch": latch} {
		if err := l.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("init %s line: %w", name, err)
		}
	}
	if enable != nil {
		if err := enable.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("enable outputs: %w", err)
		}
	}
	return g, nil
}

func (g *GPIO) settle() {
	if g.Settle > 0 {
		time.Sleep(g.Settle)
	}
}

// ShiftOut clocks one byte out on the data line, pulsing the clock line after each bit.
func (g *GPIO) ShiftOut(b byte, order BitOrder) error {
	for i := 0; i < 8; i++ {
		var bit bool
		if order == LSBFirst {
			bit = b&(1<<i) != 0
		} else {
			bit = b&(0x80>>i) != 0
		}
		if err := g.Data.Out(gpio.Level(bit)); err != nil {
			return fmt.Errorf("data bit %d: %w", i, err)
		}
		g.settle()
		if err := g.Clock.Out(gpio.High); err != nil {
			return fmt.Errorf("clock high: %w", err)
		}
		g.settle()
		if err := g.Clock.Out(gpio.Low); err != nil {
			return fmt.Errorf("clock low: %w", err)
		}
	}
	return nil
}

// Send implements Bus.
func (g *GPIO) Send(f tubes.Frame) error {
	if err := g.Latch.Out(gpio.Low); err != nil {
		return fmt.Errorf("latch low: %w", err)
	}
	for i, b := range f[:3] {
		if err := g.ShiftOut(b, LSBFirst); err != nil {
			return fmt.Errorf("shift digit pair %d: %w", i, err)
		}
	}
	if err := g.ShiftOut(f[3], MSBFirst); err != nil {
		return fmt.Errorf("shift dots: %w", err)
	}
	if err := g.Latch.Out(gpio.High); err != nil {
		return fmt.Errorf("latch high: %w", err)
	}
	return nil
}

// wireBytes converts a frame to the byte sequence a hardware SPI controller, which always
// shifts most significant bit first, has to send to produce the same bits as GPIO.Send.
func wireBytes(f tubes.Frame) []byte {
	return []byte{bits.Reverse8(f[0]), bits.Reverse8(f[1]), bits.Reverse8(f[2]), f[3]}
}

// Nop discards frames.  It is used when running without a display attached; the screen preview
// still works.
type Nop struct{}

// Send implements Bus.
func (Nop) Send(tubes.Frame) error { return nil }

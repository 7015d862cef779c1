// Package tubes describes what is shown on the six nixie tubes and how it is encoded for the
// shift register chain that drives them.
//
// The tubes are arranged as three pairs (hours, minutes, seconds, or any other two-digit
// fields).  Between the pairs are four dot separators, one per quadrant.  The K155ID1-style
// decoders behind each tube are wired so that the cathode select codes are not BCD; they are
// listed in the codes table below and should be treated as opaque.
package tubes

import (
	"strings"
	"time"
)

// Digit is the value asserted on a single tube: 0 through 9, or Blank.
type Digit uint8

// Blank turns a tube off.
const Blank Digit = 10

// Slots is the number of tubes on the clock.
const Slots = 6

// codes maps a Digit to the 4-bit pattern the decoder expects.  The last entry is Blank.
var codes = [...]uint8{
	0b0000, // 0
	0b1000, // 1
	0b0100, // 2
	0b1100, // 3
	0b0010, // 4
	0b1010, // 5
	0b0110, // 6
	0b1110, // 7
	0b0001, // 8
	0b1001, // 9
	0b1111, // blank
}

// Code returns the cathode select code for d.  Anything that is not a digit encodes as Blank.
func Code(d Digit) uint8 {
	if d > Blank {
		return codes[Blank]
	}
	return codes[d]
}

// Cycle advances d by one, wrapping 9 to 0.  A blank tube cycles to 0.
func Cycle(d Digit) Digit {
	if d >= 9 {
		return 0
	}
	return d + 1
}

// Dots is the mask of lit dot separators.  The high two bits are the left column and the
// high bit of each column is the top dot.
type Dots uint8

const (
	DotsNone   Dots = 0b0000
	DotsAll    Dots = 0b1111
	DotsLeft   Dots = 0b1100
	DotsRight  Dots = 0b0011
	DotsTop    Dots = 0b1010
	DotsBottom Dots = 0b0101
)

// State is everything that is asserted on the display at once.
type State struct {
	Digits [Slots]Digit
	Dots   Dots
}

// BlankState has every tube and dot off.
var BlankState = State{Digits: [Slots]Digit{Blank, Blank, Blank, Blank, Blank, Blank}}

// Frame is the data clocked into the shift register chain for one State: three digit pairs
// followed by the dot byte.  The pairs are shifted out least significant bit first and the
// dots most significant bit first; see package shiftreg.
type Frame [4]byte

// Pair returns the byte for digit pair i (0, 1 or 2): the left tube's code in the high nibble
// and the right tube's code in the low nibble.
func (s State) Pair(i int) byte {
	return Code(s.Digits[2*i])<<4 | Code(s.Digits[2*i+1])
}

// Frame encodes the state for the wire.
func (s State) Frame() Frame {
	return Frame{s.Pair(0), s.Pair(1), s.Pair(2), byte(s.Dots & DotsAll)}
}

// WithPair returns a copy of s with digit pair i showing the last two decimal digits of v.  If
// blankLeadingZero is set, a zero tens digit is blanked.  A negative v blanks the pair.
func (s State) WithPair(i int, v int, blankLeadingZero bool) State {
	l, r := 2*i, 2*i+1
	if v < 0 {
		s.Digits[l], s.Digits[r] = Blank, Blank
		return s
	}
	tens, ones := Digit((v/10)%10), Digit(v%10)
	if tens == 0 && blankLeadingZero {
		tens = Blank
	}
	s.Digits[l], s.Digits[r] = tens, ones
	return s
}

// Clock reads the three pairs back as numbers.  Blank tubes read as zero.
func (s State) Clock() (h, m, sec int) {
	v := func(i int) int {
		var tens, ones int
		if d := s.Digits[2*i]; d < Blank {
			tens = int(d)
		}
		if d := s.Digits[2*i+1]; d < Blank {
			ones = int(d)
		}
		return 10*tens + ones
	}
	return v(0), v(1), v(2)
}

// String renders the state like "12:34:56", with "_" for blank tubes.  The dots are not shown.
func (s State) String() string {
	b := new(strings.Builder)
	for i, d := range s.Digits {
		if i > 0 && i%2 == 0 {
			b.WriteByte(':')
		}
		if d >= Blank {
			b.WriteByte('_')
		} else {
			b.WriteByte('0' + byte(d))
		}
	}
	return b.String()
}

// Intermediate returns the state halfway through a cross-fade from cur to next: next, with every
// tube that changes forced blank, and the dots off if they change.  If blankAll is set, every
// tube and dot is off regardless of what changes.
func Intermediate(cur, next State, blankAll bool) State {
	if blankAll {
		return BlankState
	}
	mid := next
	for i := range mid.Digits {
		if cur.Digits[i] != next.Digits[i] {
			mid.Digits[i] = Blank
		}
	}
	if cur.Dots != next.Dots {
		mid.Dots = DotsNone
	}
	return mid
}

// Field is one two-digit field of a Value.  BlankField turns the field off.
type Field int

// BlankField marks a field that should not be shown.
const BlankField Field = -1

// Value is three two-digit fields, usually hours, minutes and seconds.
type Value struct {
	Hours, Minutes, Seconds Field
}

// State returns the display state showing v with the provided dots.
func (v Value) State(dots Dots) State {
	s := State{Dots: dots}
	s = s.WithPair(0, int(v.Hours), false)
	s = s.WithPair(1, int(v.Minutes), false)
	s = s.WithPair(2, int(v.Seconds), false)
	return s
}

// Hour12 converts a 24-hour clock hour to the 12-hour clock.
func Hour12(h int) int {
	h = h % 12
	if h == 0 {
		return 12
	}
	return h
}

// ClockValue is the time of day in t.
func ClockValue(t time.Time, twelveHour bool) Value {
	h, m, s := t.Clock()
	if twelveHour {
		h = Hour12(h)
	}
	return Value{Hours: Field(h), Minutes: Field(m), Seconds: Field(s)}
}

// DateValue is the month, day and two-digit year of t.
func DateValue(t time.Time) Value {
	y, mon, d := t.Date()
	return Value{Hours: Field(mon), Minutes: Field(d), Seconds: Field(y % 100)}
}

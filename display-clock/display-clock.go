// Command display-clock exercises the tubes: every tube shows each digit in turn, and the dots
// step through their patterns, until interrupted.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/jrockway/nixie-clock/control/shiftreg"
	"github.com/jrockway/nixie-clock/control/tubes"
	"periph.io/x/host/v3"
)

var (
	device = flag.String("spidev", "/dev/spidev1.0", "spidev device the shift registers are on")
	latch  = flag.String("latch", "P9_12", "gpio pin driving the shift register latch")
	step   = flag.Duration("step", 500*time.Millisecond, "how long to show each step")
	once   = flag.Bool("once", false, "exit after one pass")
)

var dotPatterns = []tubes.Dots{tubes.DotsNone, tubes.DotsAll, tubes.DotsLeft, tubes.DotsRight, tubes.DotsTop, tubes.DotsBottom}

// steps is one pass of the test: digits 0 through 9 on every tube, then a blank, with the dots
// cycling alongside.
func steps() []tubes.State {
	var result []tubes.State
	for i := tubes.Digit(0); i <= tubes.Blank; i++ {
		var s tubes.State
		for j := range s.Digits {
			s.Digits[j] = i
		}
		s.Dots = dotPatterns[int(i)%len(dotPatterns)]
		result = append(result, s)
	}
	return result
}

func main() {
	flag.Parse()
	if _, err := host.Init(); err != nil {
		log.Fatalf("init periph.io: %v", err)
	}
	l, err := hw.Pin(*latch)
	if err != nil {
		log.Fatal(err)
	}
	bus, err := shiftreg.NewSPIDev(*device, l)
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	log.Printf("tube test started")
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	next := time.Now()
test:
	for {
		for _, s := range steps() {
			if err := bus.Send(s.Frame()); err != nil {
				log.Printf("send %v: %v", s, err)
			}
			next = next.Add(*step)
			select {
			case <-exit:
				break test
			case <-time.After(time.Until(next)):
			}
		}
		if *once {
			break
		}
	}
	log.Printf("exiting")

	// Blank all digits, but leave a dot on so that you can see the clock still has power.
	off := tubes.BlankState
	off.Dots = tubes.DotsLeft & tubes.DotsTop
	if err := bus.Send(off.Frame()); err != nil {
		log.Printf("blank: %v", err)
	}
}

package hw

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type recordingLine struct {
	sync.Mutex
	levels []gpio.Level
}

func (l *recordingLine) Out(v gpio.Level) error {
	l.Lock()
	defer l.Unlock()
	l.levels = append(l.levels, v)
	return nil
}

func TestBuzzer(t *testing.T) {
	line := new(recordingLine)
	b := NewBuzzer(line)
	b.Click()
	b.SetEnabled(false)
	b.Click()
	if got, want := len(line.levels), 2; got != want {
		t.Fatalf("levels:\n  got: %v\n want: %v", got, want)
	}
	if line.levels[0] != gpio.High || line.levels[1] != gpio.Low {
		t.Errorf("pulse: got %v, want [High Low]", line.levels)
	}
	var nilBuzzer *Buzzer
	nilBuzzer.Click()
}

func TestEncoder(t *testing.T) {
	clk := &gpiotest.Pin{N: "CLK"}
	dt := &gpiotest.Pin{N: "DT"}
	e, err := NewEncoder(clk, dt)
	if err != nil {
		t.Fatal(err)
	}
	if c, d := e.Levels(); !c || !d {
		t.Errorf("pulled-up pins should read high, got clk=%v dt=%v", c, d)
	}
	clk.Out(gpio.Low)
	if c, d := e.Levels(); c || !d {
		t.Errorf("after clk low: got clk=%v dt=%v", c, d)
	}
}

func TestPinNotFound(t *testing.T) {
	if _, err := Pin("NO_SUCH_PIN"); err == nil {
		t.Error("expected error for unknown pin")
	}
}

func TestDeviceWatchdog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	w, err := OpenWatchdog(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		w.Feed()
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	w.Feed()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "\x00V"; string(got) != want {
		t.Errorf("watchdog writes:\n  got: %q\n want: %q", got, want)
	}
}

package button

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestSignal(t *testing.T) {
	s := NewSignal()
	if s.TryTake() {
		t.Error("new signal should be lowered")
	}
	s.Give()
	s.Give()
	if !s.TryTake() {
		t.Error("signal should be raised after Give")
	}
	if s.TryTake() {
		t.Error("two Gives should count as one")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wait on lowered signal: unexpected error %v", err)
	}
	s.Give()
	if err := s.Wait(context.Background()); err != nil {
		t.Errorf("wait on raised signal: %v", err)
	}
}

func TestWatch(t *testing.T) {
	pin := &gpiotest.Pin{N: "BUTTON", EdgesChan: make(chan gpio.Level)}
	s := NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		errCh <- Watch(ctx, pin, s, 50*time.Millisecond)
	}()

	pin.EdgesChan <- gpio.Low
	if err := waitFor(s); err != nil {
		t.Fatal(err)
	}

	// A bounce right after a press is dropped.
	pin.EdgesChan <- gpio.Low
	time.Sleep(10 * time.Millisecond)
	if s.TryTake() {
		t.Error("bounce was not filtered")
	}

	time.Sleep(60 * time.Millisecond)
	pin.EdgesChan <- gpio.Low
	if err := waitFor(s); err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func waitFor(s *Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Wait(ctx)
}

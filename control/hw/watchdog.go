package hw

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Watchdog resets the machine unless it is fed regularly.
type Watchdog interface {
	Feed()
}

// NopWatchdog is used when there is no watchdog.
type NopWatchdog struct{}

func (NopWatchdog) Feed() {}

// DeviceWatchdog feeds a Linux watchdog device.  Tight loops feed it on every pass, so writes are
// limited to one per interval.
type DeviceWatchdog struct {
	interval time.Duration

	mu   sync.Mutex
	f    *os.File
	last time.Time
}

// OpenWatchdog opens a watchdog device such as /dev/watchdog.  Opening the device arms it.
func OpenWatchdog(path string, interval time.Duration) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog: %w", err)
	}
	return &DeviceWatchdog{f: f, interval: interval}, nil
}

// Feed implements Watchdog.
func (w *DeviceWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return
	}
	now := time.Now()
	if now.Sub(w.last) < w.interval {
		return
	}
	w.last = now
	w.f.Write([]byte{0})
}

// Close disarms the watchdog with the magic close character and closes the device.
func (w *DeviceWatchdog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	w.f.Write([]byte("V"))
	err := w.f.Close()
	w.f = nil
	return err
}

package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleNext(t *testing.T) {
	base := time.Date(2024, 3, 9, 14, 7, 12, 500, time.UTC)
	plus := time.FixedZone("IST", 5*3600+1800)
	testData := []struct {
		name  string
		now   time.Time
		sched Schedule
		want  time.Time
	}{
		{"next second", base, Schedule{Period: time.Second}, time.Date(2024, 3, 9, 14, 7, 13, 0, time.UTC)},
		{"next minute", base, Schedule{Period: time.Minute}, time.Date(2024, 3, 9, 14, 8, 0, 0, time.UTC)},
		{"minute with offset", base, Schedule{Period: time.Minute, Offset: 30 * time.Second}, time.Date(2024, 3, 9, 14, 7, 30, 0, time.UTC)},
		{"offset already passed", base, Schedule{Period: time.Minute, Offset: 5 * time.Second}, time.Date(2024, 3, 9, 14, 8, 5, 0, time.UTC)},
		{"ten minutes", base, Schedule{Period: 10 * time.Minute}, time.Date(2024, 3, 9, 14, 10, 0, 0, time.UTC)},
		{"exactly on the boundary", time.Date(2024, 3, 9, 14, 10, 0, 0, time.UTC), Schedule{Period: 10 * time.Minute}, time.Date(2024, 3, 9, 14, 20, 0, 0, time.UTC)},
		{"hourly in a half-hour zone", time.Date(2024, 3, 9, 14, 7, 0, 0, plus), Schedule{Period: time.Hour}, time.Date(2024, 3, 9, 15, 0, 0, 0, plus)},
		{"hourly with an explicit zone", time.Date(2024, 3, 9, 14, 7, 0, 0, time.UTC), Schedule{Period: time.Hour, Location: plus}, time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			if got := test.sched.Next(test.now); !got.Equal(test.want) {
				t.Errorf("next:\n  got: %v\n want: %v", got, test.want)
			}
		})
	}
}

func TestGate(t *testing.T) {
	g := NewGate("test", false)
	if g.Enabled() {
		t.Error("gate should start disabled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wait on disabled gate: unexpected error %v", err)
	}

	done := make(chan error)
	go func() { done <- g.Wait(context.Background()) }()
	time.Sleep(time.Millisecond)
	g.Enable()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enable did not wake the waiter")
	}

	ch := g.Changed()
	g.Enable()
	select {
	case <-ch:
		t.Error("enabling an enabled gate should not count as a change")
	default:
	}
	g.Disable()
	select {
	case <-ch:
	default:
		t.Error("Disable did not signal a change")
	}
}

func TestActivities(t *testing.T) {
	a := Activities{}
	a.Add("date", true)
	a.Add("cascade", false)
	if got, want := a.Names(), []string{"cascade", "date"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("names:\n  got: %v\n want: %v", got, want)
	}
	if !a["date"].Enabled() || a["cascade"].Enabled() {
		t.Error("initial gate states are wrong")
	}
}

func TestEveryNoBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	period := 20 * time.Millisecond
	var runs int32
	var wakes []time.Time
	err := Every(ctx, "test", nil, func() Schedule { return Schedule{Period: period} }, func(ctx context.Context, wake time.Time) error {
		wakes = append(wakes, wake)
		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			// Overrun several periods.
			time.Sleep(5 * period)
		}
		if n == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
	if len(wakes) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(wakes))
	}
	// After the overrun, the next wakeup is the next boundary after the run finished, not one of
	// the boundaries that passed while it was running.
	if gap := wakes[1].Sub(wakes[0]); gap < 5*period {
		t.Errorf("run after overrun came %v after the first; catch-up run", gap)
	}
	if gap := wakes[2].Sub(wakes[1]); gap != period {
		t.Errorf("regular gap:\n  got: %v\n want: %v", gap, period)
	}
}

func TestEveryGate(t *testing.T) {
	g := NewGate("gated", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan struct{}, 10)
	done := make(chan error)
	go func() {
		done <- Every(ctx, "gated", g, func() Schedule { return Schedule{Period: 5 * time.Millisecond} }, func(context.Context, time.Time) error {
			ran <- struct{}{}
			return nil
		})
	}()
	select {
	case <-ran:
		t.Fatal("disabled task ran")
	case <-time.After(30 * time.Millisecond):
	}
	g.Enable()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("enabled task did not run")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEveryError(t *testing.T) {
	boom := errors.New("boom")
	err := Every(context.Background(), "fails", nil, func() Schedule { return Schedule{Period: time.Millisecond} }, func(context.Context, time.Time) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("unexpected error: %v", err)
	}
	err = Every(context.Background(), "bad", nil, func() Schedule { return Schedule{} }, nil)
	if err == nil {
		t.Error("zero period should be an error")
	}
}

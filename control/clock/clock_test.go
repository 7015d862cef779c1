package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrockway/nixie-clock/control/button"
	"github.com/jrockway/nixie-clock/control/options"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/sensor"
	"github.com/jrockway/nixie-clock/control/store"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/trace"
)

func TestTick(t *testing.T) {
	ctx, c := context.WithCancel(context.Background())
	timeout := 1500 * time.Millisecond
	jitter := 100 * time.Millisecond

	tch := make(chan time.Time)
	errch := make(chan error)
	go func() {
		errch <- Tick(ctx, tch)
		close(errch)
		close(tch)
	}()

	// Check that ticks arrive and they're about a second apart.
	var a, b time.Time
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for first tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for first tick: %v", err)
	case a = <-tch:
		if delay := time.Since(a); delay > jitter {
			t.Errorf("delayed first tick: %s", delay)
		}
	}
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for second tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for second tick: %v", err)
	case b = <-tch:
		if delay := time.Since(b); delay > jitter {
			t.Errorf("delayed second tick: %s", delay)
		}
	}
	if diff := b.Sub(a); diff > timeout {
		t.Errorf("too much delay between ticks: %s", diff)
	}

	// Check that missed ticks do not block the ticker.
	select {
	case <-time.After(2500 * time.Millisecond):
	case err := <-errch:
		t.Fatalf("unexpected error while sleeping: %v", err)
	}

	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for third tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for third tick: %v", err)
	case new := <-tch:
		if delay := time.Since(new); delay > jitter {
			t.Errorf("delayed third tick: %s", delay)
		}
	}

	// Check that cancelling the context stops the ticking.
	c()
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for cancel")
	case err := <-errch:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	}
}

func TestSystemTime(t *testing.T) {
	zone := time.FixedZone("XST", 3600)
	now, err := SystemTime{Location: zone}.Now()
	require.NoError(t, err)
	name, _ := now.Zone()
	assert.Equal(t, "XST", name)
}

type fakeTime struct {
	mu  sync.Mutex
	t   time.Time
	err error
}

func (f *fakeTime) Now() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t, f.err
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// recorder is a bus that remembers every frame.
type recorder struct {
	mu     sync.Mutex
	frames []tubes.Frame
}

func (r *recorder) Send(f tubes.Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return nil
}

func (r *recorder) sent(st tubes.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f == st.Frame() {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type fakeBuzzer struct {
	mu      sync.Mutex
	enabled bool
	clicks  int
}

func (b *fakeBuzzer) Click() {
	b.mu.Lock()
	b.clicks++
	b.mu.Unlock()
}

func (b *fakeBuzzer) SetEnabled(on bool) {
	b.mu.Lock()
	b.enabled = on
	b.mu.Unlock()
}

type fixture struct {
	clock    *Clock
	screen   *screen.Screen
	bus      *recorder
	time     *fakeTime
	settings *options.Settings
	buzzer   *fakeBuzzer
}

func newFixture(t *testing.T, modify func(cfg *Config)) *fixture {
	t.Helper()
	settings, err := options.Load(store.NewMemory(), options.DefaultTable, nil)
	require.NoError(t, err)
	_, err = settings.Set(options.Fade, 0)
	require.NoError(t, err)
	f := &fixture{
		bus:      new(recorder),
		time:     &fakeTime{t: time.Date(2024, 3, 9, 13, 4, 5, 0, time.UTC)},
		settings: settings,
		buzzer:   new(fakeBuzzer),
	}
	f.screen = screen.New(f.bus, nil)
	cfg := Config{
		Screen:          f.screen,
		Settings:        settings,
		Time:            f.time,
		Location:        time.UTC,
		Buzzer:          f.buzzer,
		Thermometer:     sensor.Fixed(sensor.Celsius(21)),
		AcquireTimeout:  10 * time.Millisecond,
		BannerHold:      time.Millisecond,
		CascadeDuration: 20 * time.Millisecond,
	}
	if modify != nil {
		modify(&cfg)
	}
	f.clock, err = New(cfg)
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	f := newFixture(t, nil)
	assert.ElementsMatch(t, []string{"cascade", "date", "temperature"}, f.clock.Activities().Names())
	assert.True(t, f.buzzer.enabled, "buzzer follows its option")
}

func TestShowTime(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.clock.showTime(context.Background()))
	assert.Equal(t, "01:04:06", f.screen.Current().String(), "twelve hour clock shows the next second")
	assert.Equal(t, tubes.DotsAll, f.screen.Current().Dots)

	_, err := f.settings.Set(options.TwelveHour, 0)
	require.NoError(t, err)
	require.NoError(t, f.clock.showTime(context.Background()))
	assert.Equal(t, "13:04:06", f.screen.Current().String())
}

func TestShowTimeFade(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.settings.Set(options.Fade, 1)
	require.NoError(t, err)
	require.NoError(t, f.clock.showTime(context.Background()))
	assert.Equal(t, "01:04:06", f.screen.Current().String())
	assert.Greater(t, f.bus.count(), 100)

	f.time.advance(time.Second)
	require.NoError(t, f.clock.showTime(context.Background()))
	assert.Equal(t, "01:04:07", f.screen.Current().String())
	mid := tubes.Value{Hours: 1, Minutes: 4, Seconds: 7}.State(tubes.DotsAll)
	mid.Digits[5] = tubes.Blank
	assert.True(t, f.bus.sent(mid), "fade passes through the intermediate state")
}

func TestShowTimeFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.time.err = ErrClockNotSet
	err := f.clock.showTime(context.Background())
	assert.ErrorIs(t, err, ErrClockNotSet)
	assert.Equal(t, tubes.BlankState, f.screen.Current(), "nothing is rendered")

	f.time.err = nil
	o, err := f.screen.Acquire(context.Background(), "menu")
	require.NoError(t, err)
	defer o.Release()
	err = f.clock.showTime(context.Background())
	assert.ErrorIs(t, err, errDisplayBusy)
}

func TestTemperatureState(t *testing.T) {
	testData := []struct {
		deg  int
		want string
		dots tubes.Dots
	}{
		{0, "__:00:__", tubes.DotsNone},
		{7, "__:07:__", tubes.DotsNone},
		{72, "__:72:__", tubes.DotsNone},
		{-12, "__:12:__", tubes.DotsLeft},
		{150, "__:99:__", tubes.DotsNone},
	}
	for _, test := range testData {
		st := temperatureState(test.deg)
		if got := st.String(); got != test.want {
			t.Errorf("temperature %d:\n  got: %v\n want: %v", test.deg, got, test.want)
		}
		if got := st.Dots; got != test.dots {
			t.Errorf("temperature %d dots:\n  got: %v\n want: %v", test.deg, got, test.dots)
		}
	}
}

func TestBanners(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.clock.showTemperature(ctx))
	assert.True(t, f.bus.sent(temperatureState(70)), "21C is shown as 70F")
	assert.Equal(t, "01:04:06", f.screen.Current().String(), "back to the time afterwards")

	_, err := f.settings.Set(options.Fahrenheit, 0)
	require.NoError(t, err)
	require.NoError(t, f.clock.showTemperature(ctx))
	assert.True(t, f.bus.sent(temperatureState(21)))

	require.NoError(t, f.clock.showDate(ctx))
	date := tubes.Value{Hours: 3, Minutes: 9, Seconds: 24}.State(tubes.DotsBottom)
	assert.True(t, f.bus.sent(date), "date is shown")

	f.clock.cfg.Thermometer = nil
	assert.Error(t, f.clock.showTemperature(ctx))
}

func TestCascade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.clock.cascade(ctx, "cascade"))
	assert.Equal(t, "01:04:05", f.screen.Current().String(), "ends on the time it finished")
	n := f.bus.count()
	assert.Greater(t, n, 100)

	require.NoError(t, f.clock.cascade(ctx, "maintenance"))
	assert.Equal(t, n, f.bus.count(), "second cascade within a minute is skipped")

	f.time.advance(2 * time.Minute)
	require.NoError(t, f.clock.cascade(ctx, "cascade"))
	assert.Greater(t, f.bus.count(), n)
	assert.Equal(t, "01:06:05", f.screen.Current().String())
}

func TestCascadeWaitsForDisplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o, err := f.screen.Acquire(ctx, "tick")
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- f.clock.cascade(ctx, "cascade") }()
	time.Sleep(10 * time.Millisecond)
	f.time.advance(time.Second)
	o.Release()

	require.NoError(t, <-done)
	assert.Equal(t, "01:04:06", f.screen.Current().String(), "ends on the time after the display was free")
}

func TestMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.settings.Set(options.MaintenanceHour, 13)
	require.NoError(t, err)
	f.clock.Activities()["cascade"].Disable()

	ran, err := f.clock.maintenance(ctx, time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ran, "other hours")
	assert.Equal(t, 0, f.bus.count())

	ran, err = f.clock.maintenance(ctx, time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ran, "maintenance hour")
	assert.Greater(t, f.bus.count(), 100, "runs with the cascade gate disabled")
	assert.Equal(t, "01:04:05", f.screen.Current().String())
}

func TestApply(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []options.ID{options.DateInterval, options.Buzzer} {
		_, err := f.settings.Set(id, 0)
		require.NoError(t, err)
	}
	f.clock.apply()
	acts := f.clock.Activities()
	assert.False(t, acts["date"].Enabled())
	assert.True(t, acts["temperature"].Enabled())
	assert.False(t, f.buzzer.enabled)
}

func TestBlinker(t *testing.T) {
	bus := new(recorder)
	s := screen.New(bus, nil)
	b := NewBlinker()
	b.period = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	o, err := s.Acquire(ctx, "menu")
	require.NoError(t, err)
	o.Show(tubes.BlankState)
	b.Resume(o)
	assert.Eventually(t, func() bool {
		return bus.sent(tubes.State{Digits: tubes.BlankState.Digits, Dots: tubes.DotsAll})
	}, time.Second, time.Millisecond, "dots turn on")
	b.Suspend()
	o.Release()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// knob turns a fixed number of detents and then presses the button.
type knob struct {
	confirm *button.Signal
	up      bool
	samples []bool
}

func turn(confirm *button.Signal, detents int) *knob {
	k := &knob{confirm: confirm, up: detents > 0}
	if detents < 0 {
		detents = -detents
	}
	for i := 0; i < detents; i++ {
		k.samples = append(k.samples, true, true)
		for j := 0; j < 12; j++ {
			k.samples = append(k.samples, false)
		}
	}
	return k
}

func (k *knob) Levels() (bool, bool) {
	if len(k.samples) == 0 {
		k.confirm.Give()
		return true, k.up
	}
	s := k.samples[0]
	k.samples = k.samples[1:]
	return s, k.up
}

func TestModeExit(t *testing.T) {
	confirm := button.NewSignal()
	f := newFixture(t, func(cfg *Config) {
		cfg.Button = confirm
		cfg.Pins = turn(confirm, -1)
		cfg.Poll = time.Microsecond
	})
	l := trace.NewEventLog("test", "mode")
	defer l.Finish()
	require.NoError(t, f.screen.Do(context.Background(), "mode", func(o *screen.Owner) error {
		return f.clock.mode(context.Background(), o, l)
	}))
	assert.True(t, f.bus.sent(tubes.BlankState.WithPair(2, 1, true)), "selector starts on settings")
	assert.Equal(t, "__:__:_0", f.screen.Current().String())
	assert.Equal(t, 3, f.buzzer.clicks, "entry, detent and confirm")
}

func TestRun(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Time = SystemTime{Location: time.UTC}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	err := f.clock.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEqual(t, tubes.BlankState, f.screen.Current(), "time was shown")
	assert.Equal(t, "", f.screen.CurrentOwner())
}

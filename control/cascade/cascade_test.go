package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrockway/nixie-clock/control/tubes"
)

type recorder struct {
	shown []tubes.State
}

func (r *recorder) Show(s tubes.State) { r.shown = append(r.shown, s) }

type countingWatchdog struct{ n int }

func (w *countingWatchdog) Feed() { w.n++ }

var end = tubes.Value{Hours: 12, Minutes: 34, Seconds: 56}.State(tubes.DotsAll)

func TestPhases(t *testing.T) {
	phases := Phases(end, Duration, DefaultPhases)
	var got []int
	for _, p := range phases {
		got = append(got, p.Cycling)
		if want := 700 * time.Millisecond; p.Duration != want {
			t.Errorf("phase duration:\n  got: %v\n want: %v", p.Duration, want)
		}
	}
	want := []int{6, 6, 6, 6, 6, 5, 4, 3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("cycling counts:\n  got: %v\n want: %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycling counts:\n  got: %v\n want: %v", got, want)
		}
	}
	if Phases(end, Duration, 0) != nil {
		t.Error("zero phases should be empty")
	}
}

func TestPhaseLocksLeadingTubes(t *testing.T) {
	frames := Phase{End: end, Cycling: 2, Duration: time.Second}.Frames()
	if got, want := len(frames), Iterations+1; got != want {
		t.Fatalf("frames:\n  got: %v\n want: %v", got, want)
	}
	seen := map[tubes.Digit]bool{}
	for i, f := range frames {
		for slot, want := range []tubes.Digit{1, 2, 3, 4} {
			if got := f.Digits[slot]; got != want {
				t.Errorf("frame %d slot %d:\n  got: %v\n want: %v", i, slot, got, want)
			}
		}
		seen[f.Digits[5]] = true
		if i > 0 && f.Digits[4] == frames[i-1].Digits[4] {
			t.Errorf("frame %d: slot 4 did not change", i)
		}
	}
	if got, want := len(seen), 10; got != want {
		t.Errorf("distinct digits shown in the last tube:\n  got: %v\n want: %v", got, want)
	}
	if got := frames[len(frames)-1]; got != end {
		t.Errorf("phase does not end on the target:\n  got: %v\n want: %v", got, end)
	}
}

func TestPhaseSpinsBlankTubes(t *testing.T) {
	start := tubes.Value{Hours: 9, Minutes: 0, Seconds: 0}.State(tubes.DotsAll).WithPair(0, 9, true)
	frames := Phase{End: start, Cycling: 6}.Frames()
	if got, want := frames[1].Digits[0], tubes.Digit(0); got != want {
		t.Errorf("blank tube after one step:\n  got: %v\n want: %v", got, want)
	}
}

func TestRun(t *testing.T) {
	r := new(recorder)
	wd := new(countingWatchdog)
	if err := Run(context.Background(), r, wd, end, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got, want := len(r.shown), DefaultPhases*(Iterations+1)+1; got != want {
		t.Errorf("frames shown:\n  got: %v\n want: %v", got, want)
	}
	if got, want := wd.n, DefaultPhases*(Iterations+1); got != want {
		t.Errorf("watchdog feeds:\n  got: %v\n want: %v", got, want)
	}
	if got := r.shown[len(r.shown)-1]; got != end {
		t.Errorf("final state:\n  got: %v\n want: %v", got, end)
	}
	// In the last phase only the final tube moves.
	last := r.shown[len(r.shown)-1-(Iterations+1):]
	for i, s := range last {
		if s.Digits[4] != end.Digits[4] {
			t.Errorf("last phase frame %d moved tube 4: %v", i, s)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	r := new(recorder)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Run(ctx, r, nil, end, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error: %v", err)
	}
	if got := r.shown[len(r.shown)-1]; got != end {
		t.Errorf("state after cancel:\n  got: %v\n want: %v", got, end)
	}
}

package main

import (
	"testing"

	"github.com/jrockway/nixie-clock/control/tubes"
)

func TestSteps(t *testing.T) {
	s := steps()
	if got, want := len(s), 11; got != want {
		t.Fatalf("steps:\n  got: %v\n want: %v", got, want)
	}
	if got, want := s[3].String(), "33:33:33"; got != want {
		t.Errorf("step 3:\n  got: %v\n want: %v", got, want)
	}
	if got, want := s[10], tubes.BlankState; got.Digits != want.Digits {
		t.Errorf("last step:\n  got: %v\n want: %v", got, want)
	}
	seen := map[tubes.Dots]bool{}
	for _, st := range s {
		seen[st.Dots] = true
	}
	if got, want := len(seen), len(dotPatterns); got != want {
		t.Errorf("dot patterns shown:\n  got: %v\n want: %v", got, want)
	}
}

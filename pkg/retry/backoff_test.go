package retry

import (
	"testing"
	"time"
)

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	b := ExponentialBackoff{Base: 100 * time.Millisecond, Multiplier: 2, Max: time.Second}
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: time.Second,
		9: time.Second,
	}
	for attempt, want := range cases {
		if got := b.Next(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestExponentialBackoffCustomMultiplier(t *testing.T) {
	b := ExponentialBackoff{Base: 10 * time.Millisecond, Multiplier: 3}
	if got := b.Next(3); got != 90*time.Millisecond {
		t.Fatalf("expected 90ms, got %s", got)
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	if got := b.Next(1); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", got)
	}
	if got := b.Next(20); got != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %s", got)
	}
}

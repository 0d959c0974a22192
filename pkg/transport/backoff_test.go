package transport

import (
	"testing"
	"time"
)

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff()

	// First delay is the initial value, then it doubles
	expected := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}

	for i, want := range expected {
		if got := b.Next(); got != want {
			t.Errorf("Next() #%d = %v, want %v", i, got, want)
		}
	}

	if b.Attempts() != len(expected) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        50 * time.Millisecond,
		Multiplier: 2.0,
	})

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.Next()
	}

	if last != 50*time.Millisecond {
		t.Errorf("delay after 10 attempts = %v, want %v", last, 50*time.Millisecond)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff()

	b.Next()
	b.Next()
	b.Next()

	b.Reset()

	if b.Attempts() != 0 {
		t.Errorf("Attempts() after reset = %d, want 0", b.Attempts())
	}
	if got := b.Next(); got != InitialAcceptBackoff {
		t.Errorf("Next() after reset = %v, want %v", got, InitialAcceptBackoff)
	}
}

func TestBackoffJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
	})

	// With 50% jitter the first delay lands in [100ms, 150ms]
	got := b.Next()
	if got < 100*time.Millisecond || got > 150*time.Millisecond {
		t.Errorf("jittered delay = %v, want within [100ms, 150ms]", got)
	}
}

package flow

import (
	"testing"
	"time"
)

func TestErrorLimiterAllowsOncePerInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewErrorLimiter(30*time.Second, clock)

	if !l.Allow() {
		t.Fatal("first Allow should pass")
	}
	if l.Allow() {
		t.Fatal("second Allow inside interval should be limited")
	}

	now = now.Add(29 * time.Second)
	if l.Allow() {
		t.Fatal("Allow 29s later should still be limited")
	}

	now = now.Add(2 * time.Second)
	if !l.Allow() {
		t.Fatal("Allow after interval should pass")
	}
	if l.Allow() {
		t.Fatal("slot should be consumed again")
	}
}

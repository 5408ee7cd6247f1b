package security

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("alice") {
			t.Fatalf("Allow #%d = false; want true within the limit", i+1)
		}
	}
	if l.Allow("alice") {
		t.Error("Allow over the limit = true; want false")
	}
	// Keys are independent.
	if !l.Allow("bob") {
		t.Error("a full window for one key throttled another")
	}
}

func TestSlidingWindowExpiry(t *testing.T) {
	l := NewSlidingWindowLimiter(1, 20*time.Millisecond)

	if !l.Allow("k") {
		t.Fatal("first Allow = false")
	}
	if l.Allow("k") {
		t.Fatal("second Allow inside the window = true")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("Allow after the window elapsed = false; want true")
	}
}

func TestSlidingWindowReset(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("limit not enforced before Reset")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Error("Allow after Reset = false; want true")
	}
}

func TestSlidingWindowDisabled(t *testing.T) {
	l := NewSlidingWindowLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("a non-positive limit must never throttle")
		}
	}
}

package socket

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected first two requests to be allowed")
	}
	if rl.Allow("a") {
		t.Error("Expected third request to be rejected")
	}
	if !rl.Allow("b") {
		t.Error("Expected a different key to be allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Close()

	if !rl.Allow("a") {
		t.Fatal("Expected first request to be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("Expected second request to be rejected")
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("a") {
		t.Error("Expected request to be allowed after the window")
	}
}

func TestRateLimiter_CloseStopsEviction(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(1, 10*time.Millisecond)
	rl.Allow("a")
	rl.Close()
	rl.Close()
}

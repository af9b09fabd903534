package ratelimit_test

import (
	"testing"
	"time"

	"passgate/lib/ratelimit"
)

func TestAllow_PerKeyBudget(t *testing.T) {
	l := ratelimit.New(time.Hour, 2)

	for i := 0; i < 2; i++ {
		if !l.Allow("a") {
			t.Fatalf("attempt %d for key a should be allowed", i)
		}
	}
	if l.Allow("a") {
		t.Error("third attempt for key a should be rejected")
	}
	if !l.Allow("b") {
		t.Error("key b has its own budget")
	}

	l.Reset("a")
	if !l.Allow("a") {
		t.Error("reset should clear the budget")
	}
}

func TestAllow_Disabled(t *testing.T) {
	l := ratelimit.New(time.Hour, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatal("max<=0 disables limiting")
		}
	}
}

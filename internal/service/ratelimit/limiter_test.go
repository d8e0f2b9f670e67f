package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToCapacity(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, 0) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("k", 3, 0) {
		t.Fatal("fourth request should be rejected")
	}
}

func TestLimiterRefills(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 50) {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("k", 1, 50) {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k", 1, 50) {
		t.Fatal("bucket should have refilled")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0) {
		t.Fatal("key a should be allowed")
	}
	if l.Allow("a", 1, 0) {
		t.Fatal("key a should be exhausted")
	}
	if !l.Allow("b", 1, 0) {
		t.Fatal("key b has its own bucket")
	}
}

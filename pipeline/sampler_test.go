package pipeline

import (
	"testing"
	"time"
)

func TestSampler_FixedWindow(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
	s := newSampler(2, time.Hour, func() time.Time { return now })

	if !s.Allow() || !s.Allow() {
		t.Fatal("expected first two uploads allowed")
	}
	if s.Allow() {
		t.Fatal("third upload in the window should be skipped")
	}

	now = now.Add(59 * time.Minute)
	if s.Allow() {
		t.Error("window has not rolled yet")
	}

	now = now.Add(time.Minute)
	if !s.Allow() {
		t.Error("new window should allow uploads again")
	}
}

func TestSampler_ZeroLimit(t *testing.T) {
	if NewSampler(0).Allow() {
		t.Error("zero limit should allow nothing")
	}
}

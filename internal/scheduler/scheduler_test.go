package scheduler

import (
	"testing"

	"github.com/johnrirwin/feedwatch/internal/testutil"
)

func TestStart(t *testing.T) {
	s := New(func() {}, testutil.NullLogger())
	defer s.Stop()

	if err := s.Start(30); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.Period(); got != 30 {
		t.Errorf("Period() = %d, want 30", got)
	}
}

func TestStart_RejectsBadPeriod(t *testing.T) {
	s := New(func() {}, testutil.NullLogger())

	if err := s.Start(0); err == nil {
		t.Error("Start(0) should fail")
	}
	if err := s.Start(-5); err == nil {
		t.Error("Start(-5) should fail")
	}
}

func TestReschedule(t *testing.T) {
	s := New(func() {}, testutil.NullLogger())
	defer s.Stop()

	if err := s.Start(30); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.Reschedule(45); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if got := s.Period(); got != 45 {
		t.Errorf("Period() = %d, want 45", got)
	}

	// Same period is a no-op.
	if err := s.Reschedule(45); err != nil {
		t.Fatalf("Reschedule() same period error = %v", err)
	}
	if got := s.Period(); got != 45 {
		t.Errorf("Period() = %d, want 45", got)
	}

	if err := s.Reschedule(0); err == nil {
		t.Error("Reschedule(0) should fail")
	}
}

func TestStop_Idempotent(t *testing.T) {
	s := New(func() {}, testutil.NullLogger())

	if err := s.Start(30); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Stop()
	s.Stop()
}

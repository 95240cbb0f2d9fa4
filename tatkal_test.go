package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func offlineScheduler(cfg TatkalConfig) *TatkalScheduler {
	return NewTatkalScheduler(cfg, NewTimeSync([]string{"http://127.0.0.1:1"}, nil), nil)
}

func TestTatkalWindowPassed(t *testing.T) {
	s := offlineScheduler(DefaultConfig().Tatkal)
	draft := &BookingDraft{Date: "2020-01-10", TravelClass: "3A"}

	err := s.WaitForWindow(context.Background(), draft)
	if !errors.Is(err, ErrTatkalWindowPassed) {
		t.Errorf("Expected ErrTatkalWindowPassed, got %v", err)
	}
}

func TestTatkalWindowAlreadyOpen(t *testing.T) {
	cfg := DefaultConfig().Tatkal
	cfg.ACOpening = "00:00"
	cfg.LeadDays = 0
	cfg.GraceMinutes = 24 * 60

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		t.Fatal(err)
	}
	draft := &BookingDraft{Date: time.Now().In(loc).Format(isoDate), TravelClass: "2A"}

	s := offlineScheduler(cfg)
	start := time.Now()
	if err := s.WaitForWindow(context.Background(), draft); err != nil {
		t.Fatalf("Expected open window, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Open window should not wait, took %v", elapsed)
	}
}

func TestTatkalInvalidDraftDate(t *testing.T) {
	s := offlineScheduler(DefaultConfig().Tatkal)
	if err := s.WaitForWindow(context.Background(), &BookingDraft{Date: "soon"}); err == nil {
		t.Error("Expected error for invalid travel date")
	}
}

func TestTatkalOpeningForDraft(t *testing.T) {
	s := offlineScheduler(DefaultConfig().Tatkal)
	got, err := s.Opening(&BookingDraft{Date: "2025-06-12", TravelClass: "Sleeper"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Day() != 11 || got.Hour() != 11 {
		t.Errorf("Expected June 11 11:00, got %v", got)
	}
}

func TestWaitUntil(t *testing.T) {
	s := offlineScheduler(DefaultConfig().Tatkal)
	s.progressEvery = 50 * time.Millisecond

	target := time.Now().Add(300 * time.Millisecond)
	if err := s.WaitUntil(context.Background(), target); err != nil {
		t.Fatalf("WaitUntil failed: %v", err)
	}
	if time.Now().Before(target) {
		t.Error("WaitUntil returned before the target time")
	}
}

func TestWaitUntilCanceled(t *testing.T) {
	s := offlineScheduler(DefaultConfig().Tatkal)
	s.progressEvery = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.WaitUntil(ctx, time.Now().Add(time.Hour))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

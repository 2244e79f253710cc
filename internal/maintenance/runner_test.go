package maintenance

import (
	"context"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	if _, err := ParseCron("*/5 * * * *"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if _, err := ParseCron("not a cron"); err == nil {
		t.Fatal("invalid spec accepted")
	}
}

func TestCronMatchesMinutePrecision(t *testing.T) {
	expr, err := ParseCron("30 3 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	at := time.Date(2026, 8, 24, 3, 30, 45, 0, time.UTC)
	if !expr.Matches(at) {
		t.Error("expected match within the scheduled minute")
	}
	if expr.Matches(at.Add(time.Minute)) {
		t.Error("expected no match one minute later")
	}
}

func TestRegisterRejectsDuplicatesAndBadSpecs(t *testing.T) {
	r := NewRunner()
	noop := func(ctx context.Context) error { return nil }

	if err := r.Register("cleanup", "0 * * * *", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("cleanup", "0 * * * *", noop); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := r.Register("broken", "nope", noop); err == nil {
		t.Error("bad cron spec accepted")
	}
}

func TestCheckCronTriggersMatchingJobs(t *testing.T) {
	r := NewRunner()
	ran := make(chan string, 2)

	_ = r.Register("every-minute", "* * * * *", func(ctx context.Context) error {
		ran <- "every-minute"
		return nil
	})
	_ = r.Register("midnight-only", "0 0 * * *", func(ctx context.Context) error {
		ran <- "midnight-only"
		return nil
	})

	r.checkCron(time.Date(2026, 8, 24, 14, 7, 0, 0, time.UTC))

	select {
	case name := <-ran:
		if name != "every-minute" {
			t.Errorf("wrong job ran: %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("matching job never ran")
	}
	select {
	case name := <-ran:
		t.Errorf("non-matching job ran: %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCooldownSuppressesRepeatTrigger(t *testing.T) {
	r := NewRunner()
	ran := make(chan struct{}, 4)

	_ = r.Register("chatty", "* * * * *", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	now := time.Date(2026, 8, 24, 14, 7, 0, 0, time.UTC)
	r.checkCron(now)
	r.checkCron(now.Add(10 * time.Second))

	<-ran
	select {
	case <-ran:
		t.Error("job re-triggered within cooldown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunNow(t *testing.T) {
	r := NewRunner()
	ran := false
	_ = r.Register("manual", "0 0 1 1 *", func(ctx context.Context) error {
		ran = true
		return nil
	})

	if err := r.RunNow(context.Background(), "manual"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !ran {
		t.Error("job did not run")
	}
	if err := r.RunNow(context.Background(), "unknown"); err == nil {
		t.Error("unknown job accepted")
	}
}

package ratelimit

import (
	"testing"
	"time"
)

func TestBudget_AdmitWithinLimits(t *testing.T) {
	b := NewBudget(3, 10)

	for i := 0; i < 3; i++ {
		if d := b.Admit("fmp"); !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	d := b.Admit("fmp")
	if d.Allowed {
		t.Fatal("fourth call in the same minute should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retry-after out of range: %v", d.RetryAfter)
	}
}

func TestBudget_MinuteWindowResets(t *testing.T) {
	b := NewBudget(2, 100)
	current := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	b.Admit("fmp")
	b.Admit("fmp")
	if d := b.Admit("fmp"); d.Allowed {
		t.Fatal("expected minute limit to deny")
	}

	current = current.Add(61 * time.Second)
	if d := b.Admit("fmp"); !d.Allowed {
		t.Fatal("expected admission after minute window elapsed")
	}

	q := b.Status("fmp")
	if q.MinuteCount != 1 {
		t.Errorf("minute count = %d, want 1 after reset", q.MinuteCount)
	}
	if q.DayCount != 3 {
		t.Errorf("day count = %d, want 3 (day window not elapsed)", q.DayCount)
	}
}

func TestBudget_DailyLimitAndMidnightReset(t *testing.T) {
	b := NewBudget(100, 2)
	current := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	b.Admit("alpaca")
	b.Admit("alpaca")
	d := b.Admit("alpaca")
	if d.Allowed {
		t.Fatal("expected daily limit to deny")
	}
	if d.RetryAfter > time.Minute {
		t.Errorf("retry-after should point at midnight, got %v", d.RetryAfter)
	}

	current = current.Add(2 * time.Minute) // past midnight
	if d := b.Admit("alpaca"); !d.Allowed {
		t.Fatal("expected admission after calendar-day reset")
	}
}

func TestBudget_StatusDoesNotConsume(t *testing.T) {
	b := NewBudget(5, 50)
	b.Admit("fmp")

	for i := 0; i < 10; i++ {
		b.Status("fmp")
	}

	q := b.Status("fmp")
	if q.MinuteCount != 1 || q.DayCount != 1 {
		t.Errorf("status mutated counters: %+v", q)
	}
}

func TestBudget_StatusDoesNotMutateWindows(t *testing.T) {
	b := NewBudget(2, 100)
	current := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	b.Admit("fmp")
	b.Admit("fmp")

	current = current.Add(61 * time.Second)
	q := b.Status("fmp")
	if q.MinuteCount != 0 {
		t.Errorf("elapsed window should report 0, got %d", q.MinuteCount)
	}

	if got := b.providers["fmp"].minuteCount; got != 2 {
		t.Errorf("Status rewrote stored counter: %d, want 2", got)
	}

	b.Status("unseen")
	if _, ok := b.providers["unseen"]; ok {
		t.Error("a status probe must not register a provider")
	}
}

func TestBudget_ConfigureTakesEffectNextAdmit(t *testing.T) {
	b := NewBudget(1, 10)

	b.Admit("fmp")
	if d := b.Admit("fmp"); d.Allowed {
		t.Fatal("expected denial at original limit")
	}

	b.Configure("fmp", 5, 10)
	if d := b.Admit("fmp"); !d.Allowed {
		t.Fatal("expected admission after raising the per-minute limit")
	}

	q := b.Status("fmp")
	if q.MaxPerMinute != 5 {
		t.Errorf("max per minute = %d, want 5", q.MaxPerMinute)
	}
}

func TestBudget_ProvidersIndependent(t *testing.T) {
	b := NewBudget(1, 10)

	if d := b.Admit("fmp"); !d.Allowed {
		t.Fatal("first fmp call should pass")
	}
	if d := b.Admit("fmp"); d.Allowed {
		t.Fatal("second fmp call should be denied")
	}
	if d := b.Admit("alpaca"); !d.Allowed {
		t.Fatal("alpaca budget should be independent of fmp")
	}
}

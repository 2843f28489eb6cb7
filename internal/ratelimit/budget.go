// Package ratelimit tracks per-provider call quotas. Each provider carries a
// per-minute counter and a calendar-day counter with independent fixed reset
// instants: the minute window is re-anchored when a call finds it elapsed,
// the day window resets at local midnight. A burst straddling a reset
// instant can admit up to twice the per-minute maximum within one rolling
// sixty seconds; the cap bounds sustained rate, not worst-case bursts.
// Counters live in memory only; a restart under-counts but never
// over-counts.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Quota reports a provider's current counters without mutating them.
type Quota struct {
	Provider       string    `json:"provider"`
	MinuteCount    int       `json:"minute_count"`
	MaxPerMinute   int       `json:"max_per_minute"`
	DayCount       int       `json:"day_count"`
	MaxPerDay      int       `json:"max_per_day"`
	MinuteResetAt  time.Time `json:"minute_reset_at"`
	DayResetAt     time.Time `json:"day_reset_at"`
}

type quotaState struct {
	minuteCount   int
	dayCount      int
	maxPerMinute  int
	maxPerDay     int
	minuteResetAt time.Time
	dayResetAt    time.Time
}

// Budget admits or defers outbound calls per provider.
type Budget struct {
	mu        sync.Mutex
	providers map[string]*quotaState
	defMinute int
	defDay    int
	now       func() time.Time
}

// NewBudget creates a budget with default per-provider maxima. Providers not
// explicitly configured inherit the defaults on first use.
func NewBudget(maxPerMinute, maxPerDay int) *Budget {
	return &Budget{
		providers: make(map[string]*quotaState),
		defMinute: maxPerMinute,
		defDay:    maxPerDay,
		now:       time.Now,
	}
}

func (b *Budget) state(provider string) *quotaState {
	s, ok := b.providers[provider]
	if !ok {
		s = &quotaState{maxPerMinute: b.defMinute, maxPerDay: b.defDay}
		b.providers[provider] = s
	}
	return s
}

func nextMidnight(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, 1)
}

// reset zeroes any counter whose window has elapsed.
func (b *Budget) reset(s *quotaState, now time.Time) {
	if !now.Before(s.minuteResetAt) {
		s.minuteCount = 0
		s.minuteResetAt = now.Add(time.Minute)
	}
	if !now.Before(s.dayResetAt) {
		s.dayCount = 0
		s.dayResetAt = nextMidnight(now)
	}
}

// Admit checks and consumes one call for the provider. A denial reports how
// long to wait before the relevant window resets.
func (b *Budget) Admit(provider string) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	s := b.state(provider)
	b.reset(s, now)

	if s.maxPerMinute > 0 && s.minuteCount >= s.maxPerMinute {
		return Decision{Allowed: false, RetryAfter: s.minuteResetAt.Sub(now)}
	}
	if s.maxPerDay > 0 && s.dayCount >= s.maxPerDay {
		return Decision{Allowed: false, RetryAfter: s.dayResetAt.Sub(now)}
	}

	s.minuteCount++
	s.dayCount++
	return Decision{Allowed: true}
}

// Status returns current counts and maxima without consuming a call or
// mutating any window state. An elapsed window is reported as already reset;
// the stored counters change only on the next Admit.
func (b *Budget) Status(provider string) Quota {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	s, ok := b.providers[provider]
	if !ok {
		s = &quotaState{maxPerMinute: b.defMinute, maxPerDay: b.defDay}
	}

	q := Quota{
		Provider:      provider,
		MinuteCount:   s.minuteCount,
		MaxPerMinute:  s.maxPerMinute,
		DayCount:      s.dayCount,
		MaxPerDay:     s.maxPerDay,
		MinuteResetAt: s.minuteResetAt,
		DayResetAt:    s.dayResetAt,
	}
	if !now.Before(s.minuteResetAt) {
		q.MinuteCount = 0
		q.MinuteResetAt = now.Add(time.Minute)
	}
	if !now.Before(s.dayResetAt) {
		q.DayCount = 0
		q.DayResetAt = nextMidnight(now)
	}
	return q
}

// StatusAll returns quotas for every provider seen so far.
func (b *Budget) StatusAll() []Quota {
	b.mu.Lock()
	providers := make([]string, 0, len(b.providers))
	for name := range b.providers {
		providers = append(providers, name)
	}
	b.mu.Unlock()

	out := make([]Quota, 0, len(providers))
	for _, name := range providers {
		out = append(out, b.Status(name))
	}
	return out
}

// Configure updates a provider's maxima. Takes effect on the next Admit;
// counts already consumed this window are kept.
func (b *Budget) Configure(provider string, maxPerMinute, maxPerDay int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state(provider)
	s.maxPerMinute = maxPerMinute
	s.maxPerDay = maxPerDay
}

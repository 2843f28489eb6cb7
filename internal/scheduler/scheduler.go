// Package scheduler maintains one recurring scan job per schedule-enabled
// profile. Jobs fire on their profile's cadence, optionally gated by market
// hours; one profile's failure never disturbs the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scan"
)

// JobStatus describes one scheduled job for the status endpoint.
type JobStatus struct {
	ProfileID int64     `json:"profile_id"`
	Name      string    `json:"name"`
	Cadence   string    `json:"cadence"`
	LastFire  time.Time `json:"last_fire,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	profile  persistence.Profile
	cadence  string
	cancel   context.CancelFunc
	done     chan struct{}
	lastFire time.Time
	lastErr  string
}

// Scheduler is the recurring-job registry, keyed by profile id. All mutation
// goes through one mutex: single-writer discipline over the job map.
type Scheduler struct {
	store    *persistence.Store
	scanner  scan.Scanner
	broker   broker.Client
	executor *orders.Executor
	notifier notify.Notifier
	metrics  *metrics.Registry

	mu      sync.Mutex
	jobs    map[int64]*job
	baseCtx context.Context
	running bool
	started time.Time
}

// New creates a scheduler over the given collaborators. A nil executor
// disables auto-execution regardless of profile flags.
func New(store *persistence.Store, scanner scan.Scanner, brokerClient broker.Client,
	executor *orders.Executor, notifier notify.Notifier, reg *metrics.Registry) *Scheduler {
	return &Scheduler{
		store:    store,
		scanner:  scanner,
		broker:   brokerClient,
		executor: executor,
		notifier: notifier,
		metrics:  reg,
		jobs:     make(map[int64]*job),
	}
}

// CronCadence renders an interval in minutes as a cron-style cadence string.
func CronCadence(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes < 60:
		return fmt.Sprintf("*/%d * * * *", minutes)
	case minutes == 60:
		return "0 * * * *"
	case minutes%60 == 0:
		return fmt.Sprintf("0 */%d * * *", minutes/60)
	default:
		return fmt.Sprintf("*/%d * * * *", minutes)
	}
}

// Start loads all schedule-enabled profiles and schedules each. Idempotent.
// A failed profile load leaves the scheduler stopped so Start can be retried.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	profiles, err := s.store.Profiles.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled profiles: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.started = time.Now()
	s.baseCtx = ctx
	s.mu.Unlock()

	for _, p := range profiles {
		s.ScheduleProfile(p)
	}
	log.Info().Int("jobs", len(profiles)).Msg("scheduler started")
	return nil
}

// Stop cancels every job, clears the registry, and waits for any fire still
// in flight to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopped := make([]*job, 0, len(s.jobs))
	for id, j := range s.jobs {
		stopped = append(stopped, j)
		delete(s.jobs, id)
	}
	s.running = false
	s.mu.Unlock()

	for _, j := range stopped {
		j.cancel()
	}
	for _, j := range stopped {
		<-j.done
	}
	log.Info().Msg("scheduler stopped")
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduleProfile installs (or replaces) the recurring job for a profile.
// Calling it twice with the same id leaves exactly one active job.
func (s *Scheduler) ScheduleProfile(p persistence.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	if prior, ok := s.jobs[p.ID]; ok {
		prior.cancel()
		delete(s.jobs, p.ID)
	}

	interval := time.Duration(p.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	j := &job{
		profile: p,
		cadence: CronCadence(p.IntervalMinutes),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.jobs[p.ID] = j

	go s.run(ctx, j, interval)
	log.Info().Int64("profile", p.ID).Str("cadence", j.cadence).Msg("profile scheduled")
}

// Unschedule removes one profile's job without disturbing others.
func (s *Scheduler) Unschedule(profileID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[profileID]; ok {
		j.cancel()
		delete(s.jobs, profileID)
		log.Info().Int64("profile", profileID).Msg("profile unscheduled")
	}
}

// UpdateSchedule reconciles one profile's job with its current
// schedule_enabled flag: install, replace, or remove.
func (s *Scheduler) UpdateSchedule(ctx context.Context, profileID int64) error {
	p, err := s.store.Profiles.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to load profile %d: %w", profileID, err)
	}
	if p.ScheduleEnabled {
		s.ScheduleProfile(*p)
	} else {
		s.Unschedule(profileID)
	}
	return nil
}

// Status reports all active jobs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			ProfileID: j.profile.ID,
			Name:      j.profile.Name,
			Cadence:   j.cadence,
			LastFire:  j.lastFire,
			LastError: j.lastErr,
		})
	}
	return out
}

// JobCount returns the number of active jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) run(ctx context.Context, j *job, interval time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The fire runs with a fresh context so cancelling the job stops
			// future ticks but lets writes already started complete.
			s.fire(context.Background(), j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *job) {
	p := j.profile

	if p.MarketHoursOnly {
		open, err := s.broker.IsMarketOpen(ctx)
		if err != nil {
			log.Warn().Err(err).Int64("profile", p.ID).Msg("market clock unavailable, scan skipped")
			return
		}
		if !open {
			// Closed market is an expected state, not an error.
			log.Debug().Int64("profile", p.ID).Msg("market closed, scan skipped")
			return
		}
	}

	matches, err := s.RunNow(ctx, p)
	s.mu.Lock()
	j.lastFire = time.Now()
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.notifyEvent(notify.Event{
			Level: notify.LevelError, Kind: "scan_failed",
			Message: fmt.Sprintf("scan for profile %q failed: %v", p.Name, err),
		})
		return
	}
	if len(matches) > 0 {
		s.notifyEvent(notify.Event{
			Level: notify.LevelInfo, Kind: "scan_result",
			Message: fmt.Sprintf("profile %q matched %d symbols", p.Name, len(matches)),
		})
	}
}

// RunNow executes a single scan for the profile, recording stats. Used by
// the scheduled fire path and the manual scan trigger.
func (s *Scheduler) RunNow(ctx context.Context, p persistence.Profile) ([]scan.Match, error) {
	matches, err := s.scanner.Scan(ctx, p)

	day := persistence.DateKey(time.Now())
	if statErr := s.store.Stats.Increment(ctx, day, persistence.StatScansRun, 1); statErr != nil {
		log.Error().Err(statErr).Msg("failed to update daily stats")
	}
	if s.metrics != nil {
		s.metrics.ScansRun.WithLabelValues(p.Name).Inc()
	}
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		if statErr := s.store.Stats.Increment(ctx, day, persistence.StatMatchesFound, float64(len(matches))); statErr != nil {
			log.Error().Err(statErr).Msg("failed to update daily stats")
		}
		if s.metrics != nil {
			s.metrics.MatchesFound.Add(float64(len(matches)))
		}
		if p.AutoExecute && s.executor != nil {
			s.autoExecute(ctx, p, matches)
		}
	}
	return matches, nil
}

// autoExecute turns scan matches into market buys sized by the profile's
// per-transaction budget. Rejections and broker failures are logged per
// symbol; one bad order never blocks the rest of the batch.
func (s *Scheduler) autoExecute(ctx context.Context, p persistence.Profile, matches []scan.Match) {
	if p.MaxTransaction == nil || *p.MaxTransaction <= 0 {
		log.Warn().Int64("profile", p.ID).Msg("auto-execute enabled without a transaction budget, skipping")
		return
	}
	budget := *p.MaxTransaction

	for _, m := range matches {
		if m.Price <= 0 {
			continue
		}
		qty := int64(budget / m.Price)
		if qty <= 0 {
			log.Debug().Int64("profile", p.ID).Str("symbol", m.Symbol).
				Float64("price", m.Price).Msg("budget below one share, skipping")
			continue
		}

		out, err := s.executor.Execute(ctx, orders.Request{
			ProfileID: &p.ID,
			Symbol:    m.Symbol,
			Quantity:  qty,
			Side:      broker.Buy,
			OrderType: broker.Market,
		})
		if err != nil {
			log.Error().Err(err).Int64("profile", p.ID).Str("symbol", m.Symbol).
				Msg("auto-execute order failed")
			continue
		}
		if !out.Executed {
			log.Info().Int64("profile", p.ID).Str("symbol", m.Symbol).
				Str("reason", out.RejectReason).Msg("auto-execute order rejected")
			continue
		}
		log.Info().Int64("profile", p.ID).Str("symbol", m.Symbol).Int64("qty", qty).
			Msg("auto-executed buy")
	}
}

func (s *Scheduler) notifyEvent(ev notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

// Package scheduler fires the learning loop on a schedule.
//
// One coordinator goroutine owns every cycle execution, so at most one
// learning cycle runs at a time system-wide. Triggers that arrive while
// a cycle is running collapse into a single pending slot; firing the
// same trigger twice in one window produces one run, not two.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quadra0/quadra/internal/feedback"
)

const (
	// DefaultDailyHour is the local hour of the fixed daily trigger.
	DefaultDailyHour = 2

	// DefaultCountThreshold is how much feedback must accumulate since
	// the last completed cycle before the count trigger fires.
	DefaultCountThreshold = 100

	// DefaultCountInterval is how often the backlog is checked.
	DefaultCountInterval = time.Hour

	// DefaultHealthInterval is how often scheduler health is logged.
	DefaultHealthInterval = 6 * time.Hour
)

// CycleRunner executes one learning cycle. *feedback.Loop satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger feedback.Trigger) feedback.CycleResult
}

// BacklogCounter reports feedback volume. *feedback.Store satisfies it.
type BacklogCounter interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running     bool                 `json:"running"`
	LastCycleAt time.Time            `json:"last_cycle_at"`
	LastTrigger feedback.Trigger     `json:"last_trigger,omitempty"`
	LastResult  feedback.CycleResult `json:"last_result"`
	Backlog     int64                `json:"backlog"`
}

// Config wires a Scheduler. Runner and Backlog are required.
type Config struct {
	Runner  CycleRunner
	Backlog BacklogCounter

	// DailyHour is the local hour (0-23) of the daily trigger.
	DailyHour int

	// CountThreshold fires the loop once backlog since the last
	// completed cycle reaches it.
	CountThreshold int64

	CountInterval  time.Duration
	HealthInterval time.Duration

	// LastCycleAt seeds the backlog baseline, typically from the most
	// recent persisted cycle audit record. Zero means "never ran".
	LastCycleAt time.Time

	Logger *slog.Logger
}

// Scheduler coordinates learning-cycle triggers.
type Scheduler struct {
	runner         CycleRunner
	backlog        BacklogCounter
	dailyHour      int
	countThreshold int64
	countInterval  time.Duration
	healthInterval time.Duration
	logger         *slog.Logger

	// pending holds at most one queued trigger; sends are non-blocking
	// so simultaneous triggers coalesce.
	pending chan feedback.Trigger

	// runMu serializes cycle execution between the coordinator
	// goroutine and synchronous TriggerNow callers.
	runMu sync.Mutex

	mu          sync.Mutex
	running     bool
	lastCycleAt time.Time
	lastTrigger feedback.Trigger
	lastResult  feedback.CycleResult
	countFired  bool
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if cfg.Backlog == nil {
		return nil, fmt.Errorf("backlog counter is required")
	}
	if cfg.DailyHour < 0 || cfg.DailyHour > 23 {
		return nil, fmt.Errorf("daily hour %d out of range 0..23", cfg.DailyHour)
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = DefaultCountThreshold
	}
	if cfg.CountInterval <= 0 {
		cfg.CountInterval = DefaultCountInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:         cfg.Runner,
		backlog:        cfg.Backlog,
		dailyHour:      cfg.DailyHour,
		countThreshold: cfg.CountThreshold,
		countInterval:  cfg.CountInterval,
		healthInterval: cfg.HealthInterval,
		logger:         logger.With("component", "scheduler"),
		pending:        make(chan feedback.Trigger, 1),
		lastCycleAt:    cfg.LastCycleAt,
	}, nil
}

// Run blocks until ctx is cancelled, firing triggers as they come due.
func (s *Scheduler) Run(ctx context.Context) error {
	daily := time.NewTimer(untilNextHour(time.Now(), s.dailyHour))
	defer daily.Stop()
	count := time.NewTicker(s.countInterval)
	defer count.Stop()
	health := time.NewTicker(s.healthInterval)
	defer health.Stop()

	s.logger.Info("scheduler started",
		"daily_hour", s.dailyHour,
		"count_threshold", s.countThreshold,
		"count_interval", s.countInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil

		case <-daily.C:
			s.enqueue(feedback.TriggerDaily)
			daily.Reset(untilNextHour(time.Now(), s.dailyHour))

		case <-count.C:
			s.checkBacklog(ctx)

		case <-health.C:
			s.logHealth(ctx)

		case trigger := <-s.pending:
			s.execute(ctx, trigger)
		}
	}
}

// TriggerNow runs one cycle synchronously and returns its result. It
// shares the run lock with the coordinator, so a manual trigger waits
// for any in-flight cycle rather than running beside it.
func (s *Scheduler) TriggerNow(ctx context.Context) feedback.CycleResult {
	return s.execute(ctx, feedback.TriggerManual)
}

// Status reports the scheduler's current state. The backlog count is
// best-effort; on a query failure it is reported as zero.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		Running:     s.running,
		LastCycleAt: s.lastCycleAt,
		LastTrigger: s.lastTrigger,
		LastResult:  s.lastResult,
	}
	baseline := s.lastCycleAt
	s.mu.Unlock()

	n, err := s.backlog.CountSince(ctx, baseline)
	if err != nil {
		s.logger.Warn("backlog count unavailable", "error", err)
	} else {
		st.Backlog = n
	}
	return st
}

// enqueue queues a trigger without blocking. A trigger arriving while
// the slot is already occupied is coalesced into the queued run.
func (s *Scheduler) enqueue(trigger feedback.Trigger) {
	select {
	case s.pending <- trigger:
		s.logger.Info("learning cycle queued", "trigger", trigger)
	default:
		s.logger.Info("trigger coalesced into pending cycle", "trigger", trigger)
	}
}

// checkBacklog fires the count trigger once per completed-cycle
// baseline: after firing it stays quiet until a cycle finishes and the
// baseline moves.
func (s *Scheduler) checkBacklog(ctx context.Context) {
	s.mu.Lock()
	fired := s.countFired
	baseline := s.lastCycleAt
	s.mu.Unlock()
	if fired {
		return
	}

	n, err := s.backlog.CountSince(ctx, baseline)
	if err != nil {
		s.logger.Warn("backlog check failed", "error", err)
		return
	}
	if n < s.countThreshold {
		return
	}

	s.mu.Lock()
	s.countFired = true
	s.mu.Unlock()
	s.logger.Info("feedback threshold reached", "backlog", n, "threshold", s.countThreshold)
	s.enqueue(feedback.TriggerCount)
}

func (s *Scheduler) logHealth(ctx context.Context) {
	st := s.Status(ctx)
	last := "never"
	if !st.LastCycleAt.IsZero() {
		last = st.LastCycleAt.Format(time.RFC3339)
	}
	s.logger.Info("scheduler health",
		"last_cycle", last, "backlog", st.Backlog, "running", st.Running)
}

// execute runs one cycle under the run lock and records its outcome.
func (s *Scheduler) execute(ctx context.Context, trigger feedback.Trigger) feedback.CycleResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	result := s.runner.RunCycle(ctx, trigger)

	s.mu.Lock()
	s.running = false
	s.lastCycleAt = time.Now()
	s.lastTrigger = trigger
	s.lastResult = result
	s.countFired = false
	s.mu.Unlock()

	return result
}

// untilNextHour returns the duration from now until the next local
// occurrence of the given hour.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

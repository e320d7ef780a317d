// Package scheduler drives time-based work: it evaluates due deliverables on
// a fixed tick, sweeps versions stuck in generating, and kicks off the daily
// pattern-mining job.
package scheduler

import (
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/flywheel"
	"github.com/stellarlinkco/briefops/internal/store"
)

// Clock abstracts time so ticks can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production clock.
func SystemClock() Clock { return systemClock{} }

// Submitter hands a due deliverable to the execution queue.
type Submitter interface {
	Submit(userID, deliverableID string) (*store.WorkTicket, error)
}

type Scheduler struct {
	store        *store.Engine
	submitter    Submitter
	flywheel     *flywheel.Service
	clock        Clock
	tickInterval time.Duration
	stuckTimeout time.Duration
	flywheelHour int

	cron    *rcron.Cron
	mu      sync.Mutex
	started bool
}

func New(st *store.Engine, submitter Submitter, fw *flywheel.Service, clock Clock, tickInterval, jobTimeout time.Duration, flywheelHour int) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if tickInterval <= 0 {
		tickInterval = 2 * time.Minute
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	return &Scheduler{
		store:        st,
		submitter:    submitter,
		flywheel:     fw,
		clock:        clock,
		tickInterval: tickInterval,
		// A version still generating one tick past the job timeout can no
		// longer be a live run; anything younger might be.
		stuckTimeout: jobTimeout + tickInterval,
		flywheelHour: flywheelHour,
	}
}

// Start wires the tick and the daily flywheel job onto a cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.cron = rcron.New(rcron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.tickInterval), s.Tick); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("0 %d * * *", s.flywheelHour), s.RunDailyFlywheel); err != nil {
		return fmt.Errorf("register flywheel job: %w", err)
	}
	s.cron.Start()
	s.started = true
	log.Printf("[scheduler] started, tick every %s, flywheel at %02d:00 UTC", s.tickInterval, s.flywheelHour)
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cron := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if cron != nil {
		<-cron.Stop().Done()
	}
	log.Printf("[scheduler] stopped")
}

// Tick evaluates due deliverables and sweeps stuck versions. The scheduler
// is the sole writer of next_run_at outside of manual triggers, and it
// advances the field before submitting so a slow run cannot double-fire.
func (s *Scheduler) Tick() {
	now := s.clock.Now()
	s.sweepStuck(now)

	due, err := s.store.DueDeliverables(now)
	if err != nil {
		log.Printf("[scheduler] load due deliverables: %v", err)
		return
	}

	for _, d := range due {
		next := d.Schedule.NextRun(now)
		if err := s.store.SetNextRun(d.UserID, d.ID, next); err != nil {
			log.Printf("[scheduler] advance next run for %s: %v", d.ID, err)
			continue
		}
		if _, err := s.submitter.Submit(d.UserID, d.ID); err != nil {
			log.Printf("[scheduler] submit run for %s: %v", d.ID, err)
		}
	}
}

// sweepStuck marks versions stuck in generating past the timeout as failed.
// A lingering non-terminal version blocks every future run of its
// deliverable, so ambiguity is worse than failure here.
func (s *Scheduler) sweepStuck(now time.Time) {
	stuck, err := s.store.StuckGenerating(now.Add(-s.stuckTimeout))
	if err != nil {
		log.Printf("[scheduler] query stuck versions: %v", err)
		return
	}
	for _, v := range stuck {
		if err := s.store.SetVersionStatus(v.UserID, v.ID, deliverable.VersionFailed, deliverable.VersionGenerating); err != nil {
			log.Printf("[scheduler] fail stuck version %s: %v", v.ID, err)
			continue
		}
		log.Printf("[scheduler] version %s stuck in generating since %s, marked failed", v.ID, v.CreatedAt.Format(time.RFC3339))
		if err := s.store.AppendActivity(v.UserID, store.EventDeliverableFailed, v.DeliverableID, map[string]any{
			"version_id": v.ID,
			"reason":     "stuck in generating past timeout",
		}); err != nil {
			log.Printf("[scheduler] log stuck failure: %v", err)
		}
	}
}

// RunDailyFlywheel mines activity patterns for every known user.
func (s *Scheduler) RunDailyFlywheel() {
	if s.flywheel == nil {
		return
	}
	users, err := s.store.UserIDs()
	if err != nil {
		log.Printf("[scheduler] load users for flywheel: %v", err)
		return
	}
	now := s.clock.Now()
	for _, userID := range users {
		s.flywheel.RunDailyPatterns(userID, now)
	}
	log.Printf("[scheduler] flywheel pass complete for %d users", len(users))
}

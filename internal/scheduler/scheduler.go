// Package scheduler runs the periodic maintenance jobs of the service.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/service"
)

// Sweeper settles payments that were never confirmed by their payer.
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// CreditExpirer removes entitlement rows of ended events.
type CreditExpirer interface {
	ExpireStaleCredits(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner evicts expired cache entries.
type Cleaner interface {
	Cleanup() int
}

// Jobs lists the scheduled work. A zero interval or nil target disables a job.
type Jobs struct {
	Sweeper              Sweeper
	SweepInterval        time.Duration
	Credits              CreditExpirer
	CreditExpiryInterval time.Duration
	Cache                Cleaner
	CleanupInterval      time.Duration
}

// Scheduler wraps a gocron scheduler. Every job runs in singleton mode, so a
// slow sweep is never overlapped by the next tick.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New registers jobs without starting them.
func New(jobs Jobs) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, ctx: ctx, cancel: cancel, now: time.Now}

	if jobs.Sweeper != nil && jobs.SweepInterval > 0 {
		if err := s.add("payment-sweep", jobs.SweepInterval, func() { s.sweep(jobs.Sweeper) }); err != nil {
			return nil, err
		}
	}
	if jobs.Credits != nil && jobs.CreditExpiryInterval > 0 {
		if err := s.add("credit-expiry", jobs.CreditExpiryInterval, func() { s.expireCredits(jobs.Credits) }); err != nil {
			return nil, err
		}
	}
	if jobs.Cache != nil && jobs.CleanupInterval > 0 {
		if err := s.add("cache-cleanup", jobs.CleanupInterval, func() { s.cleanup(jobs.Cache) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name string, every time.Duration, fn func()) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.sched.Shutdown()
		s.cancel()
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	log.Info().Str("job", name).Dur("interval", every).Msg("Job scheduled")
	return nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.sched.Jobs())
}

func (s *Scheduler) sweep(sw Sweeper) {
	if _, err := sw.Sweep(s.ctx); err != nil && s.ctx.Err() == nil {
		log.Error().Err(err).Msg("Payment sweep failed")
	}
}

func (s *Scheduler) expireCredits(c CreditExpirer) {
	if _, err := c.ExpireStaleCredits(s.ctx, s.now()); err != nil {
		log.Error().Err(err).Msg("Credit expiry failed")
	}
}

func (s *Scheduler) cleanup(c Cleaner) {
	if n := c.Cleanup(); n > 0 {
		log.Debug().Int("evicted", n).Msg("Cache cleanup")
	}
}

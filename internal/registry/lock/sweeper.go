package lock

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/stardag-dev/stardag-registry/pkg/logger"
)

// Sweeper periodically calls Service.Cleanup across every environment,
// keeping the distributed_locks table from accumulating expired rows
// between natural takeovers. Locks work correctly without this (an
// expired lock is simply re-acquirable), so the sweeper is housekeeping,
// not a correctness dependency.
type Sweeper struct {
	locks    *Service
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// NewSweeper builds a sweeper for locks on the given cron schedule
// (standard 5-field syntax, e.g. "0 * * * *" for hourly).
func NewSweeper(locks *Service, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("lock-sweeper")
	}
	if schedule == "" {
		schedule = "0 * * * *"
	}
	return &Sweeper{locks: locks, schedule: schedule, log: log}
}

func (s *Sweeper) Name() string { return "lock-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		n, err := s.locks.Cleanup(context.Background(), "")
		if err != nil {
			s.log.Warnf("lock sweep failed: %v", err)
			return
		}
		if n > 0 {
			s.log.Infof("lock sweep removed %d expired lock(s)", n)
		}
	}); err != nil {
		return err
	}
	s.cron = c
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

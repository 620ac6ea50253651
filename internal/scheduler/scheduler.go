package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/incast-service/internal/cache"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CacheBuilder rebuilds the model cache
type CacheBuilder interface {
	Build(ctx context.Context) (cache.BuildStats, error)
}

// Scheduler periodically rebuilds the model cache so models trained by other
// processes become visible
type Scheduler struct {
	cron    *cron.Cron
	cache   CacheBuilder
	log     *logrus.Logger
	timeout time.Duration
}

// NewScheduler registers a cache rebuild on the given cron schedule
func NewScheduler(schedule string, mc CacheBuilder, log *logrus.Logger, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cache:   mc,
		log:     log,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(schedule, s.rebuild); err != nil {
		return nil, fmt.Errorf("invalid cache reload schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) rebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stats, err := s.cache.Build(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled model cache rebuild failed")
		return
	}
	s.log.WithFields(logrus.Fields{"loaded": stats.Loaded, "failed": len(stats.Failed)}).Info("Scheduled model cache rebuild done")
}

// Start runs the schedule in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running rebuild
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

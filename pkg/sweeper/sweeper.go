// Package sweeper runs the scheduled cleanup of expired authentication
// exchanges. Expiry is enforced at read time by the stores; the sweeper
// only keeps the backing tables from growing.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/storage"
)

// DefaultSchedule purges once an hour.
const DefaultSchedule = "@hourly"

const sweepTimeout = 30 * time.Second

// Sweeper purges expired pending exchanges on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	requests storage.AuthnRequestStore
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewSweeper(schedule string, requests storage.AuthnRequestStore,
	logger *observability.Logger, metrics *observability.Metrics) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Sweeper{
		cron:     cron.New(),
		requests: requests,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start launches the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	deleted, err := s.requests.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("failed to purge expired authentication requests")
		return
	}
	if deleted > 0 {
		s.metrics.PendingRequestsSwept.Add(float64(deleted))
		s.logger.WithField("deleted", deleted).Info("purged expired authentication requests")
	}
}

package services

import (
	"context"
	"time"

	"ringline/internal/metrics"
	"ringline/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reapBatch = 200

// RingReaper periodically marks calls that nobody answered as missed, so
// the registry converges even when every client has gone away.
type RingReaper struct {
	calls    *CallService
	maxRing  time.Duration
	schedule string
	metrics  *metrics.Metrics
	log      *logger.Logger
	cron     *cron.Cron
}

func NewRingReaper(calls *CallService, ringTimeout, grace time.Duration, schedule string, m *metrics.Metrics, log *logger.Logger) *RingReaper {
	return &RingReaper{
		calls:    calls,
		maxRing:  ringTimeout + grace,
		schedule: schedule,
		metrics:  m,
		log:      log,
	}
}

func (r *RingReaper) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, r.RunOnce); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Logger.Info("ring reaper started", zap.String("schedule", r.schedule), zap.Duration("max_ring", r.maxRing))
	return nil
}

// Stop waits for a running sweep to finish.
func (r *RingReaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *RingReaper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if r.metrics != nil {
		r.metrics.ReaperSweeps.Inc()
	}
	n, err := r.calls.ReapStaleRinging(ctx, r.maxRing, reapBatch)
	if err != nil {
		r.log.Logger.Error("ring reaper sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Logger.Info("ring reaper marked calls missed", zap.Int("count", n))
	}
}

package backup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the scheduler uploads the log.
const DefaultInterval = time.Hour

// Scheduler uploads the log on a fixed interval for the life of the process.
type Scheduler struct {
	client   Client
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler returns a scheduler calling client.Upload every interval.
func NewScheduler(client Client, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{client: client, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled. Each tick triggers exactly one upload.
// A failed upload is logged and the next tick proceeds as usual.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("backup scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if err := s.client.Upload(ctx); err != nil {
				s.logger.Error("scheduled backup failed", zap.Error(err))
				continue
			}
			s.logger.Debug("scheduled backup done")
		}
	}
}

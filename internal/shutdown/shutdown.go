// Package shutdown sequences process termination: one final backup, then the
// serving layer is told to stop.
package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Hook is the work performed once a termination signal arrives.
type Hook func(ctx context.Context) error

// Coordinator waits for a termination signal, runs the final hook to
// completion and only then stops the servers.
type Coordinator struct {
	hook   Hook
	grace  time.Duration
	logger *zap.Logger
}

// New returns a coordinator running hook on shutdown. A grace of zero lets
// the hook run for as long as it needs; a positive grace bounds it.
func New(hook Hook, grace time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{hook: hook, grace: grace, logger: logger}
}

// Run blocks until sigCtx is done, runs the hook and calls stop. stop is
// called whether the hook succeeds or fails, so a failed final backup never
// prevents shutdown.
//
// serveCtx is the context the servers run on. If it ends first, because a
// server failed, the hook still runs once before Run returns.
func (c *Coordinator) Run(sigCtx, serveCtx context.Context, stop context.CancelFunc) {
	select {
	case <-sigCtx.Done():
		c.logger.Warn("termination signal received, running final backup")
	case <-serveCtx.Done():
		c.logger.Warn("servers stopped, running final backup")
	}
	defer stop()

	ctx := context.Background()
	if c.grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.grace)
		defer cancel()
	}

	start := time.Now()
	if err := c.hook(ctx); err != nil {
		c.logger.Error("final backup failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	c.logger.Info("final backup done", zap.Duration("took", time.Since(start)))
}

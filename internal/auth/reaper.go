package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultReaperInterval = time.Second

// Reaper periodically deletes expired codes and expired resend limits.
type Reaper struct {
	codes    *CodeStore
	limits   *RateLimiter
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a reaper ticking every interval (one second when zero)
func NewReaper(codes *CodeStore, limits *RateLimiter, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	return &Reaper{codes: codes, limits: limits, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper_started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.logger.Info("reaper_stopped")
			return
		}
	}
}

// Sweep runs a single pass. Failures are logged and retried on the next tick.
func (r *Reaper) Sweep(ctx context.Context) {
	codes, err := r.codes.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("reaper_codes_failed", zap.Error(err))
	}
	limits, err := r.limits.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("reaper_limits_failed", zap.Error(err))
	}
	if codes > 0 || limits > 0 {
		r.logger.Debug("reaper_swept", zap.Int64("codes", codes), zap.Int64("limits", limits))
	}
}

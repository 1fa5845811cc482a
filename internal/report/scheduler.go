package report

// scheduler.go keeps snapshots fresh in the background: every source is
// refreshed on start and then every interval, and history older than the
// retention window is purged after each cycle. Failures are logged and the
// loop keeps running until the context is cancelled.

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig configures StartRefreshScheduler.
type SchedulerConfig struct {
	Interval  time.Duration // default 5m
	Retention time.Duration // history age kept; <= 0 disables purging
}

// StartRefreshScheduler runs until ctx is cancelled. Call it in a goroutine.
func (s *Service) StartRefreshScheduler(ctx context.Context, cfg SchedulerConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	slog.Info("refresh scheduler started",
		"interval", cfg.Interval.String(),
		"retention", cfg.Retention.String(),
		"sources", len(s.sources),
	)

	s.runRefreshJob(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runRefreshJob(ctx, cfg)
		}
	}
}

// runRefreshJob performs one refresh + purge cycle.
func (s *Service) runRefreshJob(ctx context.Context, cfg SchedulerConfig) {
	start := time.Now()

	if err := s.RefreshAll(ctx); err != nil {
		slog.Warn("scheduled refresh had failures", "error", err)
	}

	if cfg.Retention > 0 && ctx.Err() == nil {
		purged, err := s.PurgeHistory(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			slog.Error("history purge failed", "error", err)
		} else if purged > 0 {
			slog.Info("purged refresh history", "entries_purged", purged)
		}
	}

	slog.Debug("refresh job completed", "duration_ms", time.Since(start).Milliseconds())
}

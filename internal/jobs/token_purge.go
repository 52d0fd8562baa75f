// Package jobs contains the background loops the server runs alongside the
// request path. Each job owns its own ticker and stop channel; the router's
// BackgroundServices starts them and shuts them down with the HTTP server.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/docgate/docgate/internal/config"
	"github.com/docgate/docgate/internal/telemetry"
)

// TokenPurger is the slice of the token service the purge job needs.
type TokenPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenPurgeJob periodically deletes inactive token rows whose expiry passed
// the retention cutoff. Rows stay queryable for the retention window so
// owners can still see recently expired tokens in their listing; after that
// they are noise.
type TokenPurgeJob struct {
	purger   TokenPurger
	cfg      config.TokenPurgeConfig
	logger   *slog.Logger
	stopChan chan struct{}
}

// NewTokenPurgeJob creates the purge job. A non-positive interval falls back
// to hourly.
func NewTokenPurgeJob(purger TokenPurger, cfg config.TokenPurgeConfig) *TokenPurgeJob {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &TokenPurgeJob{
		purger:   purger,
		cfg:      cfg,
		logger:   telemetry.Component("jobs.token_purge"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the purge loop. It runs one pass immediately, then repeats on
// the configured interval until ctx is cancelled or Stop is called. When the
// job is disabled it returns at once, so callers may start it
// unconditionally.
func (j *TokenPurgeJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		j.logger.Info("token purge job disabled")
		return
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.logger.Info("token purge job started",
		"interval", j.cfg.Interval.String(),
		"retention", j.cfg.Retention.String(),
	)

	j.runPurge(ctx)

	for {
		select {
		case <-ticker.C:
			j.runPurge(ctx)
		case <-j.stopChan:
			j.logger.Info("token purge job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("token purge job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call even if Start returned early.
func (j *TokenPurgeJob) Stop() {
	close(j.stopChan)
}

func (j *TokenPurgeJob) runPurge(ctx context.Context) {
	count, err := j.purger.PurgeExpired(ctx, j.cfg.Retention)
	if err != nil {
		j.logger.Error("token purge pass failed", "error", err)
		return
	}
	if count > 0 {
		j.logger.Info("purged expired tokens", "count", count)
	}
}

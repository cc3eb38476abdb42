// Package retention prunes old audit data. The janitor periodically deletes
// model-call logs and test-panel logs older than the configured window.
// Agent change logs are never touched.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// MinInterval is the shortest sweep interval the janitor accepts.
const MinInterval = time.Minute

// Purger is the slice of the store the janitor needs.
type Purger interface {
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CycleStats describes one sweep.
type CycleStats struct {
	Cutoff  time.Time
	Purged  int64
	Elapsed time.Duration
	Err     error
}

// Janitor periodically purges logs older than Days.
type Janitor struct {
	store    Purger
	days     int
	interval time.Duration
	now      func() time.Time
}

// NewJanitor creates a janitor keeping days of logs, sweeping every interval.
// A non-positive days disables it.
func NewJanitor(s Purger, days int, interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = time.Hour
	}
	return &Janitor{store: s, days: days, interval: interval, now: time.Now}
}

// Enabled reports whether the janitor has anything to do.
func (j *Janitor) Enabled() bool { return j.days > 0 }

// Start runs sweeps until ctx is canceled. It returns immediately when the
// janitor is disabled.
func (j *Janitor) Start(ctx context.Context) {
	if !j.Enabled() {
		log.Debug().Msg("Retention janitor disabled")
		return
	}
	log.Info().
		Int("retention_days", j.days).
		Dur("interval", j.interval).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and logs its outcome.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := j.now()
	stats := CycleStats{Cutoff: start.AddDate(0, 0, -j.days)}
	if !j.Enabled() {
		return stats
	}

	stats.Purged, stats.Err = j.store.PurgeLogsBefore(ctx, stats.Cutoff)
	stats.Elapsed = time.Since(start)

	switch {
	case stats.Err != nil:
		log.Warn().Err(stats.Err).Time("cutoff", stats.Cutoff).Msg("Retention cycle failed")
	case stats.Purged > 0:
		log.Info().
			Int64("purged_logs", stats.Purged).
			Time("cutoff", stats.Cutoff).
			Dur("elapsed", stats.Elapsed).
			Msg("Retention cycle complete")
	}
	return stats
}

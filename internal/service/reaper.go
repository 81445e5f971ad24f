package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iconidentify/clipdrop/internal/metrics"
	"github.com/iconidentify/clipdrop/internal/repository"
)

// SweepResult summarizes one reaper run.
type SweepResult struct {
	Candidates int
	Deleted    int
	// Retained counts expired assets skipped because a user keeps them.
	Retained int
	Errors   int
}

// Reaper deletes expired assets that no user keeps.
type Reaper struct {
	assets    repository.AssetRepository
	favorites repository.FavoriteRepository
	layout    Layout
	schedule  string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper creates a reaper that runs on the given cron schedule.
func NewReaper(
	assets repository.AssetRepository,
	favorites repository.FavoriteRepository,
	layout Layout,
	schedule string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		assets:    assets,
		favorites: favorites,
		layout:    layout,
		schedule:  schedule,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep runs one pass. Each candidate is deleted with a statement that
// re-checks expiry and retention, so a favorite added after the scan still
// protects the asset. Files are removed only after the record is gone.
func (r *Reaper) Sweep(ctx context.Context) (*SweepResult, error) {
	now := r.now()
	result := &SweepResult{}

	exempt, err := r.favorites.ExemptAssetIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("load exempt assets: %w", err)
	}

	expired, err := r.assets.ListExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("list expired assets: %w", err)
	}
	result.Candidates = len(expired)

	for _, asset := range expired {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, kept := exempt[asset.ID]; kept {
			result.Retained++
			continue
		}

		removed, err := r.assets.DeleteIfExpired(ctx, asset.ID, now)
		if err != nil {
			r.logger.Warn("failed to delete expired asset", "asset_id", asset.ID, "error", err)
			result.Errors++
			continue
		}
		if !removed {
			// Favorited or already deleted since the scan.
			result.Retained++
			continue
		}

		r.layout.RemoveAsset(asset, r.logger)
		result.Deleted++
	}

	return result, nil
}

// runOnce sweeps and logs; errors never escape.
func (r *Reaper) runOnce(ctx context.Context) {
	start := time.Now()
	result, err := r.Sweep(ctx)
	r.metrics.ObserveSweep(err, result.Deleted, result.Retained)
	if err != nil {
		r.logger.Error("retention sweep failed", "error", err)
		return
	}
	if result.Candidates > 0 {
		r.logger.Info("retention sweep complete",
			"candidates", result.Candidates,
			"deleted", result.Deleted,
			"retained", result.Retained,
			"errors", result.Errors,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
}

// Start sweeps once, then schedules recurring sweeps.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	logger := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", r.schedule, err)
	}

	r.runOnce(ctx)

	c.Start()
	r.cron = c
	r.logger.Info("retention reaper started", "schedule", r.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.logger.Info("retention reaper stopped")
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

package recon

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SchedulerConfig configures the periodic batch scan.
type SchedulerConfig struct {
	Reconciler *Reconciler
	Chain      string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Scheduler executes batch scans on a fixed cadence. A tick that finds the
// previous scan still running is skipped rather than queued.
type Scheduler struct {
	reconciler *Reconciler
	chain      string
	interval   time.Duration
	logger     *slog.Logger
}

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reconciler: cfg.Reconciler,
		chain:      cfg.Chain,
		interval:   interval,
		logger:     logger,
	}
}

// Start runs scans until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.reconciler == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.reconciler.Reconcile(ctx, s.chain); err != nil {
		if errors.Is(err, ErrScanInProgress) {
			s.logger.Info("recon scheduler: scan still running, skipping tick", slog.String("chain", s.chain))
			return
		}
		s.logger.Error("recon scheduler run failed", slog.String("chain", s.chain), slog.Any("error", err))
	}
}

// Package reaper expires submissions that stayed PENDING past their deadline
// and retries scoring that never landed for terminal submissions.
package reaper

import (
	"context"
	"errors"
	"sync"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/solution/model"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultInterval  = 30 * time.Second
	defaultDeadline  = 2 * time.Minute
	defaultBatchSize = 500
	defaultRescore   = time.Hour
)

// Store lists submissions the reaper acts on.
type Store interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Submission, error)
	ListUnscored(ctx context.Context, statuses []model.Status, after, before time.Time, limit int) ([]*model.Submission, error)
}

// Expirer moves a PENDING submission to TIMEOUT.
type Expirer interface {
	ExpireSubmission(ctx context.Context, submissionID string) (bool, error)
}

// Rescorer retries the progress update of a terminal submission.
type Rescorer interface {
	ScoredStatuses() []model.Status
	ResumeScoring(ctx context.Context, submissionID string) error
}

// Config holds reaper settings. RescoreWindow bounds how far back unscored
// rows are retried; a negative value disables the rescoring pass.
type Config struct {
	Interval      time.Duration `yaml:"interval"`
	Deadline      time.Duration `yaml:"deadline"`
	BatchSize     int           `yaml:"batchSize"`
	RescoreWindow time.Duration `yaml:"rescoreWindow"`
}

// Reaper periodically times out stale submissions.
type Reaper struct {
	store     Store
	expirer   Expirer
	rescorer  Rescorer
	interval  time.Duration
	deadline  time.Duration
	batchSize int
	window    time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a reaper. A nil rescorer skips the rescoring pass.
func New(store Store, expirer Expirer, rescorer Rescorer, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RescoreWindow == 0 {
		cfg.RescoreWindow = defaultRescore
	}
	return &Reaper{
		store:     store,
		expirer:   expirer,
		rescorer:  rescorer,
		interval:  cfg.Interval,
		deadline:  cfg.Deadline,
		batchSize: cfg.BatchSize,
		window:    cfg.RescoreWindow,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run sweeps every interval until ctx is done or Stop is called.
func (r *Reaper) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info(ctx, "reaper started", zap.Duration("interval", r.interval), zap.Duration("deadline", r.deadline))
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop ends Run and waits for the in-flight sweep. It must only be called
// after Run has been started.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Sweep expires one batch of stale submissions and reports how many it
// moved to TIMEOUT. Submissions that completed concurrently are skipped.
// It then retries scoring for terminal rows that settled at least one
// deadline ago without their progress update.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	cutoff := now.Add(-r.deadline)
	stale, err := r.store.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		metrics.ReaperSweeps.WithLabelValues("error").Inc()
		return 0, err
	}

	expired := 0
	var firstErr error
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := r.expirer.ExpireSubmission(ctx, s.ID)
		if err != nil {
			logger.Warn(ctx, "expire submission failed", zap.String("submission_id", s.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			expired++
		}
	}
	if err := r.rescore(ctx, now, cutoff); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		metrics.ReaperSweeps.WithLabelValues("partial").Inc()
	} else {
		metrics.ReaperSweeps.WithLabelValues("ok").Inc()
	}
	if expired > 0 {
		logger.Info(ctx, "stale submissions expired", zap.Int("count", expired), zap.Time("cutoff", cutoff))
	}
	return expired, firstErr
}

func (r *Reaper) rescore(ctx context.Context, now, before time.Time) error {
	if r.rescorer == nil || r.window < 0 {
		return nil
	}
	statuses := r.rescorer.ScoredStatuses()
	if len(statuses) == 0 {
		return nil
	}
	rows, err := r.store.ListUnscored(ctx, statuses, now.Add(-r.window), before, r.batchSize)
	if err != nil {
		return err
	}

	rescored := 0
	var firstErr error
	for _, s := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.rescorer.ResumeScoring(ctx, s.ID); err != nil {
			logger.Warn(ctx, "resume scoring failed", zap.String("submission_id", s.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rescored++
	}
	if rescored > 0 {
		logger.Info(ctx, "unscored submissions rescored", zap.Int("count", rescored))
	}
	return firstErr
}

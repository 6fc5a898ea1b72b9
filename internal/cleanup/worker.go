// Package cleanup runs the recurring sweep that advances due sessions,
// reclaims expired ones and purges archived rows.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
)

// LockKey names the sweep lease shared by every node.
const LockKey = "cleanup-sweep"

// Config controls the sweep cadence and retention.
type Config struct {
	Interval        time.Duration `yaml:"interval" env:"LIVECLASS_CLEANUP_INTERVAL"`
	BatchSize       int           `yaml:"batch_size" env:"LIVECLASS_CLEANUP_BATCH_SIZE"`
	RetentionWindow time.Duration `yaml:"retention_window" env:"LIVECLASS_CLEANUP_RETENTION_WINDOW"`
	PurgeInterval   time.Duration `yaml:"purge_interval" env:"LIVECLASS_CLEANUP_PURGE_INTERVAL"`
	DeleteOnExpiry  bool          `yaml:"delete_on_expiry" env:"LIVECLASS_CLEANUP_DELETE_ON_EXPIRY"`
	SweepTimeout    time.Duration `yaml:"sweep_timeout" env:"LIVECLASS_CLEANUP_SWEEP_TIMEOUT"`
}

// DefaultConfig sweeps hourly and purges archived rows after 30 days.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		BatchSize:       100,
		RetentionWindow: 30 * 24 * time.Hour,
		PurgeInterval:   24 * time.Hour,
		SweepTimeout:    5 * time.Minute,
	}
}

// Validate checks the sweep settings.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("cleanup batch size must be positive")
	}
	if c.RetentionWindow < 0 || c.PurgeInterval <= 0 {
		return fmt.Errorf("cleanup retention window and purge interval must be positive")
	}
	if c.SweepTimeout <= 0 {
		return fmt.Errorf("cleanup sweep timeout must be positive")
	}
	return nil
}

// SweepReport summarises one pass.
type SweepReport struct {
	Skipped          bool          `json:"skipped"`
	Advanced         int           `json:"advanced"`
	Expired          int           `json:"expired"`
	Deleted          int           `json:"deleted"`
	ProviderFailures int           `json:"provider_failures"`
	Purged           int           `json:"purged"`
	Duration         time.Duration `json:"duration"`
}

// maxBatches bounds one phase of a sweep when rows keep failing.
const maxBatches = 1000

// Worker is constructed, started and stopped explicitly by its owner.
type Worker struct {
	repo     interfaces.SessionRepository
	sessions *session.Manager
	locker   interfaces.Locker
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	sweepMu sync.Mutex
	// lastPurge holds unix nanoseconds of the last purge, 0 before the first.
	lastPurge atomic.Int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWorker creates a stopped worker.
func NewWorker(
	repo interfaces.SessionRepository,
	sessions *session.Manager,
	locker interfaces.Locker,
	config Config,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = defaults.SweepTimeout
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = defaults.PurgeInterval
	}
	return &Worker{
		repo:     repo,
		sessions: sessions,
		locker:   locker,
		config:   config,
		logger:   logger.With(slog.String("component", "cleanup")),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start runs a sweep immediately and then every Interval until Stop.
// Cancelling ctx does not interrupt a sweep; only Stop ends the loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrWorkerAlreadyRunning
	}
	if w.config.Interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}

	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	w.logger.Info("starting cleanup worker", slog.Duration("interval", w.config.Interval))
	go w.run(context.WithoutCancel(ctx), w.stop, w.done)
	return nil
}

// Stop lets the current sweep finish and prevents new ones. It returns
// ctx.Err() if the sweep does not finish in time.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Info("cleanup worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("cleanup sweep failed", slog.String("err", err.Error()))
	}
}

// RunOnce performs one full pass under the sweep lease. Running it twice
// over the same state is a no-op the second time.
func (w *Worker) RunOnce(ctx context.Context) (SweepReport, error) {
	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	var report SweepReport
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.config.SweepTimeout)
	defer cancel()

	release, ok, err := w.locker.TryLock(ctx, LockKey, w.config.SweepTimeout+time.Minute)
	if err != nil {
		return report, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !ok {
		report.Skipped = true
		w.logger.Debug("cleanup sweep skipped, lease held elsewhere")
		return report, nil
	}
	defer release()

	now := w.now().UTC()
	var errs []error

	if err := w.advanceDue(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}
	if err := w.reclaimExpired(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}
	if err := w.purge(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(started)
	w.logger.Info("cleanup sweep finished",
		slog.Int("advanced", report.Advanced),
		slog.Int("expired", report.Expired),
		slog.Int("deleted", report.Deleted),
		slog.Int("provider_failures", report.ProviderFailures),
		slog.Int("purged", report.Purged),
		slog.Duration("duration", report.Duration))

	return report, errors.Join(errs...)
}

// advanceDue persists the clock-driven transitions of sessions no one has read.
func (w *Worker) advanceDue(ctx context.Context, now time.Time, report *SweepReport) error {
	for batch := 0; batch < maxBatches; batch++ {
		due, err := w.repo.ListDueTransitions(ctx, now, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list due transitions: %w", err)
		}

		progressed := 0
		for _, s := range due {
			before := s.Status
			advanced, err := w.sessions.Advance(ctx, s)
			if err != nil {
				w.logger.Warn("failed to advance session", slog.String("session_id", s.ID), slog.String("err", err.Error()))
				continue
			}
			if advanced.Status != before {
				report.Advanced++
				progressed++
			}
		}

		if len(due) < w.config.BatchSize || progressed == 0 {
			return nil
		}
	}
	return nil
}

// reclaimExpired deletes provider meetings best effort and marks sessions
// expired. A provider failure never blocks the database update.
func (w *Worker) reclaimExpired(ctx context.Context, now time.Time, report *SweepReport) error {
	for batch := 0; batch < maxBatches; batch++ {
		expired, err := w.repo.ListExpired(ctx, now, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list expired sessions: %w", err)
		}

		progressed := 0
		for _, s := range expired {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !w.sessions.ReclaimMeeting(ctx, s) {
				report.ProviderFailures++
			}

			changed, err := w.repo.MarkExpired(ctx, s.ID, now)
			if err != nil {
				w.logger.Warn("failed to mark session expired", slog.String("session_id", s.ID), slog.String("err", err.Error()))
				continue
			}
			progressed++
			if changed {
				report.Expired++
				s.IsExpired = true
				w.sessions.PublishExpired(s, now)
			}

			if w.config.DeleteOnExpiry {
				err := w.repo.DeleteSession(ctx, s.ID)
				if err == nil {
					report.Deleted++
				} else if !errors.Is(err, interfaces.ErrSessionNotFound) {
					w.logger.Warn("failed to delete expired session", slog.String("session_id", s.ID), slog.String("err", err.Error()))
				}
			}
		}

		if len(expired) < w.config.BatchSize || progressed == 0 {
			return nil
		}
	}
	return nil
}

// purge removes archived rows past the retention window, at most once per
// PurgeInterval. With DeleteOnExpiry every sweep removes all expired rows,
// which picks up rows whose delete failed during reclaim.
func (w *Worker) purge(ctx context.Context, now time.Time, report *SweepReport) error {
	cutoff := now.Add(-w.config.RetentionWindow)
	if w.config.DeleteOnExpiry {
		cutoff = now
	} else if last := w.lastPurge.Load(); last != 0 && now.Sub(time.Unix(0, last)) < w.config.PurgeInterval {
		return nil
	}

	n, err := w.repo.PurgeExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	w.lastPurge.Store(now.UnixNano())
	report.Purged = n
	return nil
}

// Status is reported on the health endpoint.
type Status struct {
	Running   bool       `json:"running"`
	LastPurge *time.Time `json:"last_purge,omitempty"`
}

// Status returns the worker state without waiting for a running sweep.
func (w *Worker) Status() Status {
	w.mu.Lock()
	status := Status{Running: w.running}
	w.mu.Unlock()

	if last := w.lastPurge.Load(); last != 0 {
		t := time.Unix(0, last).UTC()
		status.LastPurge = &t
	}
	return status
}

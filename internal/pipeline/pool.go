package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PoolConfig sizes and paces the worker pool
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	Backoff      Backoff
}

// DefaultPoolConfig returns a four worker pool polling every second
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		PollInterval: time.Second,
		Backoff:      DefaultBackoff,
	}
}

// Pool runs compilation workers against a JobStore
type Pool struct {
	store    JobStore
	compiler Compiler
	notifier FailureNotifier
	metrics  *Metrics
	log      *zap.SugaredLogger
	cfg      PoolConfig
	now      func() time.Time
}

// PoolOption customizes a Pool
type PoolOption func(*Pool)

// WithNotifier sets where terminal failures are reported
func WithNotifier(n FailureNotifier) PoolOption {
	return func(p *Pool) { p.notifier = n }
}

// WithMetrics sets the pool's metrics
func WithMetrics(m *Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a pool. Terminal failures go to a LogNotifier unless
// WithNotifier says otherwise.
func NewPool(store JobStore, compiler Compiler, cfg PoolConfig, log *zap.SugaredLogger, opts ...PoolOption) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	p := &Pool{
		store:    store,
		compiler: compiler,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = LogNotifier{Log: log}
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Run starts the workers and blocks until ctx is cancelled. Store errors are
// logged and the worker tries again at the next poll.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i+1, uuid.NewString()[:8])
		g.Go(func() error {
			return p.work(ctx, workerID)
		})
	}
	p.log.Infow("compilation pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.log.Infow("compilation pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// drain everything available before sleeping
		for ctx.Err() == nil {
			ran, err := p.RunOnce(ctx, workerID)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				p.log.Errorw("worker store error, backing off until next poll", "worker", workerID, "error", err)
				break
			}
			if !ran {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// available. Compilation failures are handled by the retry policy and do not
// produce an error; only store failures do.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.store.ClaimNext(ctx, workerID, p.now())
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	p.metrics.Claimed.Inc()
	log := p.log.With("job_id", job.JobID, "rule_id", job.RuleID, "worker", workerID)
	log.Debugw("job claimed", "artifact_kind", job.ArtifactKind, "priority", job.Priority, "retry", job.RetryCount)

	start := time.Now()
	artifacts, compileErr := p.compiler.Compile(ctx, job)
	p.metrics.CompileDuration.Observe(time.Since(start).Seconds())

	if compileErr == nil {
		err := p.store.CompleteJob(ctx, job.JobID, artifacts, p.now())
		switch {
		case errors.Is(err, ErrJobNotActive):
			p.metrics.Discarded.Inc()
			log.Infow("job no longer active, result discarded")
			return true, nil
		case err != nil:
			return true, fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
		}
		p.metrics.Completed.Inc()
		log.Debugw("job completed", "artifacts", len(artifacts))
		return true, nil
	}

	return true, p.fail(ctx, job, compileErr, log)
}

// fail applies the retry policy to a failed attempt
func (p *Pool) fail(ctx context.Context, job *CompilationJob, cause error, log *zap.SugaredLogger) error {
	now := p.now()
	attempt := job.RetryCount + 1
	if attempt < job.MaxRetries {
		delay := p.cfg.Backoff.Delay(attempt)
		err := p.store.RetryJob(ctx, job.JobID, cause.Error(), now.Add(delay), now)
		if errors.Is(err, ErrJobNotActive) {
			p.metrics.Discarded.Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", job.JobID, err)
		}
		p.metrics.Retried.Inc()
		log.Warnw("compilation failed, will retry", "attempt", attempt, "max_retries", job.MaxRetries, "delay", delay, "error", cause)
		return nil
	}

	err := p.store.FailJob(ctx, job.JobID, cause.Error(), now)
	if errors.Is(err, ErrJobNotActive) {
		p.metrics.Discarded.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", job.JobID, err)
	}
	p.metrics.Failed.Inc()
	failed := copyJob(job)
	failed.RetryCount = attempt
	failed.Status = JobFailed
	failed.ErrorMessage = stringPtr(cause.Error())
	p.notifier.NotifyFailure(ctx, failed, cause)
	return nil
}

// Drain processes jobs on the calling goroutine until none is claimable and
// returns how many were handled. Jobs waiting out a backoff are left alone.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	workerID := "drain-" + uuid.NewString()[:8]
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ran, err := p.RunOnce(ctx, workerID)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}

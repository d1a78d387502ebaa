package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig holds the queueing policy
type ServiceConfig struct {
	DefaultPriority int
	HotPriority     int
	MaxRetries      int
	ArtifactKind    ArtifactKind
}

// DefaultServiceConfig returns the standard policy
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultPriority: DefaultPriority,
		HotPriority:     HighestPriority + 1,
		MaxRetries:      3,
		ArtifactKind:    ArtifactBoth,
	}
}

// Service reacts to rule lifecycle events by queueing, invalidating and
// cancelling compilation work
type Service struct {
	store   JobStore
	cfg     ServiceConfig
	log     *zap.SugaredLogger
	metrics *Metrics
	now     func() time.Time
}

// NewService creates a Service. metrics may be nil.
func NewService(store JobStore, cfg ServiceConfig, log *zap.SugaredLogger, metrics *Metrics) *Service {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = DefaultPriority
	}
	if cfg.HotPriority == 0 {
		cfg.HotPriority = HighestPriority + 1
	}
	if cfg.ArtifactKind == "" {
		cfg.ArtifactKind = ArtifactBoth
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{store: store, cfg: cfg, log: log, metrics: metrics, now: time.Now}
}

func (s *Service) enqueue(ctx context.Context, ruleID string, priority int, reason string) (*CompilationJob, error) {
	now := s.now()
	job := &CompilationJob{
		JobID:        NewJobID(),
		RuleID:       ruleID,
		ArtifactKind: s.cfg.ArtifactKind,
		Priority:     ClampPriority(priority),
		Status:       JobPending,
		MaxRetries:   s.cfg.MaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
		AvailableAt:  now,
	}
	stored, err := s.store.EnqueueJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue compilation of rule %s: %w", ruleID, err)
	}
	s.metrics.Enqueued.WithLabelValues(reason).Inc()
	s.log.Debugw("compilation queued", "rule_id", ruleID, "job_id", stored.JobID, "priority", stored.Priority, "reason", reason)
	return stored, nil
}

// OnRuleCreated queues the first compilation of a new rule
func (s *Service) OnRuleCreated(ctx context.Context, ruleID string) (*CompilationJob, error) {
	return s.enqueue(ctx, ruleID, s.cfg.DefaultPriority, "created")
}

// OnRuleEdited invalidates the rule's artifacts, clearing their payload, and
// queues a recompilation at the default priority. A pending job for the
// same rule keeps the more urgent of the two priorities.
func (s *Service) OnRuleEdited(ctx context.Context, ruleID string) (*CompilationJob, error) {
	n, err := s.store.InvalidateArtifacts(ctx, ruleID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate artifacts of rule %s: %w", ruleID, err)
	}
	if n > 0 {
		s.log.Infow("artifacts invalidated", "rule_id", ruleID, "count", n)
	}
	return s.enqueue(ctx, ruleID, s.cfg.DefaultPriority, "edited")
}

// OnRuleDeleted cancels outstanding jobs and invalidates artifacts. A worker
// still compiling the rule will find its job cancelled and discard the result.
func (s *Service) OnRuleDeleted(ctx context.Context, ruleID string) error {
	now := s.now()
	n, err := s.store.CancelJobs(ctx, ruleID, now)
	if err != nil {
		return fmt.Errorf("failed to cancel jobs of rule %s: %w", ruleID, err)
	}
	if _, err := s.store.InvalidateArtifacts(ctx, ruleID, now); err != nil {
		return fmt.Errorf("failed to invalidate artifacts of rule %s: %w", ruleID, err)
	}
	s.log.Infow("rule deleted", "rule_id", ruleID, "cancelled_jobs", n)
	return nil
}

// Promote marks a rule hot. Nothing is queued when a valid artifact of every
// kind already exists; otherwise the rule is queued, or its pending job
// raised, at the hot priority.
func (s *Service) Promote(ctx context.Context, ruleID string) (*CompilationJob, error) {
	fresh := true
	for _, kind := range s.cfg.ArtifactKind.Kinds() {
		a, err := s.store.GetArtifact(ctx, ruleID, kind)
		if errors.Is(err, ErrArtifactNotFound) {
			fresh = false
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check artifacts of rule %s: %w", ruleID, err)
		}
		if !a.Valid {
			fresh = false
			break
		}
	}
	if fresh {
		return nil, nil
	}
	return s.enqueue(ctx, ruleID, s.cfg.HotPriority, "promoted")
}

// Jobs lists jobs matching filter
func (s *Service) Jobs(ctx context.Context, filter JobFilter) ([]*CompilationJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// Artifact returns the stored artifact of a rule
func (s *Service) Artifact(ctx context.Context, ruleID string, kind ArtifactKind) (*CompiledArtifact, error) {
	return s.store.GetArtifact(ctx, ruleID, kind)
}

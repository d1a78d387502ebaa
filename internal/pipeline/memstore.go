package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryJobStore is a JobStore kept in process memory. It backs mock mode
// and tests; one mutex makes every operation atomic.
type MemoryJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*CompilationJob
	artifacts map[string]*CompiledArtifact
}

// NewMemoryJobStore creates an empty store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:      make(map[string]*CompilationJob),
		artifacts: make(map[string]*CompiledArtifact),
	}
}

func artifactKey(ruleID string, kind ArtifactKind) string {
	return ruleID + "/" + string(kind)
}

func copyJob(j *CompilationJob) *CompilationJob {
	cp := *j
	return &cp
}

// find returns the job for key in status, if any. Callers hold mu.
func (m *MemoryJobStore) find(key string, status JobStatus) *CompilationJob {
	for _, j := range m.jobs {
		if j.Status == status && j.Key() == key {
			return j
		}
	}
	return nil
}

func (m *MemoryJobStore) EnqueueJob(ctx context.Context, job *CompilationJob) (*CompilationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.find(job.Key(), JobPending); existing != nil {
		if job.Priority < existing.Priority {
			existing.Priority = job.Priority
			existing.UpdatedAt = job.UpdatedAt
		}
		return copyJob(existing), nil
	}

	stored := copyJob(job)
	if stored.JobID == "" {
		stored.JobID = NewJobID()
	}
	if _, dup := m.jobs[stored.JobID]; dup {
		return nil, fmt.Errorf("compilation job %s already exists", stored.JobID)
	}
	stored.Status = JobPending
	m.jobs[stored.JobID] = stored
	return copyJob(stored), nil
}

func (m *MemoryJobStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*CompilationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *CompilationJob
	for _, j := range m.jobs {
		if j.Status != JobPending || j.AvailableAt.After(now) {
			continue
		}
		if m.find(j.Key(), JobProcessing) != nil {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJob
	}
	best.Status = JobProcessing
	best.WorkerID = stringPtr(workerID)
	best.StartedAt = timePtr(now)
	best.UpdatedAt = now
	return copyJob(best), nil
}

// claimsBefore orders jobs by priority, then age, then ID
func claimsBefore(a, b *CompilationJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.JobID < b.JobID
}

// processing returns the job if it is processing. Callers hold mu.
func (m *MemoryJobStore) processing(jobID string) (*CompilationJob, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if j.Status != JobProcessing {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotActive, jobID, j.Status)
	}
	return j, nil
}

func (m *MemoryJobStore) CompleteJob(ctx context.Context, jobID string, artifacts []*CompiledArtifact, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.processing(jobID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		cp := *a
		cp.Payload = append([]byte(nil), a.Payload...)
		m.artifacts[artifactKey(a.RuleID, a.ArtifactKind)] = &cp
	}
	j.Status = JobCompleted
	j.ErrorMessage = nil
	j.FinishedAt = timePtr(now)
	j.UpdatedAt = now
	return nil
}

func (m *MemoryJobStore) RetryJob(ctx context.Context, jobID, message string, availableAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.processing(jobID)
	if err != nil {
		return err
	}
	j.RetryCount++
	j.ErrorMessage = stringPtr(message)
	j.UpdatedAt = now
	if m.find(j.Key(), JobPending) != nil {
		j.Status = JobCancelled
		j.FinishedAt = timePtr(now)
		return nil
	}
	j.Status = JobPending
	j.AvailableAt = availableAt
	j.WorkerID = nil
	j.StartedAt = nil
	return nil
}

func (m *MemoryJobStore) FailJob(ctx context.Context, jobID, message string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.processing(jobID)
	if err != nil {
		return err
	}
	j.RetryCount++
	j.Status = JobFailed
	j.ErrorMessage = stringPtr(message)
	j.FinishedAt = timePtr(now)
	j.UpdatedAt = now
	return nil
}

func (m *MemoryJobStore) CancelJobs(ctx context.Context, ruleID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.RuleID == ruleID && (j.Status == JobPending || j.Status == JobProcessing) {
			j.Status = JobCancelled
			j.FinishedAt = timePtr(now)
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryJobStore) GetJob(ctx context.Context, jobID string) (*CompilationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return copyJob(j), nil
}

// ListJobs returns matching jobs newest first
func (m *MemoryJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*CompilationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*CompilationJob
	for _, j := range m.jobs {
		if filter.Matches(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobID > out[b].JobID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryJobStore) InvalidateArtifacts(ctx context.Context, ruleID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.artifacts {
		if a.RuleID == ruleID && a.Valid {
			a.Valid = false
			a.Payload = nil
			n++
		}
	}
	return n, nil
}

func (m *MemoryJobStore) GetArtifact(ctx context.Context, ruleID string, kind ArtifactKind) (*CompiledArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.artifacts[artifactKey(ruleID, kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactKey(ruleID, kind))
	}
	cp := *a
	cp.Payload = append([]byte(nil), a.Payload...)
	return &cp, nil
}

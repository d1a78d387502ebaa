// Package pipeline compiles hot derived-attribute rules into cached
// artifacts in the background. Jobs are queued per (rule, artifact kind),
// claimed atomically by workers, retried with exponential backoff and
// invalidated when the rule is edited. The pipeline is an optimization only:
// evaluation never depends on an artifact being present.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ArtifactKind selects what a job produces
type ArtifactKind string

const (
	// ArtifactSource is the canonical DSL text of every rule body
	ArtifactSource ArtifactKind = "source"
	// ArtifactOptimized is the constant-folded rule set encoded as BSON
	ArtifactOptimized ArtifactKind = "optimized"
	// ArtifactBoth produces one artifact of each kind
	ArtifactBoth ArtifactKind = "both"
)

// Kinds expands ArtifactBoth into the stored artifact kinds
func (k ArtifactKind) Kinds() []ArtifactKind {
	if k == ArtifactBoth {
		return []ArtifactKind{ArtifactSource, ArtifactOptimized}
	}
	return []ArtifactKind{k}
}

// ParseArtifactKind converts a stored kind name
func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch k := ArtifactKind(s); k {
	case ArtifactSource, ArtifactOptimized, ArtifactBoth:
		return k, nil
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// JobStatus is the lifecycle state of a CompilationJob
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Priorities run from 1 (most urgent) to 10
const (
	HighestPriority = 1
	LowestPriority  = 10
	DefaultPriority = 5
)

// ClampPriority forces p into the valid range
func ClampPriority(p int) int {
	switch {
	case p < HighestPriority:
		return HighestPriority
	case p > LowestPriority:
		return LowestPriority
	}
	return p
}

// CompilationJob is one queued compilation of a rule
type CompilationJob struct {
	JobID        string       `json:"job_id" db:"job_id"`
	RuleID       string       `json:"rule_id" db:"rule_id"`
	ArtifactKind ArtifactKind `json:"artifact_kind" db:"artifact_kind"`
	Priority     int          `json:"priority" db:"priority"`
	Status       JobStatus    `json:"status" db:"status"`
	RetryCount   int          `json:"retry_count" db:"retry_count"`
	MaxRetries   int          `json:"max_retries" db:"max_retries"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`
	WorkerID     *string      `json:"worker_id,omitempty" db:"worker_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
	AvailableAt  time.Time    `json:"available_at" db:"available_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}

// Key identifies the (rule, artifact kind) pair a job compiles
func (j *CompilationJob) Key() string {
	return j.RuleID + "/" + string(j.ArtifactKind)
}

// CompiledArtifact is the cached output of a completed job
type CompiledArtifact struct {
	RuleID          string       `json:"rule_id" db:"rule_id"`
	ArtifactKind    ArtifactKind `json:"artifact_kind" db:"artifact_kind"`
	Version         int          `json:"version" db:"version"`
	Payload         []byte       `json:"payload,omitempty" db:"payload"`
	SourceHash      string       `json:"source_hash" db:"source_hash"`
	GrammarVersion  int64        `json:"grammar_version" db:"grammar_version"`
	CompilerVersion string       `json:"compiler_version" db:"compiler_version"`
	CompiledAt      time.Time    `json:"compiled_at" db:"compiled_at"`
	Valid           bool         `json:"valid" db:"valid"`
}

// NewJobID returns a time-sortable job identifier
func NewJobID() string {
	return ulid.Make().String()
}

// Common errors
var (
	// ErrNoJob is returned by ClaimNext when nothing is claimable
	ErrNoJob = errors.New("no compilation job available")
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("compilation job not found")
	// ErrJobNotActive is returned when completing or failing a job that is
	// no longer processing, for example because its rule was deleted
	ErrJobNotActive = errors.New("compilation job is not processing")
	// ErrArtifactNotFound is returned when no artifact exists for a rule
	ErrArtifactNotFound = errors.New("compiled artifact not found")
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	RuleID string
	Status JobStatus
	Limit  int
}

// Matches reports whether job passes the filter, ignoring Limit
func (f JobFilter) Matches(job *CompilationJob) bool {
	if f.RuleID != "" && job.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}

// JobStore persists jobs and artifacts. Implementations must make
// ClaimNext atomic and keep at most one pending and one processing job per
// (rule, artifact kind).
type JobStore interface {
	// EnqueueJob inserts job as pending. When a pending job already exists
	// for the same rule and kind, its priority is lowered to the minimum of
	// both and the existing job is returned instead.
	EnqueueJob(ctx context.Context, job *CompilationJob) (*CompilationJob, error)

	// ClaimNext moves the most urgent available pending job to processing.
	// A job is skipped while another job for the same key is processing.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*CompilationJob, error)

	// CompleteJob marks a processing job completed and stores its artifacts
	// in one transaction
	CompleteJob(ctx context.Context, jobID string, artifacts []*CompiledArtifact, now time.Time) error

	// RetryJob increments the retry count of a processing job and returns it
	// to pending at availableAt. If a newer pending job exists for the same
	// key, the job is cancelled instead since the newer one supersedes it.
	RetryJob(ctx context.Context, jobID, message string, availableAt, now time.Time) error

	// FailJob increments the retry count and marks a processing job failed
	FailJob(ctx context.Context, jobID, message string, now time.Time) error

	// CancelJobs cancels every pending and processing job for a rule
	CancelJobs(ctx context.Context, ruleID string, now time.Time) (int, error)

	GetJob(ctx context.Context, jobID string) (*CompilationJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*CompilationJob, error)

	// InvalidateArtifacts marks a rule's artifacts invalid and clears their payload
	InvalidateArtifacts(ctx context.Context, ruleID string, now time.Time) (int, error)
	GetArtifact(ctx context.Context, ruleID string, kind ArtifactKind) (*CompiledArtifact, error)
}

func stringPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

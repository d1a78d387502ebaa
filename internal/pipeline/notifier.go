package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// FailureNotifier is told when a job fails for good, so the rule author can
// be informed. Terminal jobs are never re-enqueued automatically.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, job *CompilationJob, err error)
}

// LogNotifier reports terminal failures through the logger
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) NotifyFailure(ctx context.Context, job *CompilationJob, err error) {
	n.Log.Errorw("compilation failed permanently",
		"job_id", job.JobID,
		"rule_id", job.RuleID,
		"artifact_kind", job.ArtifactKind,
		"retries", job.RetryCount,
		"error", err)
}

// RecordingNotifier keeps every notification in memory
type RecordingNotifier struct {
	mu       sync.Mutex
	failures []*CompilationJob
}

func (n *RecordingNotifier) NotifyFailure(ctx context.Context, job *CompilationJob, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, copyJob(job))
}

// Failures returns the jobs reported so far
func (n *RecordingNotifier) Failures() []*CompilationJob {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*CompilationJob(nil), n.failures...)
}

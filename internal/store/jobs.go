package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"derived-dsl/internal/pipeline"
)

// =============================================================================
// Compilation Job Store Implementation
// =============================================================================

const jobColumns = `job_id, rule_id, artifact_kind, priority, status, retry_count, max_retries,
	error_message, worker_id, created_at, updated_at, available_at, started_at, finished_at`

const artifactColumns = `rule_id, artifact_kind, version, payload, source_hash, grammar_version,
	compiler_version, compiled_at, valid`

// EnqueueJob inserts a pending job or, when one is already pending for the
// same rule and kind, lowers its priority to the minimum of both.
func (s *Store) EnqueueJob(ctx context.Context, job *pipeline.CompilationJob) (*pipeline.CompilationJob, error) {
	if job.JobID == "" {
		job.JobID = pipeline.NewJobID()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = job.CreatedAt
	}

	query := s.q(fmt.Sprintf(`INSERT INTO compilation_jobs
			(job_id, rule_id, artifact_kind, priority, status, retry_count, max_retries, created_at, updated_at, available_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)
		ON CONFLICT (rule_id, artifact_kind, status) WHERE status IN ('pending', 'processing')
		DO UPDATE SET
			priority = %[1]s(compilation_jobs.priority, excluded.priority),
			updated_at = CASE WHEN excluded.priority < compilation_jobs.priority
				THEN excluded.updated_at ELSE compilation_jobs.updated_at END
		RETURNING `+jobColumns, s.least()), job.JobID, job.RuleID)

	var stored pipeline.CompilationJob
	err := s.db.GetContext(ctx, &stored, query,
		job.JobID, job.RuleID, job.ArtifactKind, pipeline.ClampPriority(job.Priority), job.MaxRetries,
		job.CreatedAt.UTC(), job.CreatedAt.UTC(), job.AvailableAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue compilation job: %w", err)
	}
	return &stored, nil
}

// ClaimNext atomically moves the most urgent available job to processing
func (s *Store) ClaimNext(ctx context.Context, workerID string, now time.Time) (*pipeline.CompilationJob, error) {
	now = now.UTC()
	query := s.q(`UPDATE compilation_jobs
		SET status = 'processing', worker_id = ?, started_at = ?, updated_at = ?
		WHERE job_id = (
			SELECT j.job_id FROM compilation_jobs j
			WHERE j.status = 'pending' AND j.available_at <= ?
			  AND NOT EXISTS (
				SELECT 1 FROM compilation_jobs p
				WHERE p.rule_id = j.rule_id AND p.artifact_kind = j.artifact_kind AND p.status = 'processing')
			ORDER BY j.priority, j.created_at, j.job_id
			LIMIT 1`+s.forUpdate(true)+`)
		AND status = 'pending'
		RETURNING `+jobColumns, workerID)

	var job pipeline.CompilationJob
	err := s.db.GetContext(ctx, &job, query, workerID, now, now, now)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pipeline.ErrNoJob
	case isUniqueViolation(err):
		// another worker started the same rule between our read and write
		return nil, pipeline.ErrNoJob
	case err != nil:
		return nil, fmt.Errorf("failed to claim compilation job: %w", err)
	}
	return &job, nil
}

// activeJob loads a job inside tx and checks that it is processing
func (s *Store) activeJob(ctx context.Context, tx *sqlx.Tx, jobID string) (*pipeline.CompilationJob, error) {
	var job pipeline.CompilationJob
	query := s.q(`SELECT `+jobColumns+` FROM compilation_jobs WHERE job_id = ?`+s.forUpdate(false), jobID)
	err := tx.GetContext(ctx, &job, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load compilation job: %w", err)
	}
	if job.Status != pipeline.JobProcessing {
		return nil, fmt.Errorf("%w: %s is %s", pipeline.ErrJobNotActive, jobID, job.Status)
	}
	return &job, nil
}

// CompleteJob marks the job completed and upserts its artifacts in one transaction
func (s *Store) CompleteJob(ctx context.Context, jobID string, artifacts []*pipeline.CompiledArtifact, now time.Time) error {
	now = now.UTC()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.activeJob(ctx, tx, jobID); err != nil {
			return err
		}

		upsert := s.q(`INSERT INTO compiled_artifacts (` + artifactColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (rule_id, artifact_kind) DO UPDATE SET
				version = excluded.version,
				payload = excluded.payload,
				source_hash = excluded.source_hash,
				grammar_version = excluded.grammar_version,
				compiler_version = excluded.compiler_version,
				compiled_at = excluded.compiled_at,
				valid = excluded.valid`)
		for _, a := range artifacts {
			_, err := tx.ExecContext(ctx, upsert,
				a.RuleID, a.ArtifactKind, a.Version, a.Payload, a.SourceHash, a.GrammarVersion,
				a.CompilerVersion, a.CompiledAt.UTC(), a.Valid)
			if err != nil {
				return fmt.Errorf("failed to store %s artifact of rule %s: %w", a.ArtifactKind, a.RuleID, err)
			}
		}

		_, err := tx.ExecContext(ctx, s.q(`UPDATE compilation_jobs
			SET status = 'completed', error_message = NULL, finished_at = ?, updated_at = ?
			WHERE job_id = ?`, jobID), now, now, jobID)
		if err != nil {
			return fmt.Errorf("failed to complete compilation job: %w", err)
		}
		return nil
	})
}

// RetryJob returns a processing job to pending, or cancels it when a newer
// pending job for the same rule and kind supersedes it
func (s *Store) RetryJob(ctx context.Context, jobID, message string, availableAt, now time.Time) error {
	now = now.UTC()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		job, err := s.activeJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		var pending int
		err = tx.GetContext(ctx, &pending, s.q(`SELECT COUNT(*) FROM compilation_jobs
			WHERE rule_id = ? AND artifact_kind = ? AND status = 'pending'`), job.RuleID, job.ArtifactKind)
		if err != nil {
			return fmt.Errorf("failed to check pending jobs: %w", err)
		}

		if pending > 0 {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE compilation_jobs
				SET status = 'cancelled', retry_count = retry_count + 1, error_message = ?, finished_at = ?, updated_at = ?
				WHERE job_id = ?`), message, now, now, jobID)
		} else {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE compilation_jobs
				SET status = 'pending', retry_count = retry_count + 1, error_message = ?, available_at = ?,
					worker_id = NULL, started_at = NULL, updated_at = ?
				WHERE job_id = ?`), message, availableAt.UTC(), now, jobID)
		}
		if err != nil {
			return fmt.Errorf("failed to requeue compilation job: %w", err)
		}
		return nil
	})
}

// FailJob marks a processing job as terminally failed
func (s *Store) FailJob(ctx context.Context, jobID, message string, now time.Time) error {
	now = now.UTC()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.activeJob(ctx, tx, jobID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`UPDATE compilation_jobs
			SET status = 'failed', retry_count = retry_count + 1, error_message = ?, finished_at = ?, updated_at = ?
			WHERE job_id = ?`), message, now, now, jobID)
		if err != nil {
			return fmt.Errorf("failed to mark compilation job failed: %w", err)
		}
		return nil
	})
}

func (s *Store) CancelJobs(ctx context.Context, ruleID string, now time.Time) (int, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE compilation_jobs
		SET status = 'cancelled', finished_at = ?, updated_at = ?
		WHERE rule_id = ? AND status IN ('pending', 'processing')`, ruleID), now, now, ruleID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel compilation jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error checking cancel result: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*pipeline.CompilationJob, error) {
	var job pipeline.CompilationJob
	err := s.db.GetContext(ctx, &job, s.q(`SELECT `+jobColumns+` FROM compilation_jobs WHERE job_id = ?`, jobID), jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compilation job: %w", err)
	}
	return &job, nil
}

// ListJobs returns matching jobs newest first
func (s *Store) ListJobs(ctx context.Context, filter pipeline.JobFilter) ([]*pipeline.CompilationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM compilation_jobs WHERE 1 = 1`
	var args []interface{}
	if filter.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY job_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var jobs []*pipeline.CompilationJob
	if err := s.db.SelectContext(ctx, &jobs, s.q(query, args...), args...); err != nil {
		return nil, fmt.Errorf("failed to list compilation jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) InvalidateArtifacts(ctx context.Context, ruleID string, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE compiled_artifacts
		SET valid = FALSE, payload = NULL
		WHERE rule_id = ? AND valid = TRUE`, ruleID), ruleID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate artifacts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error checking invalidate result: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetArtifact(ctx context.Context, ruleID string, kind pipeline.ArtifactKind) (*pipeline.CompiledArtifact, error) {
	var a pipeline.CompiledArtifact
	err := s.db.GetContext(ctx, &a, s.q(`SELECT `+artifactColumns+` FROM compiled_artifacts
		WHERE rule_id = ? AND artifact_kind = ?`, ruleID, kind), ruleID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", pipeline.ErrArtifactNotFound, ruleID, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &a, nil
}

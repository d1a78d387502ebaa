package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/dictionary/seed"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/pipeline"
	"derived-dsl/internal/vocabulary"
)

type backend interface {
	vocabulary.GrammarRepository
	dictionary.Repository
	pipeline.JobStore
}

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// runContract exercises every repository against a fresh backend
func runContract(t *testing.T, newBackend func(t *testing.T) backend) {
	t.Run("grammar", func(t *testing.T) { testGrammarContract(t, newBackend(t)) })
	t.Run("attributes", func(t *testing.T) { testAttributeContract(t, newBackend(t)) })
	t.Run("jobs", func(t *testing.T) { testJobContract(t, newBackend(t)) })
	t.Run("retry", func(t *testing.T) { testRetryContract(t, newBackend(t)) })
	t.Run("concurrent claims", func(t *testing.T) { testConcurrentClaims(t, newBackend(t)) })
}

func testGrammarContract(t *testing.T, b backend) {
	ctx := context.Background()
	require.NoError(t, vocabulary.SeedDefaultGrammar(ctx, b))
	rules, err := b.ListGrammarRules(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rules, len(vocabulary.DefaultGrammarRules()))

	// seeding twice adds nothing
	require.NoError(t, vocabulary.SeedDefaultGrammar(ctx, b))
	again, err := b.ListGrammarRules(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, again, len(rules))

	dup := *vocabulary.DefaultGrammarRules()[0]
	dup.RuleID = ""
	assert.ErrorIs(t, b.CreateGrammarRule(ctx, &dup), ErrDuplicate)

	_, err = b.GetGrammarRuleByName(ctx, "no_such_rule")
	assert.ErrorIs(t, err, vocabulary.ErrNotFound)

	reg := grammar.NewRegistry(b, nil)
	spec, err := reg.Reload(ctx)
	require.NoError(t, err)
	_, err = reg.Parse("(100 + 50) * 2")
	require.NoError(t, err)

	// a new function row is enough for the parser to accept it
	_, err = reg.Parse("DOUBLE(21)")
	var perr *grammar.ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)

	double := &vocabulary.GrammarExtension{
		Name: "DOUBLE", Kind: vocabulary.ExtensionFunction, Category: "function_name",
		Signature: "DOUBLE(x)", Active: true,
	}
	require.NoError(t, b.CreateGrammarExtension(ctx, double))
	assert.ErrorIs(t, b.CreateGrammarExtension(ctx, &vocabulary.GrammarExtension{
		Name: "DOUBLE", Kind: vocabulary.ExtensionFunction, Category: "function_name", Signature: "DOUBLE(x)", Active: true,
	}), ErrDuplicate)

	next, err := reg.Reload(ctx)
	require.NoError(t, err)
	assert.Greater(t, next.Version(), spec.Version())
	_, err = reg.Parse("DOUBLE(21)")
	require.NoError(t, err)

	require.NoError(t, b.DeleteGrammarExtension(ctx, double.ExtensionID))
	assert.ErrorIs(t, b.DeleteGrammarExtension(ctx, double.ExtensionID), vocabulary.ErrNotFound)

	rule, err := b.GetGrammarRuleByName(ctx, "COMMENT")
	require.NoError(t, err)
	rule.Active = false
	require.NoError(t, b.UpdateGrammarRule(ctx, rule))
	active := true
	live, err := b.ListGrammarRules(ctx, &active)
	require.NoError(t, err)
	assert.Len(t, live, len(rules)-1)
}

func testAttributeContract(t *testing.T, b backend) {
	ctx := context.Background()
	for _, def := range seed.GenerateKYCAttributes() {
		require.NoError(t, b.CreateAttribute(ctx, def))
	}

	score, err := b.GetAttributeByName(ctx, "kyc_risk_score")
	require.NoError(t, err)
	assert.Equal(t, dictionary.StableID("kyc_risk_score"), score.AttributeID)
	assert.Equal(t, dictionary.SourceDerived, score.Source)
	assert.Len(t, score.Rules, 5)
	assert.Equal(t, 1, score.Version)
	assert.Equal(t, score.ComputeHash(), score.SourceHash)

	byID, err := b.GetAttributeByID(ctx, score.AttributeID)
	require.NoError(t, err)
	assert.Equal(t, score.Rules, byID.Rules)
	assert.Equal(t, score.Dependencies, byID.Dependencies)

	dup := &dictionary.AttributeDefinition{Name: "pep_flag", Type: "BOOLEAN", Source: dictionary.SourceBusiness, AttributeID: "other-id"}
	assert.ErrorIs(t, b.CreateAttribute(ctx, dup), dictionary.ErrDuplicateName)

	// an unchanged definition keeps its version; an edit bumps it
	require.NoError(t, b.UpdateAttribute(ctx, score))
	assert.Equal(t, 1, score.Version)
	score.Rules = append(score.Rules, "0")
	require.NoError(t, b.UpdateAttribute(ctx, score))
	assert.Equal(t, 2, score.Version)
	stored, err := b.GetAttributeByName(ctx, "kyc_risk_score")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Len(t, stored.Rules, 6)

	derived, err := b.ListAttributes(ctx, &dictionary.ListOptions{Source: dictionary.SourceDerived})
	require.NoError(t, err)
	var names []string
	for _, d := range derived {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"investor_display_name", "kyc_risk_rating", "kyc_risk_score", "lei_valid"}, names)

	n, err := b.CountAttributes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	page, err := b.ListAttributes(ctx, &dictionary.ListOptions{Limit: 3, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 3)

	some, err := b.ListAttributes(ctx, &dictionary.ListOptions{Names: []string{"pep_flag", "lei_valid"}})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	require.NoError(t, b.DeleteAttribute(ctx, score.AttributeID))
	_, err = b.GetAttributeByID(ctx, score.AttributeID)
	assert.ErrorIs(t, err, dictionary.ErrAttributeNotFound)
	assert.ErrorIs(t, b.DeleteAttribute(ctx, score.AttributeID), dictionary.ErrAttributeNotFound)
}

func contractJob(ruleID string, priority int, created time.Time) *pipeline.CompilationJob {
	return &pipeline.CompilationJob{
		JobID:        pipeline.NewJobID(),
		RuleID:       ruleID,
		ArtifactKind: pipeline.ArtifactBoth,
		Priority:     priority,
		Status:       pipeline.JobPending,
		MaxRetries:   3,
		CreatedAt:    created,
		UpdatedAt:    created,
		AvailableAt:  created,
	}
}

func testJobContract(t *testing.T, b backend) {
	ctx := context.Background()

	first, err := b.EnqueueJob(ctx, contractJob("r1", 5, base))
	require.NoError(t, err)
	upserted, err := b.EnqueueJob(ctx, contractJob("r1", 3, base.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, first.JobID, upserted.JobID)
	assert.Equal(t, 3, upserted.Priority)
	kept, err := b.EnqueueJob(ctx, contractJob("r1", 9, base.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 3, kept.Priority)

	_, err = b.EnqueueJob(ctx, contractJob("r2", 1, base.Add(time.Minute)))
	require.NoError(t, err)

	// r2 is more urgent
	claimed, err := b.ClaimNext(ctx, "w1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "r2", claimed.RuleID)
	assert.Equal(t, pipeline.JobProcessing, claimed.Status)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "w1", *claimed.WorkerID)

	r1, err := b.ClaimNext(ctx, "w2", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.JobID, r1.JobID)

	// an edit during compilation queues a second job that waits its turn
	queued, err := b.EnqueueJob(ctx, contractJob("r1", 5, base.Add(3*time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, r1.JobID, queued.JobID)
	_, err = b.ClaimNext(ctx, "w3", base.Add(time.Hour))
	assert.ErrorIs(t, err, pipeline.ErrNoJob)

	artifacts := []*pipeline.CompiledArtifact{
		{RuleID: "r1", ArtifactKind: pipeline.ArtifactSource, Version: 1, Payload: []byte("1 + 1"), SourceHash: "h", GrammarVersion: 1, CompilerVersion: "t", CompiledAt: base, Valid: true},
		{RuleID: "r1", ArtifactKind: pipeline.ArtifactOptimized, Version: 1, Payload: []byte{0x01, 0x02}, SourceHash: "h", GrammarVersion: 1, CompilerVersion: "t", CompiledAt: base, Valid: true},
	}
	require.NoError(t, b.CompleteJob(ctx, r1.JobID, artifacts, base.Add(time.Hour)))
	assert.ErrorIs(t, b.CompleteJob(ctx, r1.JobID, nil, base.Add(time.Hour)), pipeline.ErrJobNotActive)
	assert.ErrorIs(t, b.CompleteJob(ctx, "missing", nil, base), pipeline.ErrJobNotFound)

	done, err := b.GetJob(ctx, r1.JobID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobCompleted, done.Status)
	require.NotNil(t, done.FinishedAt)

	a, err := b.GetArtifact(ctx, "r1", pipeline.ArtifactOptimized)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, a.Payload)
	assert.True(t, a.Valid)

	next, err := b.ClaimNext(ctx, "w3", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, queued.JobID, next.JobID)

	n, err := b.InvalidateArtifacts(ctx, "r1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	a, err = b.GetArtifact(ctx, "r1", pipeline.ArtifactSource)
	require.NoError(t, err)
	assert.False(t, a.Valid)
	assert.Empty(t, a.Payload)

	n, err = b.CancelJobs(ctx, "r1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, b.FailJob(ctx, next.JobID, "late", base.Add(2*time.Hour)), pipeline.ErrJobNotActive)

	all, err := b.ListJobs(ctx, pipeline.JobFilter{RuleID: "r1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	limited, err := b.ListJobs(ctx, pipeline.JobFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, next.JobID, limited[0].JobID, "newest first")

	_, err = b.GetArtifact(ctx, "r9", pipeline.ArtifactSource)
	assert.ErrorIs(t, err, pipeline.ErrArtifactNotFound)
}

func testRetryContract(t *testing.T, b backend) {
	ctx := context.Background()

	job, err := b.EnqueueJob(ctx, contractJob("r1", 5, base))
	require.NoError(t, err)
	_, err = b.ClaimNext(ctx, "w1", base)
	require.NoError(t, err)

	require.NoError(t, b.RetryJob(ctx, job.JobID, "boom", base.Add(time.Minute), base))
	got, err := b.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.WorkerID)
	assert.True(t, got.AvailableAt.Equal(base.Add(time.Minute)))

	_, err = b.ClaimNext(ctx, "w1", base.Add(30*time.Second))
	assert.ErrorIs(t, err, pipeline.ErrNoJob, "backoff not elapsed")

	_, err = b.ClaimNext(ctx, "w1", base.Add(time.Minute))
	require.NoError(t, err)
	fresh, err := b.EnqueueJob(ctx, contractJob("r1", 5, base.Add(time.Minute)))
	require.NoError(t, err)

	// the newer pending job supersedes the retry
	require.NoError(t, b.RetryJob(ctx, job.JobID, "boom", base.Add(2*time.Minute), base.Add(time.Minute)))
	got, err = b.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobCancelled, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	claimed, err := b.ClaimNext(ctx, "w1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, fresh.JobID, claimed.JobID)
	require.NoError(t, b.FailJob(ctx, claimed.JobID, "fatal", base.Add(time.Minute)))
	got, err = b.GetJob(ctx, claimed.JobID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "fatal", *got.ErrorMessage)
}

func testConcurrentClaims(t *testing.T, b backend) {
	ctx := context.Background()
	const jobs = 30
	for i := 0; i < jobs; i++ {
		_, err := b.EnqueueJob(ctx, contractJob(pipeline.NewJobID(), 5, base))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := b.ClaimNext(ctx, "w", base)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[job.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s", id)
	}
}

package store

import "strings"

// schemaTemplate is shared by both drivers; the {{...}} placeholders are
// replaced with driver column types.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS grammar_rules (
		rule_id     TEXT PRIMARY KEY,
		rule_name   TEXT NOT NULL UNIQUE,
		pattern     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		category    TEXT NOT NULL,
		description TEXT,
		version     TEXT NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  {{ts}} NOT NULL,
		updated_at  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grammar_extensions (
		extension_id TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		kind         TEXT NOT NULL,
		signature    TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL,
		description  TEXT,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   {{ts}} NOT NULL,
		updated_at   {{ts}} NOT NULL,
		UNIQUE (kind, name)
	)`,
	`CREATE TABLE IF NOT EXISTS attributes (
		attribute_id TEXT PRIMARY KEY,
		name         TEXT NOT NULL UNIQUE,
		value_type   TEXT NOT NULL,
		source       TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		dependencies {{json}} NOT NULL,
		rules        {{json}} NOT NULL,
		source_hash  TEXT NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		created_at   {{ts}} NOT NULL,
		updated_at   {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS compilation_jobs (
		job_id        TEXT PRIMARY KEY,
		rule_id       TEXT NOT NULL,
		artifact_kind TEXT NOT NULL,
		priority      INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 10),
		status        TEXT NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		max_retries   INTEGER NOT NULL,
		error_message TEXT,
		worker_id     TEXT,
		created_at    {{ts}} NOT NULL,
		updated_at    {{ts}} NOT NULL,
		available_at  {{ts}} NOT NULL,
		started_at    {{ts}},
		finished_at   {{ts}}
	)`,
	// at most one pending and one processing job per rule and kind
	`CREATE UNIQUE INDEX IF NOT EXISTS compilation_jobs_active_key
		ON compilation_jobs (rule_id, artifact_kind, status)
		WHERE status IN ('pending', 'processing')`,
	`CREATE INDEX IF NOT EXISTS compilation_jobs_claim
		ON compilation_jobs (status, priority, created_at)`,
	`CREATE TABLE IF NOT EXISTS compiled_artifacts (
		rule_id          TEXT NOT NULL,
		artifact_kind    TEXT NOT NULL,
		version          INTEGER NOT NULL,
		payload          {{bytes}},
		source_hash      TEXT NOT NULL,
		grammar_version  BIGINT NOT NULL,
		compiler_version TEXT NOT NULL,
		compiled_at      {{ts}} NOT NULL,
		valid            BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (rule_id, artifact_kind)
	)`,
}

func schemaStatements(driver Driver) []string {
	var r *strings.Replacer
	if driver == DriverPostgres {
		r = strings.NewReplacer("{{ts}}", "TIMESTAMPTZ", "{{json}}", "JSONB", "{{bytes}}", "BYTEA")
	} else {
		r = strings.NewReplacer("{{ts}}", "TIMESTAMP", "{{json}}", "TEXT", "{{bytes}}", "BLOB")
	}
	out := make([]string, len(schemaTemplate))
	for i, stmt := range schemaTemplate {
		out[i] = r.Replace(stmt)
	}
	return out
}

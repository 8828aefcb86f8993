// Package domain defines the persistence models for the index-job ledger and
// the value types shared between the API layer and the engine gateway. The
// ledger types are mapped with GORM; the search types are plain values owned
// by the request that produced them.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Job statuses. The ledger mirrors the engine's lifecycle: a job is created
// as queued, moves to running while the engine processes it, and ends in
// completed or failed. Active (queued/running) jobs block duplicate
// submissions for the same repository and ref.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// IndexJob is one accepted index submission. It records what the client asked
// for and the engine-side job it maps to, so status reads can be answered
// even when the engine is briefly unreachable.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), minted at submission.
//   - Repository: the repository URL or absolute path submitted for indexing.
//   - Ref: branch, tag, or commit; empty means the engine's default.
//   - Status: one of the JobStatus* constants.
//   - EngineJobID: the collaborator's identifier for this job.
//   - Chunks / Files: progress counters reported by the engine.
//   - Error: terminal failure summary reported by the engine, if any.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains rows for audit).
type IndexJob struct {
	ID          string         `json:"job_id"      gorm:"type:char(36);primaryKey"`
	Repository  string         `json:"repository"  gorm:"type:varchar(2048);not null;index:idx_repo_ref,priority:1"`
	Ref         string         `json:"ref"         gorm:"type:varchar(255);not null;default:'';index:idx_repo_ref,priority:2"`
	Status      string         `json:"status"      gorm:"type:varchar(16);not null;check:status IN ('queued','running','completed','failed')"`
	EngineJobID string         `json:"-"           gorm:"type:varchar(128);not null;default:''"`
	Chunks      int            `json:"chunks"      gorm:"not null;default:0"`
	Files       int            `json:"files"       gorm:"not null;default:0"`
	Error       string         `json:"error,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for IndexJob.
func (IndexJob) TableName() string { return "index_jobs" }

// Active reports whether the job still blocks a duplicate submission.
func (j *IndexJob) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// Idempotency records the outcome of a previously accepted index submission,
// keyed by (principal_id, key). Replaying the same key returns the original
// job without re-submitting to the engine.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	PrincipalID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_principal_key,priority:1"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_principal_key,priority:2"`
	JobID       string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// SearchResult is one ranked code chunk returned by the engine, already
// translated into the route's response schema.
type SearchResult struct {
	Repository string  `json:"repository"`
	Path       string  `json:"path"`
	Language   string  `json:"language,omitempty"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Package repo implements the persistence layer for the index-job ledger,
// backed by GORM. This file provides repository functions for the IndexJob
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a job is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated; translation into the API taxonomy
//     happens in the service layer.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/domain"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an insert lost to a uniqueness constraint: another
// active job for the same (repository, ref) already holds the row.
var ErrConflict = errors.New("conflicting row exists")

// CreateIndexJob inserts a new ledger row for an accepted submission.
// Returns ErrConflict when another active job for the same (repository, ref)
// was inserted concurrently (the ux_active_repo_ref index fired).
func CreateIndexJob(ctx context.Context, db *gorm.DB, repository, ref, engineJobID string) (*domain.IndexJob, error) {
	now := time.Now().UTC()
	job := &domain.IndexJob{
		ID:          uuid.NewString(),
		Repository:  repository,
		Ref:         ref,
		Status:      domain.JobStatusQueued,
		EngineJobID: engineJobID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return job, nil
}

// isUniqueViolation recognizes a unique-index failure. GORM only yields
// ErrDuplicatedKey when the dialect translates errors, and glebarez/sqlite
// often returns plain-text errors for UNIQUE violations, so both spellings
// of the raw message are matched as well.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// GetIndexJob fetches a job by ID, or ErrNotFound.
func GetIndexJob(ctx context.Context, db *gorm.DB, id string) (*domain.IndexJob, error) {
	var job domain.IndexJob
	err := db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ActiveIndexJob returns the queued or running job for (repository, ref),
// or ErrNotFound when no submission is currently in flight.
func ActiveIndexJob(ctx context.Context, db *gorm.DB, repository, ref string) (*domain.IndexJob, error) {
	var job domain.IndexJob
	err := db.WithContext(ctx).
		Where("repository = ? AND ref = ? AND status IN ?",
			repository, ref, []string{domain.JobStatusQueued, domain.JobStatusRunning}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateIndexJobProgress records the engine-reported state of a job.
// Returns ErrNotFound when the row does not exist.
func UpdateIndexJobProgress(ctx context.Context, db *gorm.DB, id, status string, files, chunks int, jobErr string) error {
	res := db.WithContext(ctx).Model(&domain.IndexJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"files":      files,
			"chunks":     chunks,
			"error":      jobErr,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountIndexJobs returns the total number of ledger rows (pagination support).
func CountIndexJobs(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.IndexJob{}).Count(&n).Error
	return n, err
}

// ListIndexJobsPage returns a page of jobs, newest first.
func ListIndexJobsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.IndexJob, error) {
	var jobs []domain.IndexJob
	err := db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

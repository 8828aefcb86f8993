package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/repo"
)

// StatusService answers index-job status reads from the local ledger,
// refreshing active jobs from the engine on demand. Safe for concurrent use.
type StatusService struct {
	DB      *gorm.DB
	Gateway EngineGateway
	Log     zerolog.Logger
}

// Get returns the current state of one index job.
//
// Terminal jobs are served straight from the ledger. Active jobs trigger a
// refresh against the engine; if the refresh fails the last persisted state
// is returned instead, since a transient engine outage must not make a known
// job unreadable. An unknown id is a not-found taxonomy error.
func (s *StatusService) Get(ctx context.Context, jobID string) (*domain.IndexJob, error) {
	job, err := repo.GetIndexJob(ctx, s.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, apierr.E(apierr.KindNotFound, "index job not found")
	}
	if err != nil {
		return nil, err
	}
	if !job.Active() || job.EngineJobID == "" {
		return job, nil
	}

	st, err := s.Gateway.JobStatus(ctx, job.EngineJobID)
	if err != nil {
		s.Log.Warn().Err(err).Str("job_id", job.ID).Msg("status refresh failed; serving persisted state")
		return job, nil
	}

	if st.State != job.Status || st.Chunks != job.Chunks || st.Files != job.Files {
		if err := repo.UpdateIndexJobProgress(ctx, s.DB, job.ID, st.State, st.Files, st.Chunks, st.Error); err != nil {
			s.Log.Warn().Err(err).Str("job_id", job.ID).Msg("persisting refreshed status failed")
		}
	}
	job.Status = st.State
	job.Chunks = st.Chunks
	job.Files = st.Files
	job.Error = st.Error
	return job, nil
}

// ListPage returns one page of jobs, newest first, plus the total count.
// Pages are 1-based; out-of-range values are clamped by the handler.
func (s *StatusService) ListPage(ctx context.Context, page, pageSize int) ([]domain.IndexJob, int64, error) {
	jobs, err := repo.ListIndexJobsPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	total, err := repo.CountIndexJobs(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

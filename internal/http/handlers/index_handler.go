// Index HTTP handlers.
//
// Endpoints:
//   - POST /index            (submit a repository for indexing, 202)
//   - GET  /index/jobs       (list jobs, paginated)
//   - GET  /index/jobs/{id}  (status of one job)
//
// Handlers are transport-thin: they validate input in one pass, call the
// services, and translate results into HTTP responses. All failure paths go
// through fail() so the envelope and status mapping stay uniform.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/http/middleware"
	"github.com/clafollett/codetriever/internal/repo"
	"github.com/clafollett/codetriever/internal/utils"
	"github.com/clafollett/codetriever/internal/validate"
)

// IndexService defines index submission operations consumed by the handlers.
// Implementations must be safe for concurrent use and honor the context.
type IndexService interface {
	// Submit accepts a repository for indexing and returns the ledger job.
	Submit(ctx context.Context, repository, ref string) (*domain.IndexJob, error)
}

// StatusService defines job status reads.
type StatusService interface {
	// Get returns the current state of one job, refreshing active jobs.
	Get(ctx context.Context, jobID string) (*domain.IndexJob, error)
	// ListPage returns a page of jobs, newest first, with the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.IndexJob, int64, error)
}

// SearchService defines semantic search execution.
type SearchService interface {
	// Search runs a query and returns ranked matches.
	Search(ctx context.Context, query, repository string, limit int) ([]domain.SearchResult, error)
}

// Handlers groups the HTTP endpoints for indexing, status, and search.
type Handlers struct {
	indexSvc  IndexService
	statusSvc StatusService
	searchSvc SearchService

	// db backs the idempotency record reads and writes; the records are a
	// transport concern, so they stay out of the services.
	db *gorm.DB
	// idemTTL bounds how long a replayed Idempotency-Key returns the
	// original job.
	idemTTL time.Duration
}

// New constructs a Handlers bound to the given services.
func New(indexSvc IndexService, statusSvc StatusService, searchSvc SearchService, db *gorm.DB, idemTTL time.Duration) *Handlers {
	return &Handlers{
		indexSvc:  indexSvc,
		statusSvc: statusSvc,
		searchSvc: searchSvc,
		db:        db,
		idemTTL:   idemTTL,
	}
}

// principalID returns the authenticated principal id set by the auth
// middleware, or "anonymous" in open mode.
func principalID(c *gin.Context) string {
	if v, ok := c.Get("principalID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}

//
// DTOs
//

// IndexRequest is the JSON payload for submitting a repository.
type IndexRequest struct {
	// Repository is an absolute path or a clonable URL.
	Repository string `json:"repository" binding:"required"`
	// Ref optionally pins a branch, tag, or commit.
	Ref string `json:"ref"`
}

// IndexAcceptedResponse acknowledges an accepted submission.
type IndexAcceptedResponse struct {
	JobID      string `json:"job_id"`
	Repository string `json:"repository"`
	Ref        string `json:"ref,omitempty"`
	Status     string `json:"status"`
}

// acceptedBody builds the 202 acknowledgement from a ledger job.
func acceptedBody(job *domain.IndexJob) IndexAcceptedResponse {
	return IndexAcceptedResponse{
		JobID:      job.ID,
		Repository: job.Repository,
		Ref:        job.Ref,
		Status:     job.Status,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
}

// JobListResponse is the paginated job listing body.
type JobListResponse struct {
	Jobs       []domain.IndexJob `json:"jobs"`
	Pagination Pagination        `json:"pagination"`
}

const (
	maxRepositoryRunes = 2048
	maxRefRunes        = 255
	defaultPageSize    = 20
	maxPageSize        = 100
)

// PostIndex handles POST /index.
//
// Validation reports every violation in one response. A well-formed request
// whose (repository, ref) already has an active job yields 409 with the
// blocking job id in the detail. When the request carries a known
// Idempotency-Key, the original job is returned without contacting the
// engine again.
func (h *Handlers) PostIndex(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Invalid(validate.Binding(err)))
		return
	}

	var v validate.Collector
	v.Required("repository", req.Repository)
	v.RepoLocator("repository", req.Repository)
	v.MaxRunes("repository", req.Repository, maxRepositoryRunes)
	v.MaxRunes("ref", req.Ref, maxRefRunes)
	if err := v.Err(); err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	pid := principalID(c)

	// Serve a replay of a previously accepted submission.
	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey && middleware.IsReplay(c) {
		if rec, err := repo.GetIdempotency(ctx, h.db, pid, key, time.Now().UTC()); err == nil {
			if job, err := h.statusSvc.Get(ctx, rec.JobID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusAccepted, acceptedBody(job))
				return
			}
		}
		// Fall through to a fresh submission when the record went stale.
	}

	job, err := h.indexSvc.Submit(ctx, req.Repository, req.Ref)
	if err != nil {
		fail(c, err)
		return
	}

	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		if _, err := repo.CreateIdempotency(ctx, h.db, pid, key, job.ID, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("recording idempotency key failed")
		}
	}

	ok(c, http.StatusAccepted, acceptedBody(job))
}

// GetIndexJob handles GET /index/jobs/{id}.
func (h *Handlers) GetIndexJob(c *gin.Context) {
	id := c.Param("id")

	var v validate.Collector
	v.Required("id", id)
	v.MaxRunes("id", id, 64)
	if err := v.Err(); err != nil {
		fail(c, err)
		return
	}

	job, err := h.statusSvc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, job)
}

// ListIndexJobs handles GET /index/jobs with page/page_size query params.
// Out-of-range values are clamped rather than rejected.
func (h *Handlers) ListIndexJobs(c *gin.Context) {
	page := utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize := utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)

	jobs, total, err := h.statusSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, JobListResponse{
		Jobs: jobs,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
		},
	})
}

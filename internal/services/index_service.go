// Package services – IndexService
//
// This file implements the IndexService, which governs index submissions.
// It enforces the single-active-job rule per (repository, ref), forwards
// accepted submissions to the retrieval engine through the gateway, and
// records each acceptance in the local ledger so status reads survive brief
// engine outages. Failures surface as taxonomy errors so handlers can map
// them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/engine"
	"github.com/clafollett/codetriever/internal/repo"
)

// EngineGateway is the gateway contract consumed by services. Satisfied by
// *engine.Gateway; narrowed here so tests can stub it.
type EngineGateway interface {
	SubmitIndex(ctx context.Context, req engine.IndexRequest) (*engine.IndexAccepted, error)
	Search(ctx context.Context, req engine.SearchRequest) ([]engine.Match, error)
	JobStatus(ctx context.Context, jobID string) (*engine.JobStatus, error)
}

// IndexService coordinates index submissions between the ledger and the
// engine gateway. Safe for concurrent use.
type IndexService struct {
	// DB is the GORM handle for the job ledger.
	DB *gorm.DB
	// Gateway invokes the retrieval engine.
	Gateway EngineGateway
}

// Submit accepts a repository for indexing.
//
// Semantics:
//   - At most one queued/running job may exist per (repository, ref);
//     a second submission yields a conflict carrying the blocking job id.
//     The pre-check catches the common case; a concurrent submission that
//     slips past it is stopped by the ledger's unique index over active
//     rows, so exactly one of the racers wins.
//   - The engine is only contacted after the conflict check passes, and the
//     ledger row is only written after the engine acknowledges, so a row
//     always corresponds to an engine-side job.
//   - Repository and ref arrive validated and normalized from the handler.
func (s *IndexService) Submit(ctx context.Context, repository, ref string) (*domain.IndexJob, error) {
	repository = strings.TrimSpace(repository)
	ref = strings.TrimSpace(ref)

	active, err := repo.ActiveIndexJob(ctx, s.DB, repository, ref)
	if err == nil {
		return nil, apierr.E(apierr.KindConflict, "an index job is already in flight for this repository and ref").
			WithDetail(map[string]string{"job_id": active.ID})
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	ack, err := s.Gateway.SubmitIndex(ctx, engine.IndexRequest{Repository: repository, Ref: ref})
	if err != nil {
		return nil, err
	}

	job, err := repo.CreateIndexJob(ctx, s.DB, repository, ref, ack.JobID)
	if errors.Is(err, repo.ErrConflict) {
		// Lost a race with a concurrent submission for the same target.
		return nil, s.conflict(ctx, repository, ref)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// conflict builds the duplicate-submission error, attaching the winning
// job's id when it can still be read.
func (s *IndexService) conflict(ctx context.Context, repository, ref string) error {
	e := apierr.E(apierr.KindConflict, "an index job is already in flight for this repository and ref")
	if active, err := repo.ActiveIndexJob(ctx, s.DB, repository, ref); err == nil {
		e = e.WithDetail(map[string]string{"job_id": active.ID})
	}
	return e
}

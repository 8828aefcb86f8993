// Package engine defines the narrow contract to the retrieval engine
// collaborator and the gateway that invokes it on behalf of routes.
//
// The engine itself (chunking, embedding, vector storage, ranking) is a
// separate system consumed over a small interface. This package owns two
// things only: the typed operations the API needs from it, and the
// translation of every possible collaborator outcome into the closed error
// taxonomy before it crosses back into the transport layer.
package engine

import (
	"context"
	"fmt"
)

// IndexRequest asks the engine to (re)index a repository at a given ref.
type IndexRequest struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref,omitempty"`
}

// IndexAccepted is the engine's acknowledgement of an index submission.
type IndexAccepted struct {
	JobID string `json:"job_id"`
}

// SearchRequest runs a semantic query across indexed code.
type SearchRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	Repository string `json:"repository,omitempty"`
}

// Match is one ranked chunk returned by the engine.
type Match struct {
	Repository string  `json:"repository"`
	Path       string  `json:"path"`
	Language   string  `json:"language"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// JobStatus reports the engine-side progress of an index job.
type JobStatus struct {
	JobID  string `json:"job_id"`
	State  string `json:"state"` // queued|running|completed|failed
	Chunks int    `json:"chunks"`
	Files  int    `json:"files"`
	Error  string `json:"error,omitempty"`
}

// Client is the collaborator interface. Implementations must honor the
// context for cancellation and deadlines and must be safe for concurrent use.
//
// Failure signals: implementations return *StatusError for non-2xx engine
// responses, *DecodeError when the engine's response cannot be parsed, and
// raw transport errors (net.Error and friends) otherwise. The Gateway owns
// mapping all of these into the taxonomy; callers above the Gateway never
// see them.
type Client interface {
	// SubmitIndex asks the engine to start indexing a repository.
	SubmitIndex(ctx context.Context, req IndexRequest) (*IndexAccepted, error)
	// Search runs a semantic query and returns ranked matches.
	Search(ctx context.Context, req SearchRequest) ([]Match, error)
	// JobStatus fetches the current state of an engine-side index job.
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

// StatusError is the collaborator's non-2xx failure signal. Detail is a short
// diagnostic extracted from the engine's response body, for logs only.
type StatusError struct {
	Code   int
	Detail string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("engine returned status %d", e.Code)
	}
	return fmt.Sprintf("engine returned status %d: %s", e.Code, e.Detail)
}

// DecodeError signals a malformed collaborator response: the engine answered
// 2xx but the body did not match the agreed schema. This is a contract
// violation, not a client error.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string { return fmt.Sprintf("malformed engine response: %v", e.Err) }

// Unwrap exposes the underlying parse error.
func (e *DecodeError) Unwrap() error { return e.Err }
